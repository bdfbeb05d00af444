package blobstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
)

// GitHubConfig addresses a repository whose files hold the documents.
type GitHubConfig struct {
	Token  string
	Repo   string // "owner/name"
	Branch string
	// APIURL overrides https://api.github.com/ (GitHub Enterprise, tests).
	APIURL string
}

// GitHubStore keeps each document as a file committed through the
// repository Contents API. The file's blob SHA is the version token.
type GitHubStore struct {
	client *github.Client
	owner  string
	repo   string
	branch string
}

func NewGitHubStore(cfg GitHubConfig, httpClient *http.Client) (*GitHubStore, error) {
	owner, repo, ok := strings.Cut(cfg.Repo, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("github store: repo must be owner/name, got %q", cfg.Repo)
	}

	client := github.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.APIURL != "" {
		base := cfg.APIURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("github store: bad api url: %w", err)
		}
		client.BaseURL = u
	}

	return &GitHubStore{client: client, owner: owner, repo: repo, branch: cfg.Branch}, nil
}

func (s *GitHubStore) Get(ctx context.Context, path string) (*Document, error) {
	var opts *github.RepositoryContentGetOptions
	if s.branch != "" {
		opts = &github.RepositoryContentGetOptions{Ref: s.branch}
	}

	file, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, path, opts)
	if err != nil {
		if statusOf(resp) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("github get %s: %w", path, err)
	}
	if file == nil {
		return nil, fmt.Errorf("github get %s: path is a directory", path)
	}

	// Files over 1 MB come back without inline content; read the blob.
	if file.GetEncoding() == "none" {
		data, resp, err := s.client.Git.GetBlobRaw(ctx, s.owner, s.repo, file.GetSHA())
		if err != nil {
			if statusOf(resp) == http.StatusNotFound {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("github get %s: blob %s: %w", path, file.GetSHA(), err)
		}
		return &Document{Data: data, Version: file.GetSHA()}, nil
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("github get %s: decode content: %w", path, err)
	}
	return &Document{Data: []byte(content), Version: file.GetSHA()}, nil
}

func (s *GitHubStore) Put(ctx context.Context, path string, data []byte, expectedVersion, message string) (string, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: data,
	}
	if s.branch != "" {
		opts.Branch = github.String(s.branch)
	}

	var (
		res  *github.RepositoryContentResponse
		resp *github.Response
		err  error
	)
	if expectedVersion == "" {
		res, resp, err = s.client.Repositories.CreateFile(ctx, s.owner, s.repo, path, opts)
	} else {
		opts.SHA = github.String(expectedVersion)
		res, resp, err = s.client.Repositories.UpdateFile(ctx, s.owner, s.repo, path, opts)
	}
	if err != nil {
		switch statusOf(resp) {
		case http.StatusConflict, http.StatusUnprocessableEntity:
			// 422 is what GitHub answers when a create omits the sha of an existing file.
			return "", ErrVersionConflict
		case http.StatusNotFound:
			return "", ErrNotFound
		}
		return "", fmt.Errorf("github put %s: %w", path, err)
	}
	if res == nil || res.Content == nil {
		return "", fmt.Errorf("github put %s: response carried no content sha", path)
	}
	return res.Content.GetSHA(), nil
}

func statusOf(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
