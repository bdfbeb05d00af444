package blobstore

import (
	"context"
	"strconv"
	"sync"
)

// Commit records one accepted Put.
type Commit struct {
	Path    string
	Version string
	Message string
}

// MemoryStore keeps documents in process memory. It backs local
// development and the tests.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]memoryDoc
	seq     int64
	commits []Commit
}

type memoryDoc struct {
	data    []byte
	version string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryDoc)}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return &Document{Data: append([]byte(nil), doc.data...), Version: doc.version}, nil
}

func (s *MemoryStore) Put(ctx context.Context, path string, data []byte, expectedVersion, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.docs[path]
	switch {
	case expectedVersion == "" && exists:
		return "", ErrVersionConflict
	case expectedVersion != "" && !exists:
		return "", ErrNotFound
	case expectedVersion != "" && current.version != expectedVersion:
		return "", ErrVersionConflict
	}

	s.seq++
	version := strconv.FormatInt(s.seq, 10)
	s.docs[path] = memoryDoc{data: append([]byte(nil), data...), version: version}
	s.commits = append(s.commits, Commit{Path: path, Version: version, Message: message})
	return version, nil
}

// Commits returns the accepted writes in order.
func (s *MemoryStore) Commits() []Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Commit(nil), s.commits...)
}
