package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// SQLStore keeps documents as rows of a 'blobs' table. The row version is
// a counter bumped by every write. Queries use '?' placeholders and plain
// INSERT/UPDATE so the same statements run on MySQL and SQLite.
type SQLStore struct {
	DB *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{DB: db}
}

const createBlobsTable = `
	CREATE TABLE IF NOT EXISTS blobs (
		path       VARCHAR(255) NOT NULL PRIMARY KEY,
		content    LONGBLOB     NOT NULL,
		version    BIGINT       NOT NULL,
		message    VARCHAR(512) NOT NULL,
		updated_at BIGINT       NOT NULL
	)`

// Migrate creates the 'blobs' table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, createBlobsTable); err != nil {
		return fmt.Errorf("failed to create blobs table: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, path string) (*Document, error) {
	var (
		content []byte
		version int64
	)
	err := s.DB.QueryRowContext(ctx, "SELECT content, version FROM blobs WHERE path = ?", path).Scan(&content, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", path, err)
	}
	return &Document{Data: content, Version: strconv.FormatInt(version, 10)}, nil
}

func (s *SQLStore) Put(ctx context.Context, path string, data []byte, expectedVersion, message string) (string, error) {
	now := time.Now().UnixNano()

	// 1. --- Create ---
	if expectedVersion == "" {
		query := `
			INSERT INTO blobs (path, content, version, message, updated_at)
			VALUES (?, ?, 1, ?, ?)`
		if _, err := s.DB.ExecContext(ctx, query, path, data, message, now); err != nil {
			// Duplicate-key errors differ per driver; asking again is portable.
			if exists, existsErr := s.exists(ctx, path); existsErr == nil && exists {
				return "", ErrVersionConflict
			}
			return "", fmt.Errorf("failed to create blob %s: %w", path, err)
		}
		return "1", nil
	}

	// 2. --- Compare-and-set update ---
	expected, err := strconv.ParseInt(expectedVersion, 10, 64)
	if err != nil {
		// A token this store never issued cannot match.
		expected = -1
	}

	query := `
		UPDATE blobs
		SET content = ?, version = version + 1, message = ?, updated_at = ?
		WHERE path = ? AND version = ?`
	result, err := s.DB.ExecContext(ctx, query, data, message, now, path, expected)
	if err != nil {
		return "", fmt.Errorf("failed to update blob %s: %w", path, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rowsAffected == 0 {
		exists, err := s.exists(ctx, path)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", ErrNotFound
		}
		return "", ErrVersionConflict
	}

	return strconv.FormatInt(expected+1, 10), nil
}

func (s *SQLStore) exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, "SELECT 1 FROM blobs WHERE path = ?", path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up blob %s: %w", path, err)
	}
	return true, nil
}
