package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/malu/artifact"
)

// Keys of the recording slots.
const (
	KeyVideo    = "video"
	KeyMetadata = "metadata"
)

// ErrNotFound is returned when a key holds no value.
var ErrNotFound = errors.New("store: not found")

// Put stores value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte, mimeType string) error {
	return s.RunTx(ctx, func(tx *sql.Tx) error {
		return put(ctx, tx, key, value, mimeType)
	})
}

func put(ctx context.Context, tx *sql.Tx, key string, value []byte, mimeType string) error {
	if value == nil {
		value = []byte{}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO blobs (key, value, mime_type, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, mime_type = excluded.mime_type, updated_at = excluded.updated_at`,
		key, value, mimeType, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// Get returns the value and mime type stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	var value []byte
	var mime string
	err := s.db.QueryRowContext(ctx,
		`SELECT value, mime_type FROM blobs WHERE key = ?`, key).Scan(&value, &mime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("store: get %s: %w", key, err)
	}
	return value, mime, nil
}

// SaveArtifact replaces the stored recording in one transaction.
func (s *Store) SaveArtifact(ctx context.Context, a *artifact.Artifact) error {
	meta, err := artifact.Encode(a.Metadata)
	if err != nil {
		return fmt.Errorf("store: encode metadata: %w", err)
	}
	err = s.RunTx(ctx, func(tx *sql.Tx) error {
		if err := put(ctx, tx, KeyVideo, a.Video, a.MimeType); err != nil {
			return err
		}
		return put(ctx, tx, KeyMetadata, meta, "application/json")
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "store: artifact saved",
		"video_bytes", len(a.Video), "samples", len(a.Samples), "geometry", a.Geometry != nil)
	return nil
}

// SaveTrace replaces the metadata record and clears the video slot in one
// transaction, so a trace is never paired with a previous recording's video.
func (s *Store) SaveTrace(ctx context.Context, md artifact.Metadata) error {
	meta, err := artifact.Encode(md)
	if err != nil {
		return fmt.Errorf("store: encode metadata: %w", err)
	}
	err = s.RunTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, KeyVideo); err != nil {
			return fmt.Errorf("store: clear video: %w", err)
		}
		return put(ctx, tx, KeyMetadata, meta, "application/json")
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "store: trace saved without video", "samples", len(md.Samples))
	return nil
}

// LoadArtifact reads the recording back. Samples are returned sorted by
// timestamp and either metadata shape is accepted. A missing metadata record
// yields no samples and no geometry; a missing video is ErrNotFound.
func (s *Store) LoadArtifact(ctx context.Context) (*artifact.Artifact, error) {
	video, mime, err := s.Get(ctx, KeyVideo)
	if err != nil {
		return nil, err
	}
	raw, _, err := s.Get(ctx, KeyMetadata)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	md, err := artifact.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("store: load metadata: %w", err)
	}
	md.Samples = artifact.SortSamples(md.Samples)
	return &artifact.Artifact{Video: video, MimeType: mime, Metadata: md}, nil
}
