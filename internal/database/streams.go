// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/streampulse/streampulse/internal/models"
)

// ErrStreamNotFound is returned when no stream matches the lookup key. It is
// terminal: callers must not retry the operation that produced it.
var ErrStreamNotFound = errors.New("stream not found")

// StreamStore persists stream state in PostgreSQL.
type StreamStore struct {
	db *sql.DB
}

// NewStreamStore creates a StreamStore backed by db.
func NewStreamStore(db *sql.DB) *StreamStore {
	return &StreamStore{db: db}
}

const streamColumns = `id, user_id, name, is_live, viewer_count, ingest_id, category, created_at, updated_at`

func scanStream(row interface{ Scan(...any) error }) (*models.Stream, error) {
	s := &models.Stream{}
	err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.IsLive, &s.ViewerCount,
		&s.IngestID, &s.Category, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan stream: %w", err)
	}
	return s, nil
}

// GetByID fetches a stream by its primary key.
func (s *StreamStore) GetByID(ctx context.Context, id string) (*models.Stream, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE id = $1`, id)
	return scanStream(row)
}

// GetByIngestID fetches the stream bound to a media-ingest identifier.
func (s *StreamStore) GetByIngestID(ctx context.Context, ingestID string) (*models.Stream, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE ingest_id = $1`, ingestID)
	return scanStream(row)
}

// ListLive returns currently live streams, optionally filtered by category,
// ordered by viewer count descending.
func (s *StreamStore) ListLive(ctx context.Context, category string) ([]*models.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE is_live`
	args := []any{}
	if category != "" {
		query += ` AND category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY viewer_count DESC, updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list live streams: %w", err)
	}
	defer rows.Close()

	var streams []*models.Stream
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		streams = append(streams, stream)
	}
	return streams, rows.Err()
}

// ListByUser returns all streams owned by a user.
func (s *StreamStore) ListByUser(ctx context.Context, userID string) ([]*models.Stream, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams for user: %w", err)
	}
	defer rows.Close()

	var streams []*models.Stream
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		streams = append(streams, stream)
	}
	return streams, rows.Err()
}

// SetLive transitions a stream's live status. The transition carries the
// event's occurrence time; a transition older than the stored row's
// updated_at by more than threshold is considered stale and skipped, so
// out-of-order start/end webhooks cannot leave a dead stream marked live.
//
// Going offline resets the viewer count to zero.
//
// Returns the resulting stream row and whether the transition was applied.
func (s *StreamStore) SetLive(ctx context.Context, id string, live bool, occurredAt time.Time, threshold time.Duration) (*models.Stream, bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE id = $1 FOR UPDATE`, id)
	current, err := scanStream(row)
	if err != nil {
		return nil, false, err
	}

	if !recentEnough(occurredAt, current.UpdatedAt, threshold) {
		// Stale transition: the row has newer information already.
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return current, false, nil
	}

	if current.IsLive == live {
		// Duplicate delivery of the same transition. Touch nothing so the
		// caller can skip invalidation and publication.
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return current, false, nil
	}

	viewers := current.ViewerCount
	if !live {
		viewers = 0
	}

	row = tx.QueryRowContext(ctx,
		`UPDATE streams SET is_live = $2, viewer_count = $3, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+streamColumns, id, live, viewers)
	updated, err := scanStream(row)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return updated, true, nil
}

// AdjustViewers applies a viewer count delta with a floor of zero. The
// adjustment is a single atomic UPDATE so concurrent deltas serialize on the
// row without an explicit lock.
//
// Returns the resulting stream row and whether the stored count changed.
func (s *StreamStore) AdjustViewers(ctx context.Context, id string, delta int) (*models.Stream, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`WITH prev AS (
		     SELECT viewer_count FROM streams WHERE id = $1 FOR UPDATE
		 )
		 UPDATE streams
		 SET viewer_count = GREATEST(0, streams.viewer_count + $2), updated_at = NOW()
		 FROM prev
		 WHERE streams.id = $1
		 RETURNING streams.id, streams.user_id, streams.name, streams.is_live,
		           streams.viewer_count, streams.ingest_id, streams.category,
		           streams.created_at, streams.updated_at,
		           prev.viewer_count <> streams.viewer_count AS changed`,
		id, delta)

	s2 := &models.Stream{}
	var changed bool
	err := row.Scan(&s2.ID, &s2.UserID, &s2.Name, &s2.IsLive, &s2.ViewerCount,
		&s2.IngestID, &s2.Category, &s2.CreatedAt, &s2.UpdatedAt, &changed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrStreamNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to adjust viewer count: %w", err)
	}
	return s2, changed, nil
}

// recentEnough reports whether an event occurring at occurredAt should be
// applied over a row last updated at updatedAt. The threshold absorbs clock
// skew between the ingest system and the database.
func recentEnough(occurredAt, updatedAt time.Time, threshold time.Duration) bool {
	return !occurredAt.Before(updatedAt.Add(-threshold))
}
