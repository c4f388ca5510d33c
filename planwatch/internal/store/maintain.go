package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/planwatch/dbopen"
	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
)

// DeduplicateByContent keeps one row per (council, application_id, address,
// stance, date, comment_text), the one with the lowest comment_id, and
// deletes the others. It returns the number of rows removed.
func (s *Store) DeduplicateByContent(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int64
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, dedupSQL)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: deduplicate: %w", err)
	}
	s.logger.Info("store: content duplicates removed", "env", s.env, "removed", n)
	return n, nil
}

// UpdateCoordinates sets lat/lon of the comment identified by key when
// neither is set yet. It reports whether a row was updated; a second call
// for the same key is a no-op.
func (s *Store) UpdateCoordinates(ctx context.Context, key Key, lat, lon float64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	res, err := dbopen.Exec(ctx, s.db, s.q(updateCoordsSQL), lat, lon, key.CommentID, key.ApplicationID)
	if err != nil {
		return false, fmt.Errorf("store: update coordinates %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: update coordinates %s: %w", key, err)
	}
	return n > 0, nil
}

// DeleteAll removes every comment. confirmed must be true.
func (s *Store) DeleteAll(ctx context.Context, confirmed bool) (int64, error) {
	return s.destroy(ctx, confirmed, "delete all", `DELETE FROM comments`)
}

// DeleteByCouncil removes the comments of one council. confirmed must be
// true.
func (s *Store) DeleteByCouncil(ctx context.Context, council string, confirmed bool) (int64, error) {
	return s.destroy(ctx, confirmed, "delete council",
		`DELETE FROM comments WHERE council = ?`, portal.Canonical(council))
}

// DeleteByID removes the row with surrogate id. confirmed must be true.
func (s *Store) DeleteByID(ctx context.Context, id int64, confirmed bool) (int64, error) {
	return s.destroy(ctx, confirmed, "delete id", `DELETE FROM comments WHERE id = ?`, id)
}

// Drop drops the comments table. confirmed must be true.
func (s *Store) Drop(ctx context.Context, confirmed bool) error {
	_, err := s.destroy(ctx, confirmed, "drop", `DROP TABLE IF EXISTS comments`)
	return err
}

func (s *Store) destroy(ctx context.Context, confirmed bool, op, query string, args ...any) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if !confirmed {
		s.logger.Info("store: destructive operation declined", "env", s.env, "op", op)
		return 0, fmt.Errorf("store: %s: %w", op, ErrNotConfirmed)
	}
	res, err := dbopen.Exec(ctx, s.db, s.q(query), args...)
	if err != nil {
		return 0, fmt.Errorf("store: %s: %w", op, err)
	}
	n, _ := res.RowsAffected()
	s.logger.Warn("store: destructive operation executed", "env", s.env, "op", op, "rows", n)
	return n, nil
}
