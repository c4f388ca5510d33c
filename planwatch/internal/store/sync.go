package store

import (
	"context"
	"errors"
	"fmt"
)

// SyncStats summarises a Sync.
type SyncStats struct {
	Read       int `json:"read"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
	// Located counts rows whose coordinates were copied.
	Located int `json:"located"`
}

// Sync copies every row of src into dst through Insert, so repeated syncs
// only add what dst lacks. Coordinates held by src fill a dst row that has
// none, whether it was just inserted or already there. add_date records when
// dst first saw the row, not when src did. Individual insert failures are
// counted and skipped.
func Sync(ctx context.Context, src, dst *Store) (SyncStats, error) {
	var st SyncStats
	if err := src.ready(); err != nil {
		return st, fmt.Errorf("store: sync source: %w", err)
	}
	if err := dst.ready(); err != nil {
		return st, fmt.Errorf("store: sync target: %w", err)
	}
	if err := dst.EnsureSchema(ctx); err != nil {
		return st, err
	}
	rows, err := src.Read(ctx, Filter{})
	if err != nil {
		return st, err
	}
	for _, c := range rows {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Read++
		c.ID = 0
		out, err := dst.Insert(ctx, c)
		switch {
		case errors.Is(err, ErrInsertFailed):
			st.Failed++
			dst.logger.Warn("store: sync insert failed", "from", src.env, "to", dst.env,
				"key", c.Key().String(), "error", err)
		case err != nil:
			return st, err
		case out == OutcomeDuplicate:
			st.Duplicates++
		default:
			st.Inserted++
		}
		if err == nil && c.HasCoordinates() {
			ok, err := dst.UpdateCoordinates(ctx, c.Key(), *c.Lat, *c.Lon)
			if err != nil {
				return st, err
			}
			if ok {
				st.Located++
			}
		}
	}
	dst.logger.Info("store: sync complete", "from", src.env, "to", dst.env,
		"read", st.Read, "inserted", st.Inserted, "duplicates", st.Duplicates, "failed", st.Failed,
		"located", st.Located)
	return st, nil
}
