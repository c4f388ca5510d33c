package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/planwatch/dbopen"
	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
	"github.com/hazyhaar/planwatch/retry"
)

// Comment is one stored neighbour comment.
type Comment struct {
	// ID is the surrogate row id assigned by the database.
	ID            int64        `json:"id,omitempty"`
	Council       string       `json:"council"`
	CommentID     string       `json:"comment_id"`
	ApplicationID string       `json:"application_id"`
	Address       portal.Field `json:"address"`
	Stance        portal.Field `json:"stance"`
	// Date is the submission date as displayed on insert, and as an ISO
	// date (2006-01-02) when read back.
	Date portal.Field `json:"date"`
	// Text is required; an unreadable body is stored as "".
	Text    string    `json:"comment_text"`
	AddDate time.Time `json:"add_date"`
	Lat     *float64  `json:"lat,omitempty"`
	Lon     *float64  `json:"lon,omitempty"`
}

// Key identifies a stored comment.
type Key struct {
	CommentID     string `json:"comment_id"`
	ApplicationID string `json:"application_id"`
}

func (k Key) String() string { return k.ApplicationID + "#" + k.CommentID }

// Key returns the comment's unique key.
func (c Comment) Key() Key { return Key{CommentID: c.CommentID, ApplicationID: c.ApplicationID} }

// HasCoordinates reports whether both lat and lon are set.
func (c Comment) HasCoordinates() bool { return c.Lat != nil && c.Lon != nil }

// Outcome is the result of one Insert.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeInserted
	// OutcomeDuplicate means the key was already stored; nothing changed.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// Insert stores c once. A missing CommentID is replaced by a generated id.
// A uniqueness violation is a successful no-op (OutcomeDuplicate, nil).
// Other errors are retried per the configured policy; exhaustion returns
// an error wrapping ErrInsertFailed.
func (s *Store) Insert(ctx context.Context, c Comment) (Outcome, error) {
	if err := s.ready(); err != nil {
		return OutcomeFailed, err
	}
	c.Council = portal.Canonical(c.Council)
	if strings.TrimSpace(c.CommentID) == "" {
		c.CommentID = s.newID()
	}
	date, ok := ParseDate(c.Date)
	if !ok {
		s.logger.Warn("store: unparsed comment date stored as null",
			"key", c.Key().String(), "date", c.Date.Or(""))
	}
	addDate := s.now().UTC().Format(time.DateOnly)
	query := s.q(insertSQL)

	err := retry.Do(ctx, s.policy, s.sleeper,
		func(err error) bool { return !dbopen.IsUniqueViolation(err) },
		func(attempt int) error {
			_, err := s.db.ExecContext(ctx, query,
				c.Council, c.CommentID, c.ApplicationID,
				nullIfEmpty(c.Address), nullIfEmpty(c.Stance), date,
				c.Text, addDate)
			if err != nil && !dbopen.IsUniqueViolation(err) {
				s.logger.Warn("store: insert attempt failed",
					"env", s.env, "key", c.Key().String(), "attempt", attempt, "error", err)
			}
			return err
		})
	switch {
	case err == nil:
		return OutcomeInserted, nil
	case dbopen.IsUniqueViolation(err):
		s.logger.Debug("store: duplicate skipped", "env", s.env, "key", c.Key().String())
		return OutcomeDuplicate, nil
	default:
		return OutcomeFailed, fmt.Errorf("store: insert %s: %w: %w", c.Key(), ErrInsertFailed, err)
	}
}

func nullIfEmpty(f portal.Field) sql.NullString {
	v, ok := f.Value()
	if !ok || strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

// dateSentinels are the literal strings upstream code uses for "no date".
var dateSentinels = map[string]bool{
	"": true, "none": true, "nan": true, "nat": true, "null": true,
}

var dateLayouts = []string{
	time.DateOnly,
	"Mon 02 Jan 2006",
	"Mon 2 Jan 2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"02/01/2006",
	"Monday 02 January 2006",
	"02 January 2006",
	time.RFC3339,
}

// ParseDate normalises a displayed submission date to an ISO date. Absent
// fields and sentinel strings map to NULL with ok = true; text that matches
// no known layout maps to NULL with ok = false.
func ParseDate(f portal.Field) (date sql.NullString, ok bool) {
	v, present := f.Value()
	v = strings.Join(strings.Fields(v), " ")
	if !present || dateSentinels[strings.ToLower(v)] {
		return sql.NullString{}, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return sql.NullString{String: t.Format(time.DateOnly), Valid: true}, true
		}
	}
	return sql.NullString{}, false
}
