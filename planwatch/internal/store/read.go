package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
)

// Filter selects comments for Read. The zero Filter selects every row.
type Filter struct {
	// Council restricts to one council; "" means all.
	Council string `json:"council,omitempty"`
	// ApplicationID restricts to one application.
	ApplicationID string `json:"application_id,omitempty"`
	// MissingCoordinates keeps rows with lat or lon unset.
	MissingCoordinates bool `json:"missing_coordinates,omitempty"`
	// WithAddress keeps rows with a non-empty address.
	WithAddress bool `json:"with_address,omitempty"`
	// Limit caps the number of rows; 0 means no limit.
	Limit int `json:"limit,omitempty"`
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Council != "" {
		conds = append(conds, "council = ?")
		args = append(args, portal.Canonical(f.Council))
	}
	if f.ApplicationID != "" {
		conds = append(conds, "application_id = ?")
		args = append(args, f.ApplicationID)
	}
	if f.MissingCoordinates {
		conds = append(conds, "(lat IS NULL OR lon IS NULL)")
	}
	if f.WithAddress {
		conds = append(conds, "address IS NOT NULL AND address <> ''")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Read returns the comments matching f in insertion order.
func (s *Store) Read(ctx context.Context, f Filter) ([]Comment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	where, args := f.where()
	query := "SELECT " + columns + " FROM comments" + where + " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: read: %w", err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("store: read: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanComment(rows *sql.Rows) (Comment, error) {
	var (
		c               Comment
		address, stance sql.NullString
		date, addDate   dateValue
		lat, lon        sql.NullFloat64
	)
	if err := rows.Scan(&c.ID, &c.Council, &c.CommentID, &c.ApplicationID,
		&address, &stance, &date, &c.Text, &addDate, &lat, &lon); err != nil {
		return Comment{}, err
	}
	c.Address = portal.FromNull(address)
	c.Stance = portal.FromNull(stance)
	c.Date = portal.FromNull(date.NullString)
	if addDate.Valid {
		c.AddDate, _ = time.Parse(time.DateOnly, addDate.String)
	}
	if lat.Valid {
		c.Lat = &lat.Float64
	}
	if lon.Valid {
		c.Lon = &lon.Float64
	}
	return c, nil
}

// dateValue scans a DATE column whichever way the driver returns it.
type dateValue struct{ sql.NullString }

func (d *dateValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.NullString = sql.NullString{}
	case time.Time:
		d.NullString = sql.NullString{String: v.Format(time.DateOnly), Valid: true}
	case string:
		d.NullString = sql.NullString{String: trimDate(v), Valid: true}
	case []byte:
		d.NullString = sql.NullString{String: trimDate(string(v)), Valid: true}
	default:
		return fmt.Errorf("store: unsupported date value %T", src)
	}
	return nil
}

func trimDate(s string) string {
	if len(s) > len(time.DateOnly) {
		return s[:len(time.DateOnly)]
	}
	return s
}

// Table is a rendered projection of comments: column names and one
// string cell per column and row. Absent values render as "".
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// ViewColumns are the columns of a Table, in order.
var ViewColumns = []string{
	"id", "council", "comment_id", "application_id", "address",
	"stance", "date", "comment_text", "add_date", "lat", "lon",
}

// ReadTable is Read projected to a Table.
func (s *Store) ReadTable(ctx context.Context, f Filter) (*Table, error) {
	comments, err := s.Read(ctx, f)
	if err != nil {
		return nil, err
	}
	t := &Table{Columns: ViewColumns, Rows: make([][]string, 0, len(comments))}
	for _, c := range comments {
		addDate := ""
		if !c.AddDate.IsZero() {
			addDate = c.AddDate.Format(time.DateOnly)
		}
		t.Rows = append(t.Rows, []string{
			strconv.FormatInt(c.ID, 10), c.Council, c.CommentID, c.ApplicationID,
			c.Address.Or(""), c.Stance.Or(""), c.Date.Or(""), c.Text, addDate,
			formatCoord(c.Lat), formatCoord(c.Lon),
		})
	}
	return t, nil
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 7, 64)
}

// CountFor counts the stored comments of one application.
func (s *Store) CountFor(ctx context.Context, council, applicationID string) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM comments WHERE council = ? AND application_id = ?`),
		portal.Canonical(council), applicationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count %s/%s: %w", council, applicationID, err)
	}
	return n, nil
}

// ExistsFor reports whether any comment of the application is stored.
func (s *Store) ExistsFor(ctx context.Context, council, applicationID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT 1 FROM comments WHERE council = ? AND application_id = ? LIMIT 1`),
		portal.Canonical(council), applicationID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("store: exists %s/%s: %w", council, applicationID, err)
	}
	return true, nil
}
