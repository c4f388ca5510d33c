package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/planwatch/dbopen"
	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
	"github.com/hazyhaar/planwatch/retry"
)

func testStore(t *testing.T, opts ...Option) (*Store, *retry.Recorder) {
	t.Helper()
	rec := &retry.Recorder{}
	opts = append([]Option{
		WithSleeper(rec),
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }),
	}, opts...)
	s := New(dbopen.OpenMemory(t), Config{Env: "test"}, opts...)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s, rec
}

func sample(id, text string) Comment {
	return Comment{
		Council:       "Newham",
		CommentID:     id,
		ApplicationID: "24/12345/FUL",
		Address:       portal.Present("10 Example Road, London, SW1A 1AA"),
		Stance:        portal.Present("Objects"),
		Date:          portal.Present("Mon 15 Jan 2024"),
		Text:          text,
	}
}

func TestInsertIdempotent(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	c := sample("24/12345/FUL_1", "Too tall.")

	out, err := s.Insert(ctx, c)
	if err != nil || out != OutcomeInserted {
		t.Fatalf("first insert = %v, %v", out, err)
	}
	out, err = s.Insert(ctx, c)
	if err != nil || out != OutcomeDuplicate {
		t.Fatalf("second insert = %v, %v; want duplicate, nil", out, err)
	}
	n, err := s.CountFor(ctx, "newham", c.ApplicationID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestInsertStoresNormalisedRow(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	if _, err := s.Insert(ctx, sample("a_1", "Too tall.")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Read(ctx, Filter{Council: " NEWHAM "})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d, want 1", len(got))
	}
	c := got[0]
	if c.Council != "newham" {
		t.Errorf("council = %q, want newham", c.Council)
	}
	if d := c.Date.Or(""); d != "2024-01-15" {
		t.Errorf("date = %q, want 2024-01-15", d)
	}
	if c.AddDate.Format(time.DateOnly) != "2024-03-01" {
		t.Errorf("add_date = %v", c.AddDate)
	}
	if c.Lat != nil || c.Lon != nil {
		t.Errorf("coordinates set on insert: %v %v", c.Lat, c.Lon)
	}
}

func TestInsertGeneratesID(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	c := sample("", "no id")
	if _, err := s.Insert(ctx, c); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Read(ctx, Filter{})
	if len(got) != 1 || len(got[0].CommentID) != 22 {
		t.Fatalf("generated id = %+v", got)
	}
}

func TestInsertAbsentFields(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	for i, date := range []portal.Field{portal.Absent("x"), portal.Present("None"), portal.Present("nan"), portal.Present("")} {
		c := Comment{Council: "lambeth", CommentID: string(rune('a' + i)), ApplicationID: "21/00343/FUL", Date: date}
		if out, err := s.Insert(ctx, c); err != nil || out != OutcomeInserted {
			t.Fatalf("insert %d = %v, %v", i, out, err)
		}
	}
	got, _ := s.Read(ctx, Filter{Council: "lambeth"})
	for _, c := range got {
		if c.Date.IsPresent() || c.Address.IsPresent() || c.Stance.IsPresent() {
			t.Errorf("%s: absent fields stored as values: %+v", c.CommentID, c)
		}
		if c.Text != "" {
			t.Errorf("text = %q, want empty", c.Text)
		}
	}
}

func TestInsertRetriesThenFails(t *testing.T) {
	s, rec := testStore(t)
	ctx := context.Background()
	if err := s.Drop(ctx, true); err != nil {
		t.Fatal(err)
	}
	out, err := s.Insert(ctx, sample("a_1", "x"))
	if out != OutcomeFailed || !errors.Is(err, ErrInsertFailed) {
		t.Fatalf("insert = %v, %v; want failed, ErrInsertFailed", out, err)
	}
	want := []time.Duration{2 * time.Second, 2 * time.Second}
	if diff := cmp.Diff(want, rec.Delays()); diff != "" {
		t.Errorf("retry delays (-want +got):\n%s", diff)
	}
}

func TestDuplicateIsNotRetried(t *testing.T) {
	s, rec := testStore(t)
	ctx := context.Background()
	c := sample("a_1", "x")
	s.Insert(ctx, c)
	s.Insert(ctx, c)
	if d := rec.Delays(); len(d) != 0 {
		t.Errorf("duplicate caused retries: %v", d)
	}
}

func TestDeduplicateByContent(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	for _, id := range []string{"c_3", "c_1", "c_2"} {
		if _, err := s.Insert(ctx, sample(id, "Same words.")); err != nil {
			t.Fatal(err)
		}
	}
	other := sample("c_9", "Different words.")
	s.Insert(ctx, other)

	removed, err := s.DeduplicateByContent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	got, _ := s.Read(ctx, Filter{})
	var ids []string
	for _, c := range got {
		ids = append(ids, c.CommentID)
	}
	if diff := cmp.Diff([]string{"c_1", "c_9"}, ids); diff != "" {
		t.Errorf("survivors (-want +got):\n%s", diff)
	}

	removed, _ = s.DeduplicateByContent(ctx)
	if removed != 0 {
		t.Errorf("second pass removed %d", removed)
	}
}

func TestDeduplicateGroupsAbsentFields(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	for _, id := range []string{"x_2", "x_1"} {
		s.Insert(ctx, Comment{Council: "newham", CommentID: id, ApplicationID: "A", Text: "t"})
	}
	removed, err := s.DeduplicateByContent(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("removed = %d, %v; want 1", removed, err)
	}
}

func TestUpdateCoordinatesWriteOnce(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	c := sample("a_1", "x")
	s.Insert(ctx, c)

	ok, err := s.UpdateCoordinates(ctx, c.Key(), 51.5, -0.1)
	if err != nil || !ok {
		t.Fatalf("first update = %v, %v", ok, err)
	}
	ok, err = s.UpdateCoordinates(ctx, c.Key(), 52.0, 1.0)
	if err != nil || ok {
		t.Fatalf("second update = %v, %v; want false", ok, err)
	}
	ok, _ = s.UpdateCoordinates(ctx, Key{CommentID: "a_1", ApplicationID: "other"}, 1, 1)
	if ok {
		t.Error("update matched a different application")
	}

	got, _ := s.Read(ctx, Filter{})
	if *got[0].Lat != 51.5 || *got[0].Lon != -0.1 {
		t.Errorf("coordinates = %v,%v", *got[0].Lat, *got[0].Lon)
	}
	missing, _ := s.Read(ctx, Filter{MissingCoordinates: true})
	if len(missing) != 0 {
		t.Errorf("missing-coordinates filter returned %d rows", len(missing))
	}
}

func TestDestructiveNeedsConfirmation(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	s.Insert(ctx, sample("a_1", "x"))
	b := sample("b_1", "y")
	b.Council = "lambeth"
	s.Insert(ctx, b)

	if _, err := s.DeleteAll(ctx, false); !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("DeleteAll(false) = %v", err)
	}
	if _, err := s.DeleteByCouncil(ctx, "newham", false); !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("DeleteByCouncil(false) = %v", err)
	}
	if err := s.Drop(ctx, false); !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("Drop(false) = %v", err)
	}
	if rows, _ := s.Read(ctx, Filter{}); len(rows) != 2 {
		t.Fatalf("declined operations changed rows: %d", len(rows))
	}

	n, err := s.DeleteByCouncil(ctx, "Newham", true)
	if err != nil || n != 1 {
		t.Fatalf("DeleteByCouncil = %d, %v", n, err)
	}
	rows, _ := s.Read(ctx, Filter{})
	if _, err := s.DeleteByID(ctx, rows[0].ID, false); !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("DeleteByID(false) = %v", err)
	}
	if n, _ := s.DeleteByID(ctx, rows[0].ID, true); n != 1 {
		t.Errorf("DeleteByID = %d", n)
	}

	exists, _ := s.TableExists(ctx)
	if !exists {
		t.Fatal("table missing before drop")
	}
	if err := s.Drop(ctx, true); err != nil {
		t.Fatal(err)
	}
	if exists, _ := s.TableExists(ctx); exists {
		t.Error("table still exists after drop")
	}
}

func TestReadFiltersAndTable(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	s.Insert(ctx, sample("a_1", "x"))
	noAddr := sample("a_2", "y")
	noAddr.Address = portal.Absent("none")
	s.Insert(ctx, noAddr)

	withAddr, _ := s.Read(ctx, Filter{WithAddress: true})
	if len(withAddr) != 1 || withAddr[0].CommentID != "a_1" {
		t.Errorf("WithAddress = %+v", withAddr)
	}
	limited, _ := s.Read(ctx, Filter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("Limit = %d rows", len(limited))
	}

	tbl, err := s.ReadTable(ctx, Filter{Council: "newham"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Rows) != 2 || len(tbl.Rows[0]) != len(tbl.Columns) {
		t.Fatalf("table shape = %d rows, columns %v", len(tbl.Rows), tbl.Columns)
	}
	if tbl.Rows[1][4] != "" {
		t.Errorf("absent address rendered as %q", tbl.Rows[1][4])
	}

	exists, _ := s.ExistsFor(ctx, "newham", "24/12345/FUL")
	missing, _ := s.ExistsFor(ctx, "newham", "nope")
	if !exists || missing {
		t.Errorf("ExistsFor = %v/%v", exists, missing)
	}
}

func TestNoConnection(t *testing.T) {
	var s *Store
	if _, err := s.Insert(context.Background(), sample("a", "b")); !errors.Is(err, ErrNoConnection) {
		t.Errorf("nil store insert = %v", err)
	}
	if _, err := Open(Config{Env: "prod"}); !errors.Is(err, ErrNoConnection) {
		t.Errorf("Open without dsn = %v", err)
	}
}

func TestSync(t *testing.T) {
	src, _ := testStore(t)
	dst, _ := testStore(t)
	ctx := context.Background()
	src.Insert(ctx, sample("a_1", "x"))
	src.Insert(ctx, sample("a_2", "y"))
	dst.Insert(ctx, sample("a_1", "x"))

	st, err := Sync(ctx, src, dst)
	if err != nil {
		t.Fatal(err)
	}
	want := SyncStats{Read: 2, Inserted: 1, Duplicates: 1}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}
	st, _ = Sync(ctx, src, dst)
	if st.Inserted != 0 || st.Duplicates != 2 {
		t.Errorf("second sync = %+v", st)
	}
	got, _ := dst.Read(ctx, Filter{ApplicationID: "24/12345/FUL"})
	if len(got) != 2 || got[1].Date.Or("") != "2024-01-15" {
		t.Errorf("synced rows = %+v", got)
	}
}

func TestSyncCopiesCoordinates(t *testing.T) {
	src, _ := testStore(t)
	dst, _ := testStore(t)
	ctx := context.Background()
	a1, a2, a3 := sample("a_1", "x"), sample("a_2", "y"), sample("a_3", "z")
	for _, c := range []Comment{a1, a2, a3} {
		src.Insert(ctx, c)
	}
	dst.Insert(ctx, a1)
	dst.Insert(ctx, a3)
	src.UpdateCoordinates(ctx, a1.Key(), 51.5, -0.14)
	src.UpdateCoordinates(ctx, a2.Key(), 51.6, -0.01)
	src.UpdateCoordinates(ctx, a3.Key(), 51.7, 0.1)
	// dst already located a_3; its own coordinates stay.
	dst.UpdateCoordinates(ctx, a3.Key(), 10, 10)

	st, err := Sync(ctx, src, dst)
	if err != nil {
		t.Fatal(err)
	}
	want := SyncStats{Read: 3, Inserted: 1, Duplicates: 2, Located: 2}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}

	got, err := dst.Read(ctx, Filter{ApplicationID: "24/12345/FUL"})
	if err != nil {
		t.Fatal(err)
	}
	coords := map[string][2]float64{}
	for _, c := range got {
		if !c.HasCoordinates() {
			t.Fatalf("%s has no coordinates", c.CommentID)
		}
		coords[c.CommentID] = [2]float64{*c.Lat, *c.Lon}
	}
	wantCoords := map[string][2]float64{"a_1": {51.5, -0.14}, "a_2": {51.6, -0.01}, "a_3": {10, 10}}
	if diff := cmp.Diff(wantCoords, coords); diff != "" {
		t.Errorf("coordinates (-want +got):\n%s", diff)
	}

	st, _ = Sync(ctx, src, dst)
	if st.Located != 0 {
		t.Errorf("second sync located %d rows, want 0", st.Located)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in     portal.Field
		want   string
		valid  bool
		wantOK bool
	}{
		{portal.Present("Mon 15 Jan 2024"), "2024-01-15", true, true},
		{portal.Present("Tue 2 Jan 2024"), "2024-01-02", true, true},
		{portal.Present("15/01/2024"), "2024-01-15", true, true},
		{portal.Present("2024-01-15"), "2024-01-15", true, true},
		{portal.Present("None"), "", false, true},
		{portal.Present("NaT"), "", false, true},
		{portal.Absent("missing"), "", false, true},
		{portal.Present("someday"), "", false, false},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		if got.String != tt.want || got.Valid != tt.valid || ok != tt.wantOK {
			t.Errorf("ParseDate(%v) = %+v,%v; want %q,%v,%v", tt.in, got, ok, tt.want, tt.valid, tt.wantOK)
		}
	}
}
