package harvest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/planwatch/dbopen"
	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
	"github.com/hazyhaar/planwatch/planwatch/internal/portal/portaltest"
	"github.com/hazyhaar/planwatch/planwatch/internal/store"
	"github.com/hazyhaar/planwatch/retry"
)

const commentsURL = "https://pa.example.gov.uk/online-applications/applicationDetails.do?activeTab=neighbourComments&keyVal=K1"

func pageURL(t *testing.T, n int) string {
	t.Helper()
	u, err := portal.WithPage(commentsURL, n)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(dbopen.OpenMemory(t), store.Config{Env: "test"}, store.WithSleeper(&retry.Recorder{}))
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

// scenario serves two comment pages (2 + 1 comments) and leaves page 3 empty.
func scenario(t *testing.T) *portaltest.Fake {
	f := portaltest.New()
	f.Serve(pageURL(t, 1), portaltest.CommentsPage(
		portaltest.Comment{Address: "10 Example Road, London, SW1A 1AA", Stance: "Objects", Date: "Mon 15 Jan 2024", Text: "Too tall."},
		portaltest.Comment{Address: "12 Example Road, London, SW1A 1AA", Stance: "Supports", Date: "Tue 16 Jan 2024", Text: "Good scheme."},
	))
	f.Serve(pageURL(t, 2), portaltest.CommentsPage(
		portaltest.Comment{Stance: "Neutral", Date: "Wed 17 Jan 2024", Text: "Please check parking."},
	))
	return f
}

func TestLoopEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	f := scenario(t)
	rec := &retry.Recorder{}
	loop := NewLoop(f, s, LoopConfig{}, WithSleeper(rec))

	res, err := loop.Run(ctx, "Newham", "24/12345/FUL", commentsURL)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Count() != 3 || res.Inserted != 3 || res.Pages != 2 {
		t.Errorf("result = %+v, want 3 inserted over 2 pages", res)
	}
	n, err := s.CountFor(ctx, "newham", "24/12345/FUL")
	if err != nil || n != 3 {
		t.Fatalf("CountFor = %d, %v; want 3", n, err)
	}

	rows, _ := s.Read(ctx, store.Filter{Council: "newham"})
	if rows[0].CommentID != "24/12345/FUL_1" || rows[2].CommentID != "24/12345/FUL_3" {
		t.Errorf("comment ids = %s..%s", rows[0].CommentID, rows[2].CommentID)
	}
	if rows[0].Stance.Or("") != "Objects" || rows[0].Address.Or("") != "10 Example Road, London, SW1A 1AA" {
		t.Errorf("first comment = %+v", rows[0])
	}
	if rows[2].Address.IsPresent() {
		t.Errorf("missing address stored as %q", rows[2].Address.Or(""))
	}

	// Page 3 is fetched twice: once, then once more after the empty cooldown.
	if got := f.VisitCount(pageURL(t, 3)); got != 2 {
		t.Errorf("page 3 visits = %d, want 2", got)
	}
	var cooldowns int
	for _, d := range rec.Delays() {
		if d >= 280*time.Second {
			cooldowns++
		}
	}
	if cooldowns != 1 {
		t.Errorf("empty cooldowns = %d, want 1", cooldowns)
	}
}

func TestLoopRerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	f := scenario(t)
	loop := NewLoop(f, s, LoopConfig{}, WithSleeper(&retry.Recorder{}))

	if _, err := loop.Run(ctx, "newham", "24/12345/FUL", commentsURL); err != nil {
		t.Fatal(err)
	}
	res, err := loop.Run(ctx, "newham", "24/12345/FUL", commentsURL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count() != 3 || res.Duplicates != 3 || res.Inserted != 0 {
		t.Errorf("second run = %+v, want 3 duplicates", res)
	}
	if n, _ := s.CountFor(ctx, "newham", "24/12345/FUL"); n != 3 {
		t.Errorf("CountFor after rerun = %d, want 3", n)
	}
}

func TestLoopSkipsRunDuplicates(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	f := portaltest.New().
		Serve(pageURL(t, 1), portaltest.CommentsPage(portaltest.Comment{Text: "A"}, portaltest.Comment{Text: "B"})).
		Serve(pageURL(t, 2), portaltest.CommentsPage(portaltest.Comment{Text: "B"}, portaltest.Comment{Text: "C"}))
	loop := NewLoop(f, s, LoopConfig{}, WithSleeper(&retry.Recorder{}))

	res, err := loop.Run(ctx, "newham", "APP/1", commentsURL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Forwarded != 3 {
		t.Errorf("forwarded = %d, want 3", res.Forwarded)
	}
	rows, _ := s.Read(ctx, store.Filter{})
	var b int
	for _, r := range rows {
		if r.Text == "B" {
			b++
		}
	}
	if b != 1 {
		t.Errorf("comment B stored %d times", b)
	}
}

func TestLoopStopsOnAllDuplicatePage(t *testing.T) {
	ctx := context.Background()
	page := portaltest.CommentsPage(portaltest.Comment{Text: "A"})
	f := portaltest.New().Serve(pageURL(t, 1), page).Serve(pageURL(t, 2), page)
	sink := &memSink{}
	loop := NewLoop(f, sink, LoopConfig{}, WithSleeper(&retry.Recorder{}))

	res, err := loop.Run(ctx, "newham", "APP/1", commentsURL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 1 || res.Pages != 2 {
		t.Errorf("result = %+v", res)
	}
	if f.VisitCount(pageURL(t, 3)) != 0 {
		t.Error("loop advanced past an all-duplicate page")
	}
}

func TestLoopEmptyRetryRecovers(t *testing.T) {
	ctx := context.Background()
	f := portaltest.New().
		Serve(pageURL(t, 1), portaltest.CommentsPage(), portaltest.CommentsPage(portaltest.Comment{Text: "late"}))
	sink := &memSink{}
	loop := NewLoop(f, sink, LoopConfig{}, WithSleeper(&retry.Recorder{}))

	res, err := loop.Run(ctx, "newham", "APP/1", commentsURL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", res.Inserted)
	}
}

func TestLoopEmptyRetriesDisabled(t *testing.T) {
	ctx := context.Background()
	f := portaltest.New().
		Serve(pageURL(t, 1), portaltest.CommentsPage(), portaltest.CommentsPage(portaltest.Comment{Text: "late"}))
	cfg := LoopConfig{EmptyRetries: -1}
	cfg.defaults()
	if cfg.EmptyRetries != -1 {
		t.Fatalf("defaults replaced EmptyRetries: %d", cfg.EmptyRetries)
	}
	rec := &retry.Recorder{}
	loop := NewLoop(f, &memSink{}, LoopConfig{EmptyRetries: -1}, WithSleeper(rec))

	res, err := loop.Run(ctx, "newham", "APP/1", commentsURL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 0 {
		t.Errorf("inserted = %d, want 0", res.Inserted)
	}
	if got := f.VisitCount(pageURL(t, 1)); got != 1 {
		t.Errorf("visits = %d, want 1", got)
	}
	for _, d := range rec.Delays() {
		if d >= 280*time.Second {
			t.Errorf("unexpected empty-page cooldown %v", d)
		}
	}
}

func TestLoopRateLimit(t *testing.T) {
	ctx := context.Background()
	f := scenario(t)
	f.FailNext(pageURL(t, 1), errors.New("navigate: net::ERR_HTTP_RESPONSE_CODE_FAILURE 429"))

	rec := &retry.Recorder{}
	sink := &memSink{}
	loop := NewLoop(f, sink, LoopConfig{}, WithSleeper(rec))
	res, err := loop.Run(ctx, "newham", "24/12345/FUL", commentsURL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 3 {
		t.Errorf("inserted = %d, want 3", res.Inserted)
	}
	if d := rec.Delays(); len(d) == 0 || d[0] != 5*time.Minute {
		t.Errorf("first delay = %v, want 5m cooldown", d)
	}
}

func TestLoopRateLimitPageDoesNotUseEmptyBudget(t *testing.T) {
	ctx := context.Background()
	f := portaltest.New().
		Serve(pageURL(t, 1), portaltest.RateLimitPage, portaltest.RateLimitPage, portaltest.CommentsPage(portaltest.Comment{Text: "A"}))
	sink := &memSink{}
	rec := &retry.Recorder{}
	loop := NewLoop(f, sink, LoopConfig{}, WithSleeper(rec))

	res, err := loop.Run(ctx, "newham", "APP/1", commentsURL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", res.Inserted)
	}
	var cooldowns int
	for _, d := range rec.Delays() {
		if d == 5*time.Minute {
			cooldowns++
		}
	}
	if cooldowns != 2 {
		t.Errorf("rate-limit cooldowns = %d, want 2", cooldowns)
	}
}

func TestLoopRateLimitCeiling(t *testing.T) {
	ctx := context.Background()
	f := portaltest.New().Serve(pageURL(t, 1), portaltest.RateLimitPage)
	loop := NewLoop(f, &memSink{}, LoopConfig{MaxRateLimitWaits: 2}, WithSleeper(&retry.Recorder{}))

	_, err := loop.Run(ctx, "newham", "APP/1", commentsURL)
	if !errors.Is(err, ErrRateLimitCeiling) || !errors.Is(err, portal.ErrRateLimited) {
		t.Fatalf("err = %v, want rate-limit ceiling", err)
	}
	if got := f.VisitCount(pageURL(t, 1)); got != 3 {
		t.Errorf("visits = %d, want 3", got)
	}
}

func TestLoopTransportErrorKeepsProgress(t *testing.T) {
	ctx := context.Background()
	f := scenario(t)
	reset := errors.New("connection reset by peer")
	f.FailNext(pageURL(t, 2), reset)
	sink := &memSink{}
	loop := NewLoop(f, sink, LoopConfig{}, WithSleeper(&retry.Recorder{}))

	res, err := loop.Run(ctx, "newham", "24/12345/FUL", commentsURL)
	if !errors.Is(err, reset) {
		t.Fatalf("err = %v, want reset", err)
	}
	if res.Count() != 2 || len(sink.comments) != 2 {
		t.Errorf("result = %+v, stored %d; want 2", res, len(sink.comments))
	}
}

func TestLoopSinkFailureContinues(t *testing.T) {
	ctx := context.Background()
	f := scenario(t)
	sink := &memSink{failOn: "24/12345/FUL_2"}
	loop := NewLoop(f, sink, LoopConfig{}, WithSleeper(&retry.Recorder{}))

	res, err := loop.Run(ctx, "newham", "24/12345/FUL", commentsURL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Inserted != 2 || res.Count() != 2 {
		t.Errorf("result = %+v", res)
	}
}

type memSink struct {
	comments []store.Comment
	failOn   string
}

func (m *memSink) Insert(_ context.Context, c store.Comment) (store.Outcome, error) {
	if c.CommentID == m.failOn {
		return store.OutcomeFailed, store.ErrInsertFailed
	}
	for _, have := range m.comments {
		if have.Key() == c.Key() {
			return store.OutcomeDuplicate, nil
		}
	}
	m.comments = append(m.comments, c)
	return store.OutcomeInserted, nil
}
