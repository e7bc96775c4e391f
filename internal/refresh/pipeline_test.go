package refresh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/hnmirror/internal/store"
	"github.com/elonfeng/hnmirror/pkg/hnclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRemote serves canned JSON bodies by path. Unknown paths answer
// "null" with status 200, which is what the real API does for unknown
// items and users.
func fakeRemote(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body, ok := responses[r.URL.Path]; ok {
			fmt.Fprint(w, body)
			return
		}
		fmt.Fprint(w, "null")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(t *testing.T, remote *httptest.Server) (*Pipeline, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	client := hnclient.New(remote.URL, 5, 5*time.Second, testLogger(), nil)
	p := New(s, client, testLogger(), nil, Options{
		CommentLimit:   10,
		DataDir:        dir,
		MinFreeDiskPct: 0.01,
	})
	return p, s
}

const storyOne = `{"id":1,"type":"story","by":"alice","time":1700000000,
	"title":"First story","url":"https://example.com/one","score":42,
	"descendants":2,"kids":[11,12]}`

func scenarioResponses() map[string]string {
	return map[string]string{
		"/maxitem.json":    "9999",
		"/topstories.json": "[1,2]",
		"/item/1.json":     storyOne,
		"/user/alice.json": `{"id":"alice","created":1600000000,"karma":1234,"about":"hi"}`,
		"/item/11.json":    `{"id":11,"type":"comment","by":"bob","time":1700000100,"text":"first!","parent":1}`,
		"/item/12.json":    `{"id":12,"type":"comment","by":"bob","time":1700000200,"text":"second","parent":1}`,
		// item 2 and user bob are intentionally absent: both answer "null".
	}
}

func TestRunScenarioPartialRemote(t *testing.T) {
	p, s := newTestPipeline(t, fakeRemote(t, scenarioResponses()))
	ctx := context.Background()

	l := p.Run(ctx)

	if l.Status != StatusSuccess {
		t.Fatalf("status = %q (%v), want success", l.Status, l.ErrorMessage)
	}
	if l.StoriesRefreshed != 1 || l.CommentsRefreshed != 2 {
		t.Errorf("counts = %d stories, %d comments; want 1 and 2",
			l.StoriesRefreshed, l.CommentsRefreshed)
	}

	st, err := s.GetStoryByHNID(ctx, 1)
	if err != nil {
		t.Fatalf("story 1 not stored: %v", err)
	}
	if !st.IsTop {
		t.Error("story 1 should carry the top flag")
	}
	if st.Title != "First story" || st.Score == nil || *st.Score != 42 {
		t.Errorf("story fields: %+v", st)
	}
	if _, err := s.GetStoryByHNID(ctx, 2); err == nil {
		t.Error("the missing item 2 must not produce a story row")
	}

	comments, err := s.CommentsForStory(ctx, st.ID, 10)
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(comments))
	}
	if comments[0].HNID != 11 || comments[1].HNID != 12 {
		t.Errorf("comment order by rank: got %d, %d; want 11, 12",
			comments[0].HNID, comments[1].HNID)
	}
	if !comments[0].IsTopComment || comments[0].Level != 0 {
		t.Errorf("comment flags: %+v", comments[0])
	}

	// bob's profile was unavailable, so only a bare user row exists.
	bob, err := s.GetUserByUsername(ctx, "bob")
	if err != nil {
		t.Fatalf("bare user bob missing: %v", err)
	}
	if bob.Karma != nil || bob.CreatedTime != nil {
		t.Errorf("bare user should have only the username: %+v", bob)
	}

	alice, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("user alice missing: %v", err)
	}
	if alice.Karma == nil || *alice.Karma != 1234 {
		t.Errorf("alice karma = %v, want 1234", alice.Karma)
	}

	// The returned log row is the one persisted.
	last, err := s.LastRefresh(ctx)
	if err != nil {
		t.Fatalf("last refresh: %v", err)
	}
	if last.ID != l.ID {
		t.Errorf("persisted log ID %d != returned %d", last.ID, l.ID)
	}
}

func TestRunEmptyTopStories(t *testing.T) {
	p, s := newTestPipeline(t, fakeRemote(t, map[string]string{
		"/maxitem.json":    "9999",
		"/topstories.json": "[]",
	}))

	l := p.Run(context.Background())

	if l.Status != StatusError {
		t.Fatalf("status = %q, want error", l.Status)
	}
	if l.ErrorMessage == nil || *l.ErrorMessage != "Failed to fetch top stories" {
		t.Errorf("error message = %v, want %q", l.ErrorMessage, "Failed to fetch top stories")
	}
	if l.StoriesRefreshed != 0 || l.CommentsRefreshed != 0 {
		t.Errorf("counts must be zero on error, got %d/%d",
			l.StoriesRefreshed, l.CommentsRefreshed)
	}

	last, err := s.LastRefresh(context.Background())
	if err != nil {
		t.Fatalf("a log row must exist even on failure: %v", err)
	}
	if last.Status != StatusError {
		t.Errorf("persisted status = %q", last.Status)
	}
}

func TestRunOneLogRowPerCycle(t *testing.T) {
	p, s := newTestPipeline(t, fakeRemote(t, map[string]string{
		"/maxitem.json":    "9999",
		"/topstories.json": "[]",
	}))
	ctx := context.Background()

	first := p.Run(ctx)
	second := p.Run(ctx)
	if second.ID != first.ID+1 {
		t.Errorf("expected consecutive log rows, got %d then %d", first.ID, second.ID)
	}

	last, err := s.LastRefresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last.ID != second.ID {
		t.Errorf("last refresh = %d, want %d", last.ID, second.ID)
	}
}

func TestRunPreflightRemoteDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	p, _ := newTestPipeline(t, srv)
	l := p.Run(context.Background())

	if l.Status != StatusError {
		t.Fatalf("status = %q, want error", l.Status)
	}
	if l.ErrorMessage == nil {
		t.Fatal("expected a pre-flight error message")
	}
}

func TestRunPreflightBadDirectory(t *testing.T) {
	p, _ := newTestPipeline(t, fakeRemote(t, scenarioResponses()))
	p.dataDir = filepath.Join(t.TempDir(), "does-not-exist")

	l := p.Run(context.Background())
	if l.Status != StatusError {
		t.Fatalf("status = %q, want error", l.Status)
	}
}

func TestRunSkipsNonStoryItems(t *testing.T) {
	responses := scenarioResponses()
	responses["/topstories.json"] = "[1,3]"
	responses["/item/3.json"] = `{"id":3,"type":"job","by":"alice","time":1700000000,"title":"Hiring"}`

	p, s := newTestPipeline(t, fakeRemote(t, responses))
	l := p.Run(context.Background())

	if l.Status != StatusSuccess || l.StoriesRefreshed != 1 {
		t.Fatalf("log = %+v, want 1 story", l)
	}
	if _, err := s.GetStoryByHNID(context.Background(), 3); err == nil {
		t.Error("job item must not be stored as a story")
	}
}

func TestRunTwiceUpdatesInPlaceAndAppendsLinks(t *testing.T) {
	responses := scenarioResponses()
	p, s := newTestPipeline(t, fakeRemote(t, responses))
	ctx := context.Background()

	if l := p.Run(ctx); l.Status != StatusSuccess {
		t.Fatalf("first run: %+v", l)
	}

	st1, err := s.GetStoryByHNID(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}

	if l := p.Run(ctx); l.Status != StatusSuccess {
		t.Fatalf("second run: %+v", l)
	}

	st2, err := s.GetStoryByHNID(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st2.ID != st1.ID {
		t.Errorf("re-ingestion created a new story row: %d -> %d", st1.ID, st2.ID)
	}

	// Link rows accumulate per refresh pass; the second pass adds another
	// pair rather than replacing the first.
	comments, err := s.CommentsForStory(ctx, st2.ID, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 4 {
		t.Errorf("got %d linked comment rows after two runs, want 4", len(comments))
	}
}
