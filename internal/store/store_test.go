package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func mustCreateStory(t *testing.T, s *SQLiteStore, hnID int64, score int) *Story {
	t.Helper()
	st := &Story{HNID: hnID, Title: "story", Score: intPtr(score)}
	if err := s.CreateStory(context.Background(), st); err != nil {
		t.Fatalf("create story %d: %v", hnID, err)
	}
	return st
}

func TestUserCreateAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetUserByUsername(ctx, "pg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	created := time.Date(2007, 2, 19, 0, 0, 0, 0, time.UTC)
	u := &User{Username: "pg", Karma: intPtr(155111), CreatedTime: &created}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 {
		t.Error("expected user ID to be set")
	}

	got, err := s.GetUserByUsername(ctx, "pg")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.ID != u.ID || got.Username != "pg" {
		t.Errorf("got user %+v, want ID %d username pg", got, u.ID)
	}
	if got.Karma == nil || *got.Karma != 155111 {
		t.Errorf("karma = %v, want 155111", got.Karma)
	}
	if got.LastUpdated.IsZero() {
		t.Error("expected last_updated to be set")
	}
}

func TestStoryUpsertByHNID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := mustCreateStory(t, s, 100, 50)

	// Re-ingesting the same remote ID must update in place, not duplicate.
	if _, err := s.GetStoryByHNID(ctx, 100); err != nil {
		t.Fatalf("get story by hn_id: %v", err)
	}
	upd := StoryUpdate{
		Title: "updated title",
		Score: intPtr(75),
		Text:  strPtr("body"),
		IsTop: true,
	}
	if err := s.UpdateStory(ctx, st.ID, upd); err != nil {
		t.Fatalf("update story: %v", err)
	}

	// Creating a second row with the same hn_id violates the unique index.
	if err := s.CreateStory(ctx, &Story{HNID: 100, Title: "dup"}); err == nil {
		t.Error("expected unique constraint error on duplicate hn_id")
	}

	got, err := s.GetStoryByHNID(ctx, 100)
	if err != nil {
		t.Fatalf("get story: %v", err)
	}
	if got.ID != st.ID {
		t.Errorf("story ID changed: %d -> %d", st.ID, got.ID)
	}
	if got.Title != "updated title" || *got.Score != 75 || !got.IsTop {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestGetStoryNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetStory(context.Background(), 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkTopStoriesFullReevaluation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreateStory(t, s, 1, 10)
	b := mustCreateStory(t, s, 2, 20)
	c := mustCreateStory(t, s, 3, 30)

	if err := s.MarkTopStories(ctx, []int64{a.ID, b.ID}); err != nil {
		t.Fatalf("mark top stories: %v", err)
	}
	if err := s.MarkTopStories(ctx, []int64{c.ID}); err != nil {
		t.Fatalf("mark top stories: %v", err)
	}

	// Exactly the last-marked set has the flag, regardless of prior state.
	top, err := s.TopStories(ctx, 10)
	if err != nil {
		t.Fatalf("top stories: %v", err)
	}
	if len(top) != 1 || top[0].ID != c.ID {
		t.Errorf("top stories = %+v, want only story %d", top, c.ID)
	}
}

func TestMarkTopStoriesEmptySet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := mustCreateStory(t, s, 1, 10)
	if err := s.MarkTopStories(ctx, []int64{st.ID}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkTopStories(ctx, nil); err != nil {
		t.Fatalf("mark empty: %v", err)
	}

	top, err := s.TopStories(ctx, 10)
	if err != nil {
		t.Fatalf("top stories: %v", err)
	}
	if len(top) != 0 {
		t.Errorf("expected no top stories, got %d", len(top))
	}
}

func TestTopStoriesOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	scores := []int{40, 10, 30, 20, 50}
	for i, score := range scores {
		st := mustCreateStory(t, s, int64(i+1), score)
		ids = append(ids, st.ID)
	}
	if err := s.MarkTopStories(ctx, ids); err != nil {
		t.Fatalf("mark top stories: %v", err)
	}

	for limit := 1; limit <= 10; limit++ {
		top, err := s.TopStories(ctx, limit)
		if err != nil {
			t.Fatalf("top stories limit %d: %v", limit, err)
		}
		if len(top) > limit {
			t.Errorf("limit %d returned %d rows", limit, len(top))
		}
		for i := 1; i < len(top); i++ {
			if *top[i-1].Score < *top[i].Score {
				t.Errorf("limit %d: scores not non-increasing: %d before %d",
					limit, *top[i-1].Score, *top[i].Score)
			}
		}
	}
}

func TestCommentsLinkedByRank(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := mustCreateStory(t, s, 1, 10)

	// Insert out of rank order to prove ordering comes from the link table.
	for _, c := range []struct {
		hnID int64
		rank int
		text string
	}{
		{201, 1, "second"},
		{200, 0, "first"},
		{202, 2, "third"},
	} {
		cm := &Comment{HNID: c.hnID, Text: strPtr(c.text), IsTopComment: true}
		if err := s.CreateComment(ctx, cm); err != nil {
			t.Fatalf("create comment: %v", err)
		}
		if err := s.LinkStoryComment(ctx, st.ID, cm.ID, c.rank); err != nil {
			t.Fatalf("link comment: %v", err)
		}
	}

	comments, err := s.CommentsForStory(ctx, st.ID, 10)
	if err != nil {
		t.Fatalf("comments for story: %v", err)
	}
	if len(comments) != 3 {
		t.Fatalf("got %d comments, want 3", len(comments))
	}
	want := []string{"first", "second", "third"}
	for i, c := range comments {
		if *c.Text != want[i] {
			t.Errorf("rank %d text = %q, want %q", i, *c.Text, want[i])
		}
	}

	limited, err := s.CommentsForStory(ctx, st.ID, 2)
	if err != nil {
		t.Fatalf("comments limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d comments with limit 2", len(limited))
	}
}

func TestCommentUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cm := &Comment{HNID: 300, Text: strPtr("original"), IsTopComment: true}
	if err := s.CreateComment(ctx, cm); err != nil {
		t.Fatalf("create comment: %v", err)
	}

	if err := s.UpdateComment(ctx, cm.ID, CommentUpdate{Text: nil, Level: 0}); err != nil {
		t.Fatalf("update comment: %v", err)
	}

	got, err := s.GetCommentByHNID(ctx, 300)
	if err != nil {
		t.Fatalf("get comment: %v", err)
	}
	if got.Text != nil {
		t.Errorf("text = %v, want nil after upstream deletion", *got.Text)
	}
}

func TestRefreshLogAppendAndLast(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LastRefresh(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty log, got %v", err)
	}

	first := &RefreshLog{Status: "success", StoriesRefreshed: 5, CommentsRefreshed: 40}
	if err := s.LogRefresh(ctx, first); err != nil {
		t.Fatalf("log refresh: %v", err)
	}

	msg := "Failed to fetch top stories"
	second := &RefreshLog{Status: "error", ErrorMessage: &msg}
	if err := s.LogRefresh(ctx, second); err != nil {
		t.Fatalf("log refresh: %v", err)
	}

	last, err := s.LastRefresh(ctx)
	if err != nil {
		t.Fatalf("last refresh: %v", err)
	}
	if last.ID != second.ID || last.Status != "error" {
		t.Errorf("last refresh = %+v, want the error row %d", last, second.ID)
	}
	if last.ErrorMessage == nil || *last.ErrorMessage != msg {
		t.Errorf("error message = %v, want %q", last.ErrorMessage, msg)
	}
}

func TestIntegrityCheck(t *testing.T) {
	s := newTestStore(t)
	if err := s.IntegrityCheck(context.Background()); err != nil {
		t.Fatalf("integrity check on fresh store: %v", err)
	}
}
