// Package refresh implements one mirror cycle: fetch the ranked top-story
// list, resolve stories, authors, and top-level comments from the remote
// API, upsert them into the store, and leave a refresh-log row behind
// whatever happens.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/elonfeng/hnmirror/internal/metrics"
	"github.com/elonfeng/hnmirror/internal/store"
	"github.com/elonfeng/hnmirror/pkg/hnclient"
)

const (
	// StatusSuccess and StatusError are the refresh-log outcome values.
	StatusSuccess = "success"
	StatusError   = "error"
)

// Pipeline runs refresh cycles. It owns the remote client for the
// duration of a cycle; fetches are sequential, one item at a time.
type Pipeline struct {
	store        store.Store
	client       *hnclient.Client
	logger       *slog.Logger
	metrics      *metrics.Collector
	commentLimit int
	dataDir      string
	minFreePct   float64
}

// Options configures a Pipeline.
type Options struct {
	CommentLimit   int
	DataDir        string
	MinFreeDiskPct float64
}

// New creates a Pipeline.
func New(s store.Store, client *hnclient.Client, logger *slog.Logger, m *metrics.Collector, opts Options) *Pipeline {
	if opts.CommentLimit <= 0 {
		opts.CommentLimit = 10
	}
	if opts.MinFreeDiskPct <= 0 {
		opts.MinFreeDiskPct = 10
	}
	return &Pipeline{
		store:        s,
		client:       client,
		logger:       logger,
		metrics:      m,
		commentLimit: opts.CommentLimit,
		dataDir:      opts.DataDir,
		minFreePct:   opts.MinFreeDiskPct,
	}
}

// resolvedStory tracks a story written in step 3, carrying its truncated
// child-ID list forward into the comment pass.
type resolvedStory struct {
	localID int64
	kids    []int64
}

// Run executes one refresh cycle and always records exactly one
// refresh-log row, whether the cycle succeeds or aborts. Errors never
// propagate to the caller.
func (p *Pipeline) Run(ctx context.Context) *store.RefreshLog {
	stories, comments, err := p.runCycle(ctx)

	l := &store.RefreshLog{
		RefreshTime:       time.Now().UTC(),
		StoriesRefreshed:  stories,
		CommentsRefreshed: comments,
		Status:            StatusSuccess,
	}
	if err != nil {
		msg := err.Error()
		l.StoriesRefreshed = 0
		l.CommentsRefreshed = 0
		l.Status = StatusError
		l.ErrorMessage = &msg
		p.logger.Error("refresh cycle failed", "error", err)
	} else {
		p.logger.Info("refresh cycle complete",
			"stories", stories, "comments", comments)
	}

	if logErr := p.store.LogRefresh(ctx, l); logErr != nil {
		p.logger.Error("write refresh log failed", "error", logErr)
	}
	if p.metrics != nil {
		p.metrics.RecordRefreshCycle(l.Status, l.StoriesRefreshed, l.CommentsRefreshed)
	}
	return l
}

// runCycle converts panics from the cycle body into an error so the log
// row still gets written.
func (p *Pipeline) runCycle(ctx context.Context) (stories, comments int, err error) {
	defer func() {
		if r := recover(); r != nil {
			stories, comments = 0, 0
			err = fmt.Errorf("refresh panic: %v", r)
		}
	}()
	return p.cycle(ctx)
}

func (p *Pipeline) cycle(ctx context.Context) (int, int, error) {
	if err := p.preflight(ctx); err != nil {
		return 0, 0, err
	}

	ids := p.client.TopStoryIDs(ctx)
	if len(ids) == 0 {
		return 0, 0, errors.New("Failed to fetch top stories")
	}

	var resolved []resolvedStory
	for _, id := range ids {
		rs, err := p.processStory(ctx, id)
		if err != nil {
			return 0, 0, err
		}
		if rs != nil {
			resolved = append(resolved, *rs)
		}
	}

	topIDs := make([]int64, len(resolved))
	for i, rs := range resolved {
		topIDs[i] = rs.localID
	}
	if err := p.store.MarkTopStories(ctx, topIDs); err != nil {
		return 0, 0, err
	}

	totalComments := 0
	for _, rs := range resolved {
		n, err := p.processComments(ctx, rs)
		if err != nil {
			return 0, 0, err
		}
		totalComments += n
	}

	return len(resolved), totalComments, nil
}

// processStory resolves one top-story ID into a store row. It returns nil
// without error when the item is missing or not a story; such IDs
// contribute to neither count.
func (p *Pipeline) processStory(ctx context.Context, hnID int64) (*resolvedStory, error) {
	item := p.client.FetchItem(ctx, hnID)
	if item == nil || item.Type != "story" {
		p.logger.Warn("item is not a valid story", "hn_id", hnID)
		return nil, nil
	}

	authorID, err := p.resolveAuthor(ctx, item.By)
	if err != nil {
		return nil, err
	}

	kids := item.Kids
	if len(kids) > p.commentLimit {
		kids = kids[:p.commentLimit]
	}

	existing, err := p.store.GetStoryByHNID(ctx, hnID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		upd := store.StoryUpdate{
			Title:       item.Title,
			URL:         optString(item.URL),
			Score:       &item.Score,
			Descendants: &item.Descendants,
			Text:        optString(item.Text),
			IsTop:       true,
		}
		if err := p.store.UpdateStory(ctx, existing.ID, upd); err != nil {
			return nil, err
		}
		return &resolvedStory{localID: existing.ID, kids: kids}, nil
	}

	t := time.Unix(item.Time, 0).UTC()
	st := &store.Story{
		HNID:        hnID,
		Title:       item.Title,
		URL:         optString(item.URL),
		Score:       &item.Score,
		Time:        &t,
		ByUserID:    authorID,
		Descendants: &item.Descendants,
		Text:        optString(item.Text),
		Type:        &item.Type,
		IsTop:       true,
	}
	if err := p.store.CreateStory(ctx, st); err != nil {
		return nil, err
	}
	return &resolvedStory{localID: st.ID, kids: kids}, nil
}

// processComments resolves the story's truncated child list in order; the
// position in that list is the comment's rank.
func (p *Pipeline) processComments(ctx context.Context, rs resolvedStory) (int, error) {
	count := 0
	for rank, kid := range rs.kids {
		commentID, err := p.processComment(ctx, kid)
		if err != nil {
			return count, err
		}
		if commentID == 0 {
			continue
		}
		if err := p.store.LinkStoryComment(ctx, rs.localID, commentID, rank); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// processComment upserts one comment by remote ID. It returns 0 without
// error when the item is missing or not a comment.
func (p *Pipeline) processComment(ctx context.Context, hnID int64) (int64, error) {
	item := p.client.FetchItem(ctx, hnID)
	if item == nil || item.Type != "comment" {
		p.logger.Warn("item is not a valid comment", "hn_id", hnID)
		return 0, nil
	}

	authorID, err := p.resolveAuthor(ctx, item.By)
	if err != nil {
		return 0, err
	}

	existing, err := p.store.GetCommentByHNID(ctx, hnID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	if existing != nil {
		upd := store.CommentUpdate{Text: optString(item.Text), Level: 0}
		if err := p.store.UpdateComment(ctx, existing.ID, upd); err != nil {
			return 0, err
		}
		return existing.ID, nil
	}

	t := time.Unix(item.Time, 0).UTC()
	c := &store.Comment{
		HNID:         hnID,
		Text:         optString(item.Text),
		Time:         &t,
		ByUserID:     authorID,
		ParentHNID:   optInt64(item.Parent),
		Level:        0,
		IsTopComment: true,
	}
	if err := p.store.CreateComment(ctx, c); err != nil {
		return 0, err
	}
	return c.ID, nil
}

// resolveAuthor reuses an existing user row, otherwise fetches the remote
// profile. When the profile is unavailable too, a bare row with only the
// username is created; the author is never a reason to drop an item.
func (p *Pipeline) resolveAuthor(ctx context.Context, username string) (*int64, error) {
	if username == "" {
		return nil, nil
	}

	u, err := p.store.GetUserByUsername(ctx, username)
	if err == nil {
		return &u.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	nu := &store.User{Username: username}
	if profile := p.client.FetchUser(ctx, username); profile != nil {
		created := time.Unix(profile.Created, 0).UTC()
		nu.Karma = &profile.Karma
		nu.CreatedTime = &created
		nu.About = optString(profile.About)
	}
	if err := p.store.CreateUser(ctx, nu); err != nil {
		return nil, err
	}
	return &nu.ID, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
