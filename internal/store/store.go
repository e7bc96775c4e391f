package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// User is a Hacker News account seen by ingestion. Rows are created the
// first time any item references the username and never deleted.
type User struct {
	ID          int64      `db:"id" json:"id"`
	Username    string     `db:"username" json:"username"`
	Karma       *int       `db:"karma" json:"karma"`
	CreatedTime *time.Time `db:"created_time" json:"created_time"`
	About       *string    `db:"about" json:"about"`
	LastUpdated time.Time  `db:"last_updated" json:"-"`
}

// Story is a mirrored story item, keyed by its Hacker News ID.
type Story struct {
	ID          int64      `db:"id" json:"id"`
	HNID        int64      `db:"hn_id" json:"hn_id"`
	Title       string     `db:"title" json:"title"`
	URL         *string    `db:"url" json:"url"`
	Score       *int       `db:"score" json:"score"`
	Time        *time.Time `db:"time" json:"time"`
	ByUserID    *int64     `db:"by_user_id" json:"-"`
	Descendants *int       `db:"descendants" json:"descendants"`
	Text        *string    `db:"text" json:"text"`
	Type        *string    `db:"type" json:"type"`
	IsTop       bool       `db:"is_top" json:"-"`
	LastUpdated time.Time  `db:"last_updated" json:"-"`

	// By is the author's username, populated by queries that join users.
	By *string `db:"by" json:"by"`
}

// Comment is a mirrored top-level comment. ParentHNID refers to the remote
// parent item and is informational only; deeper threads are never ingested.
type Comment struct {
	ID           int64      `db:"id" json:"id"`
	HNID         int64      `db:"hn_id" json:"hn_id"`
	Text         *string    `db:"text" json:"text"`
	Time         *time.Time `db:"time" json:"time"`
	ByUserID     *int64     `db:"by_user_id" json:"-"`
	ParentHNID   *int64     `db:"parent_hn_id" json:"parent_id"`
	Level        int        `db:"level" json:"level"`
	IsTopComment bool       `db:"is_top_comment" json:"-"`
	LastUpdated  time.Time  `db:"last_updated" json:"-"`

	By *string `db:"by" json:"by"`
}

// RefreshLog records one refresh attempt, success or not.
type RefreshLog struct {
	ID                int64     `db:"id" json:"id"`
	RefreshTime       time.Time `db:"refresh_time" json:"refresh_time"`
	StoriesRefreshed  int       `db:"stories_refreshed" json:"stories_refreshed"`
	CommentsRefreshed int       `db:"comments_refreshed" json:"comments_refreshed"`
	Status            string    `db:"status" json:"status"`
	ErrorMessage      *string   `db:"error_message" json:"error_message"`
}

// StoryUpdate holds the mutable story fields rewritten on re-ingestion.
type StoryUpdate struct {
	Title       string
	URL         *string
	Score       *int
	Descendants *int
	Text        *string
	IsTop       bool
}

// CommentUpdate holds the mutable comment fields rewritten on re-ingestion.
type CommentUpdate struct {
	Text  *string
	Level int
}

// Store is the persistence interface.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, u *User) error

	GetStory(ctx context.Context, id int64) (*Story, error)
	GetStoryByHNID(ctx context.Context, hnID int64) (*Story, error)
	CreateStory(ctx context.Context, s *Story) error
	UpdateStory(ctx context.Context, id int64, upd StoryUpdate) error
	TopStories(ctx context.Context, limit int) ([]Story, error)
	MarkTopStories(ctx context.Context, ids []int64) error

	GetCommentByHNID(ctx context.Context, hnID int64) (*Comment, error)
	CreateComment(ctx context.Context, c *Comment) error
	UpdateComment(ctx context.Context, id int64, upd CommentUpdate) error
	CommentsForStory(ctx context.Context, storyID int64, limit int) ([]Comment, error)
	LinkStoryComment(ctx context.Context, storyID, commentID int64, rank int) error

	LogRefresh(ctx context.Context, l *RefreshLog) error
	LastRefresh(ctx context.Context) (*RefreshLog, error)

	IntegrityCheck(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IntegrityCheck runs SQLite's built-in consistency check.
func (s *SQLiteStore) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := s.db.GetContext(ctx, &result, "PRAGMA integrity_check"); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE username = ?", username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	u.LastUpdated = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, karma, created_time, about, last_updated)
		VALUES (?, ?, ?, ?, ?)
	`, u.Username, u.Karma, u.CreatedTime, u.About, u.LastUpdated)
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.Username, err)
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetStory(ctx context.Context, id int64) (*Story, error) {
	var st Story
	err := s.db.GetContext(ctx, &st, `
		SELECT s.*, u.username AS "by"
		FROM stories s LEFT JOIN users u ON u.id = s.by_user_id
		WHERE s.id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get story %d: %w", id, err)
	}
	return &st, nil
}

func (s *SQLiteStore) GetStoryByHNID(ctx context.Context, hnID int64) (*Story, error) {
	var st Story
	err := s.db.GetContext(ctx, &st, "SELECT * FROM stories WHERE hn_id = ?", hnID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get story hn_id %d: %w", hnID, err)
	}
	return &st, nil
}

func (s *SQLiteStore) CreateStory(ctx context.Context, st *Story) error {
	st.LastUpdated = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stories (hn_id, title, url, score, time, by_user_id, descendants, text, type, is_top, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, st.HNID, st.Title, st.URL, st.Score, st.Time, st.ByUserID,
		st.Descendants, st.Text, st.Type, st.IsTop, st.LastUpdated)
	if err != nil {
		return fmt.Errorf("create story %d: %w", st.HNID, err)
	}
	st.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) UpdateStory(ctx context.Context, id int64, upd StoryUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stories
		SET title = ?, url = ?, score = ?, descendants = ?, text = ?, is_top = ?, last_updated = ?
		WHERE id = ?
	`, upd.Title, upd.URL, upd.Score, upd.Descendants, upd.Text, upd.IsTop,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update story %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) TopStories(ctx context.Context, limit int) ([]Story, error) {
	if limit <= 0 {
		limit = 5
	}
	var stories []Story
	err := s.db.SelectContext(ctx, &stories, `
		SELECT s.*, u.username AS "by"
		FROM stories s LEFT JOIN users u ON u.id = s.by_user_id
		WHERE s.is_top = 1
		ORDER BY s.score DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("top stories: %w", err)
	}
	return stories, nil
}

// MarkTopStories re-evaluates the top-story set: the flag is cleared on
// every story, then set on exactly the given IDs.
func (s *SQLiteStore) MarkTopStories(ctx context.Context, ids []int64) error {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		"UPDATE stories SET is_top = 0, last_updated = ? WHERE is_top = 1", now); err != nil {
		return fmt.Errorf("clear top stories: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In("UPDATE stories SET is_top = 1, last_updated = ? WHERE id IN (?)", now, ids)
	if err != nil {
		return fmt.Errorf("mark top stories: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("mark top stories: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCommentByHNID(ctx context.Context, hnID int64) (*Comment, error) {
	var c Comment
	err := s.db.GetContext(ctx, &c, "SELECT * FROM comments WHERE hn_id = ?", hnID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get comment hn_id %d: %w", hnID, err)
	}
	return &c, nil
}

func (s *SQLiteStore) CreateComment(ctx context.Context, c *Comment) error {
	c.LastUpdated = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (hn_id, text, time, by_user_id, parent_hn_id, level, is_top_comment, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.HNID, c.Text, c.Time, c.ByUserID, c.ParentHNID, c.Level, c.IsTopComment, c.LastUpdated)
	if err != nil {
		return fmt.Errorf("create comment %d: %w", c.HNID, err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) UpdateComment(ctx context.Context, id int64, upd CommentUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE comments SET text = ?, level = ?, last_updated = ? WHERE id = ?
	`, upd.Text, upd.Level, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update comment %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) CommentsForStory(ctx context.Context, storyID int64, limit int) ([]Comment, error) {
	if limit <= 0 {
		limit = 10
	}
	var comments []Comment
	err := s.db.SelectContext(ctx, &comments, `
		SELECT c.*, u.username AS "by"
		FROM comments c
		JOIN story_comments sc ON sc.comment_id = c.id
		LEFT JOIN users u ON u.id = c.by_user_id
		WHERE sc.story_id = ?
		ORDER BY sc.comment_rank
		LIMIT ?
	`, storyID, limit)
	if err != nil {
		return nil, fmt.Errorf("comments for story %d: %w", storyID, err)
	}
	return comments, nil
}

func (s *SQLiteStore) LinkStoryComment(ctx context.Context, storyID, commentID int64, rank int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO story_comments (story_id, comment_id, comment_rank, refresh_time)
		VALUES (?, ?, ?, ?)
	`, storyID, commentID, rank, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("link story %d comment %d: %w", storyID, commentID, err)
	}
	return nil
}

func (s *SQLiteStore) LogRefresh(ctx context.Context, l *RefreshLog) error {
	if l.RefreshTime.IsZero() {
		l.RefreshTime = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_log (refresh_time, stories_refreshed, comments_refreshed, status, error_message)
		VALUES (?, ?, ?, ?, ?)
	`, l.RefreshTime, l.StoriesRefreshed, l.CommentsRefreshed, l.Status, l.ErrorMessage)
	if err != nil {
		return fmt.Errorf("log refresh: %w", err)
	}
	l.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) LastRefresh(ctx context.Context) (*RefreshLog, error) {
	var l RefreshLog
	err := s.db.GetContext(ctx, &l,
		"SELECT * FROM refresh_log ORDER BY refresh_time DESC, id DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last refresh: %w", err)
	}
	return &l, nil
}
