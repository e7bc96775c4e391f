package store

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    username     TEXT NOT NULL UNIQUE,
    karma        INTEGER,
    created_time DATETIME,
    about        TEXT,
    last_updated DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS stories (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    hn_id        INTEGER NOT NULL UNIQUE,
    title        TEXT NOT NULL DEFAULT '',
    url          TEXT,
    score        INTEGER,
    time         DATETIME,
    by_user_id   INTEGER REFERENCES users(id),
    descendants  INTEGER,
    text         TEXT,
    type         TEXT,
    is_top       BOOLEAN NOT NULL DEFAULT 0,
    last_updated DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stories_is_top ON stories(is_top);
CREATE INDEX IF NOT EXISTS idx_stories_score ON stories(score);

CREATE TABLE IF NOT EXISTS comments (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    hn_id          INTEGER NOT NULL UNIQUE,
    text           TEXT,
    time           DATETIME,
    by_user_id     INTEGER REFERENCES users(id),
    parent_hn_id   INTEGER,
    level          INTEGER NOT NULL DEFAULT 0,
    is_top_comment BOOLEAN NOT NULL DEFAULT 0,
    last_updated   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS story_comments (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    story_id     INTEGER NOT NULL REFERENCES stories(id),
    comment_id   INTEGER NOT NULL REFERENCES comments(id),
    comment_rank INTEGER NOT NULL,
    refresh_time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_story_comments_story ON story_comments(story_id);

CREATE TABLE IF NOT EXISTS refresh_log (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    refresh_time       DATETIME NOT NULL,
    stories_refreshed  INTEGER NOT NULL DEFAULT 0,
    comments_refreshed INTEGER NOT NULL DEFAULT 0,
    status             TEXT NOT NULL,
    error_message      TEXT
);

CREATE INDEX IF NOT EXISTS idx_refresh_log_time ON refresh_log(refresh_time);
`
