package store

import "database/sql"

const ddl = `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS collections (
    name       TEXT PRIMARY KEY,
    model      TEXT NOT NULL,
    dimension  INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS files (
    collection  TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
    path        TEXT NOT NULL,
    hash        TEXT NOT NULL,
    fingerprint TEXT NOT NULL DEFAULT '',
    language    TEXT NOT NULL DEFAULT '',
    size_bytes  INTEGER NOT NULL DEFAULT 0,
    indexed_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (collection, path)
);

CREATE TABLE IF NOT EXISTS chunks (
    collection   TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
    id           TEXT NOT NULL,
    path         TEXT NOT NULL,
    language     TEXT NOT NULL DEFAULT '',
    kind         TEXT NOT NULL DEFAULT '',
    name         TEXT NOT NULL DEFAULT '',
    start_line   INTEGER NOT NULL,
    end_line     INTEGER NOT NULL,
    content      TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    strategy     TEXT NOT NULL DEFAULT '',
    tokens       INTEGER NOT NULL DEFAULT 0,
    embedding    BLOB NOT NULL,
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(collection, path);
`

// Init creates the schema tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(ddl)
	return err
}
