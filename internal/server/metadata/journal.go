package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cooklang/cooksync/internal/db"
	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal (
	jid INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	namespace_id INTEGER NOT NULL,
	path TEXT NOT NULL,
	deleted BOOLEAN NOT NULL DEFAULT 0,
	chunk_ids TEXT NOT NULL DEFAULT '[]', -- json array
	hash TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	modified_at TEXT NOT NULL, -- RFC3339Nano
	origin TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_scope_jid ON journal(user_id, namespace_id, jid);
CREATE INDEX IF NOT EXISTS idx_journal_scope_path ON journal(user_id, namespace_id, path, jid);
`

const journalColumns = "jid, path, deleted, chunk_ids, hash, size, modified_at, origin"

// latest row of every path in a scope
const latestRowsQuery = `
SELECT ` + journalColumns + ` FROM journal
WHERE jid IN (
	SELECT MAX(jid) FROM journal
	WHERE user_id = ? AND namespace_id = ?
	GROUP BY path
)`

type dbRecord struct {
	JID        int64  `db:"jid"`
	Path       string `db:"path"`
	Deleted    bool   `db:"deleted"`
	ChunkIDs   string `db:"chunk_ids"`
	Hash       string `db:"hash"`
	Size       int64  `db:"size"`
	ModifiedAt string `db:"modified_at"`
	Origin     string `db:"origin"`
}

func (r *dbRecord) toRemote() (*syncmsg.RemoteRecord, error) {
	modTime, err := time.Parse(time.RFC3339Nano, r.ModifiedAt)
	if err != nil {
		return nil, fmt.Errorf("parse modified_at for %s: %w", r.Path, err)
	}
	ids := []string{}
	if err := json.Unmarshal([]byte(r.ChunkIDs), &ids); err != nil {
		return nil, fmt.Errorf("parse chunk_ids for %s: %w", r.Path, err)
	}
	return &syncmsg.RemoteRecord{
		JID:        r.JID,
		Path:       r.Path,
		Deleted:    r.Deleted,
		ChunkIDs:   ids,
		Hash:       r.Hash,
		Size:       r.Size,
		ModifiedAt: modTime,
		Origin:     r.Origin,
	}, nil
}

// Journal is the append-only metadata log. Every commit appends one row and
// gets the next journal id, so a path's versions are ordered by jid.
type Journal struct {
	db *sqlx.DB
	// per user byte quota over live files, 0 for none
	quota int64
	// one writer at a time keeps the base jid check and the insert atomic
	mu sync.Mutex
}

type JournalOption func(*Journal)

func WithQuota(bytes int64) JournalOption {
	return func(j *Journal) {
		j.quota = bytes
	}
}

// NewJournal opens the journal at dbPath, ":memory:" for tests
func NewJournal(dbPath string, opts ...JournalOption) (*Journal, error) {
	conn, err := db.NewSqliteDB(
		db.WithPath(dbPath),
		db.WithMaxOpenConns(4),
		db.WithSchema(schema, grantsSchema),
	)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{db: conn}
	for _, opt := range opts {
		opt(j)
	}
	slog.Debug("journal open", "path", dbPath, "quota", j.quota)
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// List returns the latest record of every path whose latest jid is above
// after, ordered by jid, plus the highest jid of the scope.
func (j *Journal) List(ctx context.Context, scope Scope, after int64) ([]*syncmsg.RemoteRecord, int64, error) {
	var rows []*dbRecord
	err := j.db.SelectContext(ctx, &rows,
		latestRowsQuery+` AND jid > ? ORDER BY jid`,
		scope.User, scope.Namespace, after,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list journal: %w", err)
	}

	latest, err := j.LatestJID(ctx, scope)
	if err != nil {
		return nil, 0, err
	}

	records := make([]*syncmsg.RemoteRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRemote()
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, latest, nil
}

// LatestJID is the highest jid in scope, 0 for an empty scope
func (j *Journal) LatestJID(ctx context.Context, scope Scope) (int64, error) {
	var latest sql.NullInt64
	err := j.db.GetContext(ctx, &latest,
		`SELECT MAX(jid) FROM journal WHERE user_id = ? AND namespace_id = ?`,
		scope.User, scope.Namespace,
	)
	if err != nil {
		return 0, fmt.Errorf("latest jid: %w", err)
	}
	return latest.Int64, nil
}

// Usage is the size of all live files of user, over every namespace
func (j *Journal) Usage(ctx context.Context, user string) (int64, error) {
	return j.usage(ctx, j.db, user)
}

func (j *Journal) usage(ctx context.Context, q sqlx.QueryerContext, user string) (int64, error) {
	var used sql.NullInt64
	err := sqlx.GetContext(ctx, q, &used, `
		SELECT SUM(size) FROM journal
		WHERE deleted = 0 AND jid IN (
			SELECT MAX(jid) FROM journal WHERE user_id = ? GROUP BY namespace_id, path
		)`, user)
	if err != nil {
		return 0, fmt.Errorf("usage: %w", err)
	}
	return used.Int64, nil
}

// Commit appends req as the new version of its path. It fails with a
// ConflictError when the path moved past req.BaseJID and with a QuotaError
// when the live bytes of the user would exceed the quota.
func (j *Journal) Commit(ctx context.Context, scope Scope, req *syncmsg.CommitRequest, origin string) (int64, error) {
	if !ValidPath(req.Path) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPath, req.Path)
	}

	ids := req.ChunkIDs
	if ids == nil || req.Deleted {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return 0, err
	}
	size := req.Size
	if req.Deleted {
		size = 0
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	var jid int64
	err = db.WithTx(ctx, j.db, func(tx *sqlx.Tx) error {
		var prev struct {
			JID     int64 `db:"jid"`
			Deleted bool  `db:"deleted"`
			Size    int64 `db:"size"`
		}
		err := tx.GetContext(ctx, &prev, `
			SELECT jid, deleted, size FROM journal
			WHERE user_id = ? AND namespace_id = ? AND path = ?
			ORDER BY jid DESC LIMIT 1`,
			scope.User, scope.Namespace, req.Path,
		)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("latest version: %w", err)
		}
		if prev.JID > req.BaseJID {
			return &ConflictError{Path: req.Path, BaseJID: req.BaseJID, LatestJID: prev.JID}
		}

		if j.quota > 0 && !req.Deleted {
			used, err := j.usage(ctx, tx, scope.User)
			if err != nil {
				return err
			}
			if !prev.Deleted {
				used -= prev.Size
			}
			if used+size > j.quota {
				return &QuotaError{Used: used, Need: size, Quota: j.quota}
			}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO journal (user_id, namespace_id, path, deleted, chunk_ids, hash, size, modified_at, origin, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			scope.User, scope.Namespace, req.Path, req.Deleted, string(idsJSON), req.Hash, size,
			req.ModifiedAt.UTC().Format(time.RFC3339Nano), origin, time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert journal row: %w", err)
		}
		jid, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	slog.Debug("journal commit", "scope", scope, "path", req.Path, "jid", jid, "deleted", req.Deleted, "origin", origin)
	return jid, nil
}

// ValidPath accepts clean, relative, slash separated paths
func ValidPath(p string) bool {
	if p == "" || p == "." || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	if path.Clean(p) != p || p == ".." || strings.HasPrefix(p, "../") {
		return false
	}
	first, _, _ := strings.Cut(p, "/")
	return first != ".cooksync"
}
