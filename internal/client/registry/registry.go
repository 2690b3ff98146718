package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cooklang/cooksync/internal/db"
	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS file_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	jid INTEGER NULL,
	deleted BOOLEAN NOT NULL DEFAULT 0,
	path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	hash TEXT NOT NULL DEFAULT '',
	modified_at TEXT NOT NULL, -- RFC3339Nano
	namespace_id INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_records_ns_path ON file_records(namespace_id, path, id);
CREATE INDEX IF NOT EXISTS idx_file_records_jid ON file_records(namespace_id, jid);

-- highest remote jid fully applied, own commits do not move it
CREATE TABLE IF NOT EXISTS sync_cursor (
	namespace_id INTEGER PRIMARY KEY,
	jid INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL,
	local_hash TEXT NOT NULL,
	remote_hash TEXT NOT NULL,
	remote_jid INTEGER NOT NULL,
	resolution TEXT NOT NULL,
	copy_path TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	namespace_id INTEGER NOT NULL
);
`

const recordColumns = "id, jid, deleted, path, size, hash, modified_at, namespace_id"

var (
	ErrNotOpen      = errors.New("registry not open")
	ErrStaleVersion = errors.New("journal id older than the acknowledged version")
)

type dbFileRecord struct {
	ID          int64         `db:"id"`
	JID         sql.NullInt64 `db:"jid"`
	Deleted     bool          `db:"deleted"`
	Path        string        `db:"path"`
	Size        int64         `db:"size"`
	Hash        string        `db:"hash"`
	ModifiedAt  string        `db:"modified_at"`
	NamespaceID int64         `db:"namespace_id"`
}

func (r *dbFileRecord) toRecord() (*FileRecord, error) {
	modTime, err := time.Parse(time.RFC3339Nano, r.ModifiedAt)
	if err != nil {
		return nil, fmt.Errorf("parse modified_at for %s: %w", r.Path, err)
	}
	rec := &FileRecord{
		ID:          r.ID,
		Deleted:     r.Deleted,
		Path:        r.Path,
		Size:        r.Size,
		Hash:        r.Hash,
		ModifiedAt:  modTime,
		NamespaceID: r.NamespaceID,
	}
	if r.JID.Valid {
		rec.JID = JID(r.JID.Int64)
	}
	return rec, nil
}

func fromRecord(rec *FileRecord) *dbFileRecord {
	row := &dbFileRecord{
		Deleted:     rec.Deleted,
		Path:        rec.Path,
		Size:        rec.Size,
		Hash:        rec.Hash,
		ModifiedAt:  rec.ModifiedAt.UTC().Format(time.RFC3339Nano),
		NamespaceID: rec.NamespaceID,
	}
	if rec.JID != nil {
		row.JID = sql.NullInt64{Int64: *rec.JID, Valid: true}
	}
	return row
}

type dbConflict struct {
	ID          int64  `db:"id"`
	Path        string `db:"path"`
	LocalHash   string `db:"local_hash"`
	RemoteHash  string `db:"remote_hash"`
	RemoteJID   int64  `db:"remote_jid"`
	Resolution  string `db:"resolution"`
	CopyPath    string `db:"copy_path"`
	CreatedAt   string `db:"created_at"`
	NamespaceID int64  `db:"namespace_id"`
}

// Registry is the local state store. Rows are only ever appended; the
// acknowledged manifest is derived from rows that carry a journal id.
type Registry struct {
	db        *sqlx.DB
	dbPath    string
	namespace int64

	// serializes writers, sqlite allows only one anyway
	mu sync.Mutex
}

// New creates a registry for the given namespace. Use ":memory:" for tests.
func New(dbPath string, namespace int64) *Registry {
	return &Registry{
		dbPath:    dbPath,
		namespace: namespace,
	}
}

func (r *Registry) Open() error {
	if r.db != nil {
		return fmt.Errorf("registry already open")
	}

	conn, err := db.NewSqliteDB(
		db.WithPath(r.dbPath),
		db.WithMaxOpenConns(1),
		db.WithSchema(schema),
	)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}

	r.db = conn
	slog.Debug("registry open", "path", r.dbPath, "namespace", r.namespace)
	return nil
}

func (r *Registry) Close() error {
	if r.db == nil {
		return ErrNotOpen
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Namespace returns the namespace id rows are written with
func (r *Registry) Namespace() int64 {
	return r.namespace
}

// Create appends records. Their IDs and namespace are filled in.
// Rows carrying a JID must not be older than the path's acknowledged version.
func (r *Registry) Create(ctx context.Context, recs ...*FileRecord) error {
	if r.db == nil {
		return ErrNotOpen
	}
	if len(recs) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, rec := range recs {
			rec.NamespaceID = r.namespace
			if rec.JID != nil {
				if err := r.checkVersion(ctx, tx, rec.Path, *rec.JID); err != nil {
					return err
				}
			}

			res, err := tx.NamedExecContext(ctx, `
				INSERT INTO file_records (jid, deleted, path, size, hash, modified_at, namespace_id)
				VALUES (:jid, :deleted, :path, :size, :hash, :modified_at, :namespace_id)`,
				fromRecord(rec))
			if err != nil {
				return fmt.Errorf("insert %s: %w", rec.Path, err)
			}
			if rec.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("insert %s: %w", rec.Path, err)
			}
		}
		return nil
	})
}

// Delete appends tombstones for the given records
func (r *Registry) Delete(ctx context.Context, recs ...*FileRecord) error {
	for _, rec := range recs {
		rec.Deleted = true
		rec.Size = 0
		rec.Hash = ""
	}
	return r.Create(ctx, recs...)
}

// UpdateJID marks a row as acknowledged under jid
func (r *Registry) UpdateJID(ctx context.Context, rec *FileRecord, jid int64) error {
	if r.db == nil {
		return ErrNotOpen
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return db.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := r.checkVersion(ctx, tx, rec.Path, jid); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE file_records SET jid = ? WHERE id = ? AND namespace_id = ?`, jid, rec.ID, r.namespace)
		if err != nil {
			return fmt.Errorf("update jid %s: %w", rec.Path, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update jid %s: record %d not found", rec.Path, rec.ID)
		}
		rec.JID = JID(jid)
		return nil
	})
}

func (r *Registry) checkVersion(ctx context.Context, tx *sqlx.Tx, path string, jid int64) error {
	var current int64
	err := tx.GetContext(ctx, &current,
		`SELECT COALESCE(MAX(jid), 0) FROM file_records WHERE namespace_id = ? AND path = ?`, r.namespace, path)
	if err != nil {
		return fmt.Errorf("current version %s: %w", path, err)
	}
	if jid < current {
		return fmt.Errorf("%w: %s jid=%d current=%d", ErrStaleVersion, path, jid, current)
	}
	return nil
}

// NonDeleted returns the latest row of every path that is not a tombstone
func (r *Registry) NonDeleted(ctx context.Context) ([]*FileRecord, error) {
	return r.selectRecords(ctx, `
		SELECT `+recordColumns+` FROM file_records
		WHERE id IN (SELECT MAX(id) FROM file_records WHERE namespace_id = ? GROUP BY path)
		AND deleted = 0
		ORDER BY path`, r.namespace)
}

// UpdatedLocally returns the latest row of every path whose latest row is not acknowledged yet
func (r *Registry) UpdatedLocally(ctx context.Context) ([]*FileRecord, error) {
	return r.selectRecords(ctx, `
		SELECT `+recordColumns+` FROM file_records
		WHERE id IN (SELECT MAX(id) FROM file_records WHERE namespace_id = ? GROUP BY path)
		AND jid IS NULL
		ORDER BY id`, r.namespace)
}

// Latest returns the latest row for path, nil if the path was never seen
func (r *Registry) Latest(ctx context.Context, path string) (*FileRecord, error) {
	return r.selectOne(ctx, `
		SELECT `+recordColumns+` FROM file_records
		WHERE namespace_id = ? AND path = ?
		ORDER BY id DESC LIMIT 1`, r.namespace, path)
}

// Acknowledged returns the latest acknowledged row for path (possibly a tombstone), nil if none
func (r *Registry) Acknowledged(ctx context.Context, path string) (*FileRecord, error) {
	return r.selectOne(ctx, `
		SELECT `+recordColumns+` FROM file_records
		WHERE namespace_id = ? AND path = ? AND jid IS NOT NULL
		ORDER BY jid DESC, id DESC LIMIT 1`, r.namespace, path)
}

// LatestJID is the highest journal id seen, 0 when nothing was synced yet
func (r *Registry) LatestJID(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, ErrNotOpen
	}
	var jid int64
	err := r.db.GetContext(ctx, &jid, `SELECT COALESCE(MAX(jid), 0) FROM file_records WHERE namespace_id = ?`, r.namespace)
	if err != nil {
		return 0, fmt.Errorf("latest jid: %w", err)
	}
	return jid, nil
}

// Cursor is the remote jid up to which the journal was applied
func (r *Registry) Cursor(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, ErrNotOpen
	}
	var jid int64
	err := r.db.GetContext(ctx, &jid, `SELECT jid FROM sync_cursor WHERE namespace_id = ?`, r.namespace)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cursor: %w", err)
	}
	return jid, nil
}

// SetCursor stores the applied remote jid. Use 0 to list everything again.
func (r *Registry) SetCursor(ctx context.Context, jid int64) error {
	if r.db == nil {
		return ErrNotOpen
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sync_cursor (namespace_id, jid) VALUES (?, ?)`, r.namespace, jid)
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// Manifest returns the last acknowledged state of every live path
func (r *Registry) Manifest(ctx context.Context) (*SyncManifest, error) {
	recs, err := r.selectRecords(ctx, `
		SELECT `+recordColumns+` FROM file_records
		WHERE id IN (
			SELECT MAX(id) FROM file_records
			WHERE namespace_id = ? AND jid IS NOT NULL
			GROUP BY path
		)`, r.namespace)
	if err != nil {
		return nil, err
	}

	manifest := NewSyncManifest()
	for _, rec := range recs {
		if !rec.Deleted {
			manifest.Records[rec.Path] = rec
		}
	}
	return manifest, nil
}

// PendingCount is the number of paths waiting for acknowledgment
func (r *Registry) PendingCount(ctx context.Context) (int, error) {
	if r.db == nil {
		return 0, ErrNotOpen
	}
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM file_records
		WHERE id IN (SELECT MAX(id) FROM file_records WHERE namespace_id = ? GROUP BY path)
		AND jid IS NULL`, r.namespace)
	return n, err
}

// RecordConflict stores a conflict marker
func (r *Registry) RecordConflict(ctx context.Context, m *ConflictMarker) error {
	if r.db == nil {
		return ErrNotOpen
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.NamedExecContext(ctx, `
		INSERT INTO conflicts (path, local_hash, remote_hash, remote_jid, resolution, copy_path, created_at, namespace_id)
		VALUES (:path, :local_hash, :remote_hash, :remote_jid, :resolution, :copy_path, :created_at, :namespace_id)`,
		&dbConflict{
			Path:        m.Path,
			LocalHash:   m.LocalHash,
			RemoteHash:  m.RemoteHash,
			RemoteJID:   m.RemoteJID,
			Resolution:  string(m.Resolution),
			CopyPath:    m.CopyPath,
			CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339Nano),
			NamespaceID: r.namespace,
		})
	if err != nil {
		return fmt.Errorf("record conflict %s: %w", m.Path, err)
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// Conflicts lists recorded conflicts, newest first
func (r *Registry) Conflicts(ctx context.Context) ([]*ConflictMarker, error) {
	if r.db == nil {
		return nil, ErrNotOpen
	}

	var rows []dbConflict
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, path, local_hash, remote_hash, remote_jid, resolution, copy_path, created_at, namespace_id
		FROM conflicts WHERE namespace_id = ? ORDER BY id DESC`, r.namespace)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}

	markers := make([]*ConflictMarker, 0, len(rows))
	for _, row := range rows {
		created, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
		if err != nil {
			slog.Warn("registry conflict timestamp", "id", row.ID, "error", err)
		}
		markers = append(markers, &ConflictMarker{
			ID:         row.ID,
			Path:       row.Path,
			LocalHash:  row.LocalHash,
			RemoteHash: row.RemoteHash,
			RemoteJID:  row.RemoteJID,
			Resolution: Resolution(row.Resolution),
			CopyPath:   row.CopyPath,
			CreatedAt:  created,
		})
	}
	return markers, nil
}

func (r *Registry) selectRecords(ctx context.Context, query string, args ...any) ([]*FileRecord, error) {
	if r.db == nil {
		return nil, ErrNotOpen
	}

	var rows []dbFileRecord
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	recs := make([]*FileRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (r *Registry) selectOne(ctx context.Context, query string, args ...any) (*FileRecord, error) {
	recs, err := r.selectRecords(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// Paths returns the distinct paths in the registry matching prefix
func (r *Registry) Paths(ctx context.Context, prefix string) ([]string, error) {
	if r.db == nil {
		return nil, ErrNotOpen
	}
	var paths []string
	err := r.db.SelectContext(ctx, &paths,
		`SELECT DISTINCT path FROM file_records WHERE namespace_id = ? AND path LIKE ? ESCAPE '\' ORDER BY path`,
		r.namespace, escapeLike(prefix)+"%")
	return paths, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
