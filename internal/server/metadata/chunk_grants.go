package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/cooklang/cooksync/internal/db"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jmoiron/sqlx"
)

// A user may read or reference a chunk only after uploading it. The blob
// store itself is shared between users.
const grantsSchema = `
CREATE TABLE IF NOT EXISTS chunk_grants (
	user_id TEXT NOT NULL,
	chunk_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (user_id, chunk_id)
) WITHOUT ROWID;
`

// sqlite caps bound variables per statement
const grantsQueryBatch = 500

// GrantChunks records that user uploaded ids
func (j *Journal) GrantChunks(ctx context.Context, user string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return db.WithTx(ctx, j.db, func(tx *sqlx.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO chunk_grants (user_id, chunk_id, created_at) VALUES (?, ?, ?)`,
				user, id, now,
			); err != nil {
				return fmt.Errorf("grant chunk %s: %w", id, err)
			}
		}
		return nil
	})
}

// GrantedChunks returns the subset of ids user may read
func (j *Journal) GrantedChunks(ctx context.Context, user string, ids []string) (mapset.Set[string], error) {
	granted := mapset.NewThreadUnsafeSet[string]()
	for start := 0; start < len(ids); start += grantsQueryBatch {
		batch := ids[start:min(start+grantsQueryBatch, len(ids))]
		query, args, err := sqlx.In(`SELECT chunk_id FROM chunk_grants WHERE user_id = ? AND chunk_id IN (?)`, user, batch)
		if err != nil {
			return nil, err
		}
		var found []string
		if err := j.db.SelectContext(ctx, &found, j.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("granted chunks: %w", err)
		}
		granted.Append(found...)
	}
	return granted, nil
}

// Ungranted returns the ids of ids user may not read, each once, in order
func (j *Journal) Ungranted(ctx context.Context, user string, ids []string) ([]string, error) {
	granted, err := j.GrantedChunks(ctx, user, ids)
	if err != nil {
		return nil, err
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0)
	for _, id := range ids {
		if id == "" || !seen.Add(id) || granted.Contains(id) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
