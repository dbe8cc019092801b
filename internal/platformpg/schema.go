package platformpg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const voteSchema = `
CREATE TABLE IF NOT EXISTS post_votes (
    id BIGSERIAL PRIMARY KEY,
    post_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    vote_type SMALLINT NOT NULL CONSTRAINT chk_post_votes_vote_type CHECK (vote_type IN (-1, 1)),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_post_votes_post_user ON post_votes (post_id, user_id);
CREATE INDEX IF NOT EXISTS idx_post_votes_user ON post_votes (user_id);
`

// EnsureSchema creates the votes table and its indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, voteSchema); err != nil {
		return fmt.Errorf("platformpg.schema: %w", err)
	}
	return nil
}
