package platformpg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/flatmate/internal/platform"
)

// PostgresVoteTable stores votes with hand-written SQL over a pgx pool.
type PostgresVoteTable struct {
	pool *pgxpool.Pool
}

var _ platform.VoteTable = (*PostgresVoteTable)(nil)

// NewPostgresVoteTable constructs a pgx-backed vote table.
func NewPostgresVoteTable(pool *pgxpool.Pool) *PostgresVoteTable {
	return &PostgresVoteTable{pool: pool}
}

// Upsert inserts the vote or overwrites vote_type for an existing (post_id, user_id) pair.
func (table *PostgresVoteTable) Upsert(ctx context.Context, row platform.VoteRow) error {
	_, err := table.pool.Exec(ctx, `
INSERT INTO post_votes (post_id, user_id, vote_type)
VALUES ($1, $2, $3)
ON CONFLICT (post_id, user_id)
DO UPDATE SET vote_type = EXCLUDED.vote_type, updated_at = now()
`, row.PostID, row.UserID, row.VoteType)
	if err != nil {
		return fmt.Errorf("votes.upsert.pgx: %w", err)
	}
	return nil
}

// Delete removes the pair's vote. Deleting nothing is not an error.
func (table *PostgresVoteTable) Delete(ctx context.Context, match platform.VoteMatch) error {
	_, err := table.pool.Exec(ctx, `DELETE FROM post_votes WHERE post_id = $1 AND user_id = $2`, match.PostID, match.UserID)
	if err != nil {
		return fmt.Errorf("votes.delete.pgx: %w", err)
	}
	return nil
}

// Select returns the pair's vote rows.
func (table *PostgresVoteTable) Select(ctx context.Context, match platform.VoteMatch) ([]platform.VoteRow, error) {
	rows, err := table.pool.Query(ctx, `
SELECT post_id, user_id, vote_type
FROM post_votes
WHERE post_id = $1 AND user_id = $2
ORDER BY id
`, match.PostID, match.UserID)
	if err != nil {
		return nil, fmt.Errorf("votes.select.pgx: %w", err)
	}
	collected, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (platform.VoteRow, error) {
		var vote platform.VoteRow
		scanErr := row.Scan(&vote.PostID, &vote.UserID, &vote.VoteType)
		return vote, scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("votes.select.pgx: %w", err)
	}
	return collected, nil
}
