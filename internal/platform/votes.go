package platform

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// VoteRow is one user's vote on a community post.
type VoteRow struct {
	PostID   string `json:"post_id"`
	UserID   string `json:"user_id"`
	VoteType int    `json:"vote_type"`
}

// VoteMatch selects vote rows by post and user.
type VoteMatch struct {
	PostID string
	UserID string
}

// VoteTable is the votes relation. Upsert conflicts on (post_id, user_id).
type VoteTable interface {
	Upsert(ctx context.Context, row VoteRow) error
	Delete(ctx context.Context, match VoteMatch) error
	Select(ctx context.Context, match VoteMatch) ([]VoteRow, error)
}

type postVoteRecord struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	PostID    string    `gorm:"column:post_id;not null;uniqueIndex:idx_post_votes_post_user"`
	UserID    string    `gorm:"column:user_id;not null;uniqueIndex:idx_post_votes_post_user;index"`
	VoteType  int       `gorm:"column:vote_type;not null;check:chk_post_votes_vote_type,vote_type IN (-1, 1)"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (postVoteRecord) TableName() string {
	return "post_votes"
}

// DatabaseVoteTable stores votes through GORM.
type DatabaseVoteTable struct {
	database *Database
}

// NewDatabaseVoteTable constructs a GORM-backed vote table.
func NewDatabaseVoteTable(database *Database) *DatabaseVoteTable {
	return &DatabaseVoteTable{database: database}
}

// Upsert inserts the vote or overwrites the existing vote_type for the pair.
func (table *DatabaseVoteTable) Upsert(ctx context.Context, row VoteRow) error {
	record := postVoteRecord{
		PostID:   row.PostID,
		UserID:   row.UserID,
		VoteType: row.VoteType,
	}
	err := table.database.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"vote_type", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("votes.upsert.%s: %w", table.database.driverLabel, err)
	}
	return nil
}

// Delete removes matching rows. Deleting nothing is not an error.
func (table *DatabaseVoteTable) Delete(ctx context.Context, match VoteMatch) error {
	err := table.database.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", match.PostID, match.UserID).
		Delete(&postVoteRecord{}).Error
	if err != nil {
		return fmt.Errorf("votes.delete.%s: %w", table.database.driverLabel, err)
	}
	return nil
}

// Select returns matching rows.
func (table *DatabaseVoteTable) Select(ctx context.Context, match VoteMatch) ([]VoteRow, error) {
	var records []postVoteRecord
	err := table.database.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", match.PostID, match.UserID).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("votes.select.%s: %w", table.database.driverLabel, err)
	}
	rows := make([]VoteRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, VoteRow{PostID: record.PostID, UserID: record.UserID, VoteType: record.VoteType})
	}
	return rows, nil
}

// rowLevelVoteTable restricts every operation to the session user's own rows.
type rowLevelVoteTable struct {
	client *requestClient
	table  VoteTable
}

func (scoped rowLevelVoteTable) authorize(ctx context.Context, userID string) error {
	user, err := scoped.client.GetUser(ctx)
	if err != nil {
		return err
	}
	if user.ID != userID {
		return fmt.Errorf("votes.authorize: %w", ErrRowLevelSecurity)
	}
	return nil
}

func (scoped rowLevelVoteTable) Upsert(ctx context.Context, row VoteRow) error {
	if err := scoped.authorize(ctx, row.UserID); err != nil {
		return err
	}
	return scoped.table.Upsert(ctx, row)
}

func (scoped rowLevelVoteTable) Delete(ctx context.Context, match VoteMatch) error {
	if err := scoped.authorize(ctx, match.UserID); err != nil {
		return err
	}
	return scoped.table.Delete(ctx, match)
}

func (scoped rowLevelVoteTable) Select(ctx context.Context, match VoteMatch) ([]VoteRow, error) {
	if err := scoped.authorize(ctx, match.UserID); err != nil {
		return nil, err
	}
	return scoped.table.Select(ctx, match)
}
