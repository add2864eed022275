package rolecooldown

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrGuildNotFound = errors.New("guild not found")

// MentionableStore persists one GuildMentionables document per guild.
type MentionableStore interface {
	// Find returns ErrGuildNotFound if the guild has no document
	Find(ctx context.Context, guildID string) (*GuildMentionables, error)

	// Create inserts an empty document for the guild. It's not an error
	// if one already exists.
	Create(ctx context.Context, guildID string) (*GuildMentionables, error)

	// Save writes the document, replacing any existing one
	Save(ctx context.Context, doc *GuildMentionables) error

	// Delete removes the guild's document, reporting whether one existed
	Delete(ctx context.Context, guildID string) (bool, error)

	// GuildIDs returns the IDs of every guild with a document
	GuildIDs(ctx context.Context) ([]string, error)
}

// gormMentionableStore is the MentionableStore used by the bot
type gormMentionableStore struct {
	db DBI
}

func newMentionableStore(db DBI) *gormMentionableStore {
	return &gormMentionableStore{db: db}
}

func (s *gormMentionableStore) Find(
	ctx context.Context,
	guildID string,
) (*GuildMentionables, error) {
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	var doc GuildMentionables
	err := s.db.DB().WithContext(ctx).Where("guild_id = ?", guildID).Take(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrGuildNotFound, guildID)
		}
		return nil, err
	}
	if doc.Mentionables == nil {
		doc.Mentionables = MentionableSet{}
	}
	return &doc, nil
}

func (s *gormMentionableStore) Create(
	ctx context.Context,
	guildID string,
) (*GuildMentionables, error) {
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(
				NewGuildMentionables(guildID),
			).Error
		},
	)
	if err != nil {
		return nil, err
	}
	return s.Find(ctx, guildID)
}

func (s *gormMentionableStore) Save(ctx context.Context, doc *GuildMentionables) error {
	if doc.Mentionables == nil {
		doc.Mentionables = MentionableSet{}
	}
	_, err := s.db.Save(ctx, doc)
	return err
}

func (s *gormMentionableStore) Delete(ctx context.Context, guildID string) (bool, error) {
	rowsAffected, err := s.db.Delete(
		ctx,
		&GuildMentionables{},
		"guild_id = ?",
		guildID,
	)
	return rowsAffected > 0, err
}

func (s *gormMentionableStore) GuildIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := withOperationTimeout(ctx)
	defer cancel()

	var ids []string
	err := s.db.DB().WithContext(ctx).Model(&GuildMentionables{}).Order("guild_id").Pluck(
		"guild_id",
		&ids,
	).Error
	return ids, err
}
