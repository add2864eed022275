package rolecooldown

import (
	"context"
	"errors"
	"slices"
	"sync"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GuildConfig holds per-guild bot settings
type GuildConfig struct {
	GuildID string `gorm:"primaryKey" json:"guild_id"`

	// AdminRoles are role IDs whose members can manage cooldowns,
	// in addition to guild administrators
	AdminRoles datatypes.JSONSlice[string] `json:"admin_roles"`

	ModelUnixTime
}

// guildConfigStore reads and writes GuildConfig records. Reads create
// a default record if the guild doesn't have one.
type guildConfigStore struct {
	db DBI
	mu sync.Mutex
}

func newGuildConfigStore(db DBI) *guildConfigStore {
	return &guildConfigStore{db: db}
}

func (s *guildConfigStore) Get(ctx context.Context, guildID string) (*GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(ctx, guildID)
}

func (s *guildConfigStore) getOrCreate(ctx context.Context, guildID string) (
	*GuildConfig,
	error,
) {
	var cfg GuildConfig
	err := s.db.DB().WithContext(ctx).Where("guild_id = ?", guildID).Take(&cfg).Error
	if err == nil {
		return &cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cfg = GuildConfig{GuildID: guildID, AdminRoles: datatypes.JSONSlice[string]{}}
	err = s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&cfg).Error
		},
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AddAdminRole adds the role to the guild's admin roles. It returns
// false if the role was already present.
func (s *guildConfigStore) AddAdminRole(
	ctx context.Context,
	guildID string,
	roleID string,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.getOrCreate(ctx, guildID)
	if err != nil {
		return false, err
	}
	if slices.Contains(cfg.AdminRoles, roleID) {
		return false, nil
	}
	cfg.AdminRoles = append(cfg.AdminRoles, roleID)
	if _, err = s.db.Save(ctx, cfg); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveAdminRole removes the role from the guild's admin roles. It
// returns false if the role wasn't present.
func (s *guildConfigStore) RemoveAdminRole(
	ctx context.Context,
	guildID string,
	roleID string,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.getOrCreate(ctx, guildID)
	if err != nil {
		return false, err
	}
	idx := slices.Index(cfg.AdminRoles, roleID)
	if idx == -1 {
		return false, nil
	}
	cfg.AdminRoles = slices.Delete(cfg.AdminRoles, idx, idx+1)
	if _, err = s.db.Save(ctx, cfg); err != nil {
		return false, err
	}
	return true, nil
}

func (s *guildConfigStore) Delete(ctx context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Delete(ctx, &GuildConfig{}, "guild_id = ?", guildID)
	return err
}
