package rolecooldown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lmittmann/tint"
)

// CooldownRepository provides cache-first access to each guild's
// MentionableSet. Writes go to the store first, and the guild's cache
// entry is only invalidated once the store write succeeds, so a failed
// write leaves the cache as it was.
//
// Callers always receive copies, so they can't modify the cache.
type CooldownRepository struct {
	store  MentionableStore
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	set   MentionableSet
	stale bool

	// generation is incremented on every invalidation, so a read that
	// raced with a write doesn't repopulate the cache with the old set
	generation uint64
}

func NewCooldownRepository(store MentionableStore, logger *slog.Logger) *CooldownRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &CooldownRepository{
		store:  store,
		logger: logger.With(loggerNameKey, "repository"),
		cache:  map[string]*cacheEntry{},
	}
}

// GetSet returns the guild's registered roles. If the guild has no
// stored document, an empty one is created.
func (r *CooldownRepository) GetSet(ctx context.Context, guildID string) (
	MentionableSet,
	error,
) {
	r.mu.Lock()
	entry, ok := r.cache[guildID]
	if ok && !entry.stale {
		set := entry.set.Clone()
		r.mu.Unlock()
		repositoryCacheTotal.WithLabelValues("hit").Inc()
		return set, nil
	}
	if !ok {
		entry = &cacheEntry{stale: true}
		r.cache[guildID] = entry
	}
	generation := entry.generation
	r.mu.Unlock()

	repositoryCacheTotal.WithLabelValues("miss").Inc()

	doc, err := r.Provision(ctx, guildID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if current, exists := r.cache[guildID]; exists && current == entry &&
		current.generation == generation {
		current.set = doc.Mentionables.Clone()
		current.stale = false
	}
	return doc.Mentionables, nil
}

// GetRecord returns the role's record, and whether the role is registered
func (r *CooldownRepository) GetRecord(
	ctx context.Context,
	guildID string,
	roleID string,
) (MentionableRecord, bool, error) {
	set, err := r.GetSet(ctx, guildID)
	if err != nil {
		return MentionableRecord{}, false, err
	}
	record, ok := set[roleID]
	return record, ok, nil
}

// UpsertRecord writes the role's record through to the store
func (r *CooldownRepository) UpsertRecord(
	ctx context.Context,
	guildID string,
	roleID string,
	record MentionableRecord,
) error {
	doc, err := r.Provision(ctx, guildID)
	if err != nil {
		return err
	}

	doc = doc.Clone()
	doc.Mentionables[roleID] = record
	if err = r.store.Save(ctx, doc); err != nil {
		r.logger.ErrorContext(
			ctx,
			"error saving mentionable",
			"guild_id", guildID,
			"role_id", roleID,
			"record", record,
			tint.Err(err),
		)
		return fmt.Errorf("error saving mentionables for guild %s: %w", guildID, err)
	}

	r.Invalidate(guildID)
	return nil
}

// RemoveRecord removes the role from the guild's set. It returns false,
// without writing anything, if the role isn't registered.
func (r *CooldownRepository) RemoveRecord(
	ctx context.Context,
	guildID string,
	roleID string,
) (bool, error) {
	doc, err := r.Provision(ctx, guildID)
	if err != nil {
		return false, err
	}
	if _, ok := doc.Mentionables[roleID]; !ok {
		return false, nil
	}

	doc = doc.Clone()
	delete(doc.Mentionables, roleID)
	if err = r.store.Save(ctx, doc); err != nil {
		return false, fmt.Errorf("error saving mentionables for guild %s: %w", guildID, err)
	}

	r.Invalidate(guildID)
	return true, nil
}

// Provision returns the guild's stored document, creating an empty
// one if it doesn't exist. The cache isn't consulted.
func (r *CooldownRepository) Provision(
	ctx context.Context,
	guildID string,
) (*GuildMentionables, error) {
	doc, err := r.store.Find(ctx, guildID)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, ErrGuildNotFound) {
		return nil, fmt.Errorf("error loading mentionables for guild %s: %w", guildID, err)
	}

	r.logger.InfoContext(ctx, "creating mentionables for guild", "guild_id", guildID)
	doc, err = r.store.Create(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("error creating mentionables for guild %s: %w", guildID, err)
	}
	return doc, nil
}

// DeleteGuild removes the guild's stored document and cache entry
func (r *CooldownRepository) DeleteGuild(ctx context.Context, guildID string) error {
	deleted, err := r.store.Delete(ctx, guildID)
	if err != nil {
		return fmt.Errorf("error deleting mentionables for guild %s: %w", guildID, err)
	}
	r.logger.InfoContext(ctx, "deleted guild", "guild_id", guildID, "existed", deleted)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, guildID)
	return nil
}

// Invalidate marks the guild's cache entry as stale, so the next read
// goes to the store
func (r *CooldownRepository) Invalidate(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[guildID]
	if !ok {
		return
	}
	entry.stale = true
	entry.set = nil
	entry.generation++
}

// GuildIDs returns the IDs of every guild in the store
func (r *CooldownRepository) GuildIDs(ctx context.Context) ([]string, error) {
	return r.store.GuildIDs(ctx)
}
