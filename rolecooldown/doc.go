// Package rolecooldown implements a Discord bot that puts registered roles
// on a mention cooldown.
//
// When a registered role is mentioned, the bot records the usage, turns off
// the role's mentionable flag, and turns it back on once the role's cooldown
// has elapsed. Mentions of a role that is already cooling down are deleted,
// and the author is told how long remains.
//
// Key components of the package include:
//
//   - Bot: The main struct that owns the runtime, database and Discord session.
//   - CooldownEngine: Usage handling, the one-second sweep loop, and guild
//     join/leave reconciliation.
//   - CooldownRepository: Cache-first access to each guild's registered roles.
//   - CooldownTracker: The in-memory set of roles currently on cooldown.
//   - Discord: Gateway event handling and slash commands.
//   - API: An optional backend API for administration and metrics.
//
// The bot supports various commands:
//
//   - /rolecooldown add|remove: Register or unregister a role cooldown.
//   - /list all|cooldowns: Show registered roles, or those on cooldown.
//   - /config display|admin-role: Manage which roles may administer the bot.
//   - /ping, /help
package rolecooldown
