package moderation

import (
	"context"
)

// StoredGuild is a guild's full persisted moderation state. Map keys
// marshal as strings, so the on-disk layout of warnings and tempbans is
// map<string, ...> keyed by user ID.
type StoredGuild struct {
	BlockedUsers []int64             `json:"blocked_users"`
	Moderators   []int64             `json:"moderators"`
	Warnings     map[int64][]Warning `json:"warnings"`
	TempBans     map[int64]TempBan   `json:"tempbans"`
}

// Store is the durable per-guild record store: the source of truth,
// slow, and authoritative on restart. Each collection is independently
// readable and writable, and a read following a successful write
// observes the new value.
//
// A guild never written to is not an error: GetGuild returns an empty
// record and GetGuildConfig returns nil.
type Store interface {
	GetGuild(ctx context.Context, guildID int64) (*StoredGuild, error)
	GetTempBans(ctx context.Context, guildID int64) (map[int64]TempBan, error)

	SetBlockedUsers(ctx context.Context, guildID int64, users []int64) error
	SetModerators(ctx context.Context, guildID int64, users []int64) error
	SetWarnings(ctx context.Context, guildID int64, userID int64, warnings []Warning) error
	SetTempBans(ctx context.Context, guildID int64, bans map[int64]TempBan) error

	GetGuildConfig(ctx context.Context, guildID int64) (*GuildConfig, error)
	SetGuildConfig(ctx context.Context, guildID int64, conf *GuildConfig) error

	// ListGuilds returns the IDs of all guilds that have ever been
	// written to, for the expiry scheduler's scan.
	ListGuilds(ctx context.Context) ([]int64, error)
}
