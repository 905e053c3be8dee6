package moderation

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/guardbot-gg/guardbot/common"
)

// GuildConfig is the per-guild moderation configuration. A guild that
// never saved one runs on DefaultGuildConfig.
type GuildConfig struct {
	GuildID int64 `json:"guild_id"`

	// ActionChannel receives audit log entries; 0 disables delivery.
	ActionChannel int64 `json:"action_channel"`
	ErrorChannel  int64 `json:"error_channel"`

	KickMessage    string `json:"kick_message"`
	BanMessage     string `json:"ban_message"`
	TimeoutMessage string `json:"timeout_message"`
	WarnMessage    string `json:"warn_message"`

	DefaultBanDeleteDays   int           `json:"default_ban_delete_days"`
	DefaultTimeoutDuration time.Duration `json:"default_timeout_duration"`

	LogBans     bool `json:"log_bans"`
	LogUnbans   bool `json:"log_unbans"`
	LogKicks    bool `json:"log_kicks"`
	LogTimeouts bool `json:"log_timeouts"`
	LogWarns    bool `json:"log_warns"`
}

func DefaultGuildConfig(guildID int64) *GuildConfig {
	return &GuildConfig{
		GuildID:                guildID,
		DefaultBanDeleteDays:   1,
		DefaultTimeoutDuration: DefaultTimeoutDuration,
		LogBans:                true,
		LogUnbans:              true,
		LogKicks:               true,
		LogTimeouts:            true,
		LogWarns:               true,
	}
}

// GuildConfigCache serves guild configs from a TTL cache in front of
// the store; configs change rarely and are read on every action.
type GuildConfigCache struct {
	store Store
	cache *gocache.Cache
	log   *logrus.Entry
}

func NewGuildConfigCache(store Store) *GuildConfigCache {
	return &GuildConfigCache{
		store: store,
		cache: gocache.New(5*time.Minute, 10*time.Minute),
		log:   common.GetPluginLogger("guildconfig"),
	}
}

func (c *GuildConfigCache) Get(ctx context.Context, guildID int64) (*GuildConfig, error) {
	key := strconv.FormatInt(guildID, 10)
	if v, ok := c.cache.Get(key); ok {
		return v.(*GuildConfig), nil
	}

	conf, err := c.store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return nil, common.ErrWithCaller(err)
	}
	if conf == nil {
		conf = DefaultGuildConfig(guildID)
	}

	c.cache.SetDefault(key, conf)
	return conf, nil
}

// Set persists the config and refreshes the cached copy.
func (c *GuildConfigCache) Set(ctx context.Context, conf *GuildConfig) error {
	if err := c.store.SetGuildConfig(ctx, conf.GuildID, conf); err != nil {
		return common.ErrWithCaller(err)
	}

	c.cache.SetDefault(strconv.FormatInt(conf.GuildID, 10), conf)
	return nil
}
