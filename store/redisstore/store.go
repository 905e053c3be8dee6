// Package redisstore is the production moderation.Store, keeping each
// guild's collections as JSON values in redis.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"emperror.dev/errors"
	"github.com/cenkalti/backoff"
	jsoniter "github.com/json-iterator/go"
	"github.com/mediocregopher/radix/v3"

	"github.com/guardbot-gg/guardbot/moderation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const keyGuildIndex = "guild_state:guilds"

func keyBlocked(guildID int64) string {
	return fmt.Sprintf("guild_state:%d:blocked_users", guildID)
}

func keyModerators(guildID int64) string {
	return fmt.Sprintf("guild_state:%d:moderators", guildID)
}

func keyWarnings(guildID int64) string {
	return fmt.Sprintf("guild_state:%d:warnings", guildID)
}

func keyTempBans(guildID int64) string {
	return fmt.Sprintf("guild_state:%d:tempbans", guildID)
}

func keyConfig(guildID int64) string {
	return fmt.Sprintf("guild_state:%d:config", guildID)
}

var _ moderation.Store = (*Store)(nil)

type Store struct {
	pool *radix.Pool
}

// Open connects to redis at addr, retrying with exponential backoff:
// during startup redis is regularly a moment behind us.
func Open(addr string, poolSize int) (*Store, error) {
	if poolSize < 1 {
		poolSize = 10
	}

	var pool *radix.Pool
	connect := func() error {
		var err error
		pool, err = radix.NewPool("tcp", addr, poolSize)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Minute

	if err := backoff.Retry(connect, policy); err != nil {
		return nil, errors.WithMessage(err, "redisstore: connect")
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

// setJSON writes one collection and registers the guild in the index
// set that backs ListGuilds.
func (s *Store) setJSON(guildID int64, key string, v interface{}) error {
	serialized, err := json.Marshal(v)
	if err != nil {
		return errors.WithMessage(err, "marshal")
	}

	err = s.pool.Do(radix.FlatCmd(nil, "SET", key, serialized))
	if err != nil {
		return errors.WithStackIf(err)
	}

	return s.pool.Do(radix.FlatCmd(nil, "SADD", keyGuildIndex, guildID))
}

// getJSON reads one collection; a missing key leaves dest untouched and
// reports found=false.
func (s *Store) getJSON(key string, dest interface{}) (bool, error) {
	var raw []byte
	err := s.pool.Do(radix.Cmd(&raw, "GET", key))
	if err != nil {
		return false, errors.WithStackIf(err)
	}

	if len(raw) == 0 {
		return false, nil
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return false, errors.WithMessage(err, "unmarshal")
	}

	return true, nil
}

func (s *Store) GetGuild(ctx context.Context, guildID int64) (*moderation.StoredGuild, error) {
	sg := &moderation.StoredGuild{
		Warnings: make(map[int64][]moderation.Warning),
		TempBans: make(map[int64]moderation.TempBan),
	}

	if _, err := s.getJSON(keyBlocked(guildID), &sg.BlockedUsers); err != nil {
		return nil, err
	}
	if _, err := s.getJSON(keyModerators(guildID), &sg.Moderators); err != nil {
		return nil, err
	}
	if _, err := s.getJSON(keyWarnings(guildID), &sg.Warnings); err != nil {
		return nil, err
	}
	if _, err := s.getJSON(keyTempBans(guildID), &sg.TempBans); err != nil {
		return nil, err
	}

	return sg, nil
}

func (s *Store) GetTempBans(ctx context.Context, guildID int64) (map[int64]moderation.TempBan, error) {
	bans := make(map[int64]moderation.TempBan)
	if _, err := s.getJSON(keyTempBans(guildID), &bans); err != nil {
		return nil, err
	}

	return bans, nil
}

func (s *Store) SetBlockedUsers(ctx context.Context, guildID int64, users []int64) error {
	return s.setJSON(guildID, keyBlocked(guildID), users)
}

func (s *Store) SetModerators(ctx context.Context, guildID int64, users []int64) error {
	return s.setJSON(guildID, keyModerators(guildID), users)
}

// SetWarnings replaces one user's sequence inside the warnings
// collection. The cache serializes writes per guild, so the
// read-modify-write here is single-writer.
func (s *Store) SetWarnings(ctx context.Context, guildID int64, userID int64, warnings []moderation.Warning) error {
	all := make(map[int64][]moderation.Warning)
	if _, err := s.getJSON(keyWarnings(guildID), &all); err != nil {
		return err
	}

	if len(warnings) == 0 {
		delete(all, userID)
	} else {
		all[userID] = warnings
	}

	return s.setJSON(guildID, keyWarnings(guildID), all)
}

func (s *Store) SetTempBans(ctx context.Context, guildID int64, bans map[int64]moderation.TempBan) error {
	return s.setJSON(guildID, keyTempBans(guildID), bans)
}

func (s *Store) GetGuildConfig(ctx context.Context, guildID int64) (*moderation.GuildConfig, error) {
	conf := &moderation.GuildConfig{}
	found, err := s.getJSON(keyConfig(guildID), conf)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	return conf, nil
}

func (s *Store) SetGuildConfig(ctx context.Context, guildID int64, conf *moderation.GuildConfig) error {
	return s.setJSON(guildID, keyConfig(guildID), conf)
}

func (s *Store) ListGuilds(ctx context.Context) ([]int64, error) {
	var guilds []int64
	err := s.pool.Do(radix.Cmd(&guilds, "SMEMBERS", keyGuildIndex))
	if err != nil {
		return nil, errors.WithStackIf(err)
	}

	return guilds, nil
}
