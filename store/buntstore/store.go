// Package buntstore is an embedded moderation.Store on buntdb, for
// development setups and tests that shouldn't need a redis.
package buntstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"emperror.dev/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/guardbot-gg/guardbot/moderation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func keyBlocked(guildID int64) string {
	return fmt.Sprintf("guild:%d:blocked_users", guildID)
}

func keyModerators(guildID int64) string {
	return fmt.Sprintf("guild:%d:moderators", guildID)
}

func keyWarnings(guildID int64) string {
	return fmt.Sprintf("guild:%d:warnings", guildID)
}

func keyTempBans(guildID int64) string {
	return fmt.Sprintf("guild:%d:tempbans", guildID)
}

func keyConfig(guildID int64) string {
	return fmt.Sprintf("guild:%d:config", guildID)
}

func keyIndex(guildID int64) string {
	return fmt.Sprintf("guild_index:%d", guildID)
}

var _ moderation.Store = (*Store)(nil)

type Store struct {
	db *buntdb.DB
}

// Open opens (or creates) the database at path; ":memory:" keeps it
// in-process only.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.WithMessage(err, "buntstore: open")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) setJSON(guildID int64, key string, v interface{}) error {
	serialized, err := json.Marshal(v)
	if err != nil {
		return errors.WithMessage(err, "marshal")
	}

	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(key, string(serialized), nil); err != nil {
			return err
		}

		_, _, err := tx.Set(keyIndex(guildID), "1", nil)
		return err
	})
}

func (s *Store) getJSON(key string, dest interface{}) (bool, error) {
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		raw = v
		return nil
	})

	if err == buntdb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.WithStackIf(err)
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
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
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("guild_index:*", func(key, value string) bool {
			id, err := strconv.ParseInt(strings.TrimPrefix(key, "guild_index:"), 10, 64)
			if err == nil {
				guilds = append(guilds, id)
			}
			return true
		})
	})
	if err != nil {
		return nil, errors.WithStackIf(err)
	}

	sort.Slice(guilds, func(i, j int) bool { return guilds[i] < guilds[j] })
	return guilds, nil
}
