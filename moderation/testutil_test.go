package moderation

import (
	"context"
	"sync"
	"time"
)

var (
	_ Store         = (*fakeStore)(nil)
	_ Gateway       = (*fakeGateway)(nil)
	_ AuditRecorder = (*captureRecorder)(nil)
)

// fakeStore is an in-memory Store with write-failure injection.
type fakeStore struct {
	mu      sync.Mutex
	guilds  map[int64]*StoredGuild
	configs map[int64]*GuildConfig

	failWrites error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		guilds:  make(map[int64]*StoredGuild),
		configs: make(map[int64]*GuildConfig),
	}
}

func (s *fakeStore) record(guildID int64) *StoredGuild {
	g, ok := s.guilds[guildID]
	if !ok {
		g = &StoredGuild{
			Warnings: make(map[int64][]Warning),
			TempBans: make(map[int64]TempBan),
		}
		s.guilds[guildID] = g
	}
	return g
}

func (s *fakeStore) GetGuild(ctx context.Context, guildID int64) (*StoredGuild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.record(guildID)
	out := &StoredGuild{
		BlockedUsers: append([]int64(nil), g.BlockedUsers...),
		Moderators:   append([]int64(nil), g.Moderators...),
		Warnings:     make(map[int64][]Warning, len(g.Warnings)),
		TempBans:     make(map[int64]TempBan, len(g.TempBans)),
	}
	for k, v := range g.Warnings {
		out.Warnings[k] = append([]Warning(nil), v...)
	}
	for k, v := range g.TempBans {
		out.TempBans[k] = v
	}
	return out, nil
}

func (s *fakeStore) GetTempBans(ctx context.Context, guildID int64) (map[int64]TempBan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]TempBan)
	for k, v := range s.record(guildID).TempBans {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) SetBlockedUsers(ctx context.Context, guildID int64, users []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	s.record(guildID).BlockedUsers = append([]int64(nil), users...)
	return nil
}

func (s *fakeStore) SetModerators(ctx context.Context, guildID int64, users []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	s.record(guildID).Moderators = append([]int64(nil), users...)
	return nil
}

func (s *fakeStore) SetWarnings(ctx context.Context, guildID int64, userID int64, warnings []Warning) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	g := s.record(guildID)
	if len(warnings) == 0 {
		delete(g.Warnings, userID)
	} else {
		g.Warnings[userID] = append([]Warning(nil), warnings...)
	}
	return nil
}

func (s *fakeStore) SetTempBans(ctx context.Context, guildID int64, bans map[int64]TempBan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	next := make(map[int64]TempBan, len(bans))
	for k, v := range bans {
		next[k] = v
	}
	s.record(guildID).TempBans = next
	return nil
}

func (s *fakeStore) GetGuildConfig(ctx context.Context, guildID int64) (*GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configs[guildID], nil
}

func (s *fakeStore) SetGuildConfig(ctx context.Context, guildID int64, conf *GuildConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	s.configs[guildID] = conf
	return nil
}

func (s *fakeStore) ListGuilds(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int64, 0, len(s.guilds))
	for id := range s.guilds {
		out = append(out, id)
	}
	return out, nil
}

func (s *fakeStore) blockedUsers(guildID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.record(guildID).BlockedUsers...)
}

func (s *fakeStore) tempBans(guildID int64) map[int64]TempBan {
	out, _ := s.GetTempBans(context.Background(), guildID)
	return out
}

// fakeGateway records calls and fails on demand.
type fakeGateway struct {
	mu sync.Mutex

	dmErr      error
	kickErr    error
	banErr     error
	unbanErr   error
	timeoutErr error

	dms      []string
	kicked   []int64
	banned   []int64
	unbanned []int64
	timeouts []*time.Time
	messages map[int64][]string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{messages: make(map[int64][]string)}
}

func (g *fakeGateway) SendDM(ctx context.Context, userID int64, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dmErr != nil {
		return g.dmErr
	}
	g.dms = append(g.dms, message)
	return nil
}

func (g *fakeGateway) Kick(ctx context.Context, guildID, userID int64, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.kickErr != nil {
		return g.kickErr
	}
	g.kicked = append(g.kicked, userID)
	return nil
}

func (g *fakeGateway) Ban(ctx context.Context, guildID, userID int64, reason string, deleteMessageDays int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.banErr != nil {
		return g.banErr
	}
	g.banned = append(g.banned, userID)
	return nil
}

func (g *fakeGateway) Unban(ctx context.Context, guildID, userID int64, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unbanErr != nil {
		return g.unbanErr
	}
	g.unbanned = append(g.unbanned, userID)
	return nil
}

func (g *fakeGateway) Timeout(ctx context.Context, guildID, userID int64, until *time.Time, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timeoutErr != nil {
		return g.timeoutErr
	}
	g.timeouts = append(g.timeouts, until)
	return nil
}

func (g *fakeGateway) SendChannelMessage(ctx context.Context, channelID int64, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages[channelID] = append(g.messages[channelID], content)
	return nil
}

// captureRecorder collects audit entries instead of delivering them.
type captureRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *captureRecorder) Record(ctx context.Context, guildID int64, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *captureRecorder) all() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

func newTestExecutor(store *fakeStore, gw *fakeGateway, rec *captureRecorder) (*Executor, *StateCache) {
	cache := NewStateCache(store)
	configs := NewGuildConfigCache(store)
	return NewExecutor(gw, rec, cache, configs, User{ID: 1, Username: "guardbot"}), cache
}
