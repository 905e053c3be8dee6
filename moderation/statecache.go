package moderation

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardbot-gg/guardbot/common"
)

// StateCache mirrors each guild's blocked and moderator sets plus the
// warning and tempban maps in memory, so the message hot path never
// touches the store. All mutations write through to the store before
// the in-memory view is updated; a failed store write leaves the cache
// untouched, so the cache never reports a state the store disagrees
// with.
//
// Mutations for a guild are serialized on a per-guild mutex. Reads are
// lock-free: they load an immutable snapshot pointer and observe either
// the pre- or post-mutation state, never a torn one.
type StateCache struct {
	store Store
	log   *logrus.Entry

	mu     sync.RWMutex
	guilds map[int64]*cachedGuild
}

type cachedGuild struct {
	mu     sync.Mutex // serializes mutations and loading
	loaded bool

	blocked    atomic.Pointer[map[int64]struct{}]
	moderators atomic.Pointer[map[int64]struct{}]
	warnings   atomic.Pointer[map[int64][]Warning]
	tempbans   atomic.Pointer[map[int64]TempBan]
}

func NewStateCache(store Store) *StateCache {
	return &StateCache{
		store:  store,
		log:    common.GetPluginLogger("statecache"),
		guilds: make(map[int64]*cachedGuild),
	}
}

// guild returns the entry for guildID, creating it lazily. The entry
// starts unloaded; mutation paths load it on first touch.
func (c *StateCache) guild(guildID int64) *cachedGuild {
	c.mu.RLock()
	g, ok := c.guilds[guildID]
	c.mu.RUnlock()
	if ok {
		return g
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok = c.guilds[guildID]; ok {
		return g
	}

	g = &cachedGuild{}
	c.guilds[guildID] = g
	return g
}

// peek returns the entry for guildID without creating one.
func (c *StateCache) peek(guildID int64) *cachedGuild {
	c.mu.RLock()
	g := c.guilds[guildID]
	c.mu.RUnlock()
	return g
}

// LoadGuild fetches the full guild state from the store into the cache.
// Idempotent; a second call is a no-op.
func (c *StateCache) LoadGuild(ctx context.Context, guildID int64) error {
	g := c.guild(guildID)
	g.mu.Lock()
	defer g.mu.Unlock()
	return c.ensureLoaded(ctx, g, guildID)
}

// ensureLoaded populates the entry from the store. Callers must hold
// g.mu.
func (c *StateCache) ensureLoaded(ctx context.Context, g *cachedGuild, guildID int64) error {
	if g.loaded {
		return nil
	}

	stored, err := c.store.GetGuild(ctx, guildID)
	if err != nil {
		return common.ErrWithCaller(err)
	}

	blocked := make(map[int64]struct{}, len(stored.BlockedUsers))
	for _, v := range stored.BlockedUsers {
		blocked[v] = struct{}{}
	}

	moderators := make(map[int64]struct{}, len(stored.Moderators))
	for _, v := range stored.Moderators {
		moderators[v] = struct{}{}
	}

	warnings := stored.Warnings
	if warnings == nil {
		warnings = make(map[int64][]Warning)
	}

	tempbans := stored.TempBans
	if tempbans == nil {
		tempbans = make(map[int64]TempBan)
	}

	g.blocked.Store(&blocked)
	g.moderators.Store(&moderators)
	g.warnings.Store(&warnings)
	g.tempbans.Store(&tempbans)
	g.loaded = true

	return nil
}

// IsBlocked is a pure cache read; an unknown or not-yet-loaded guild
// counts as nothing blocked.
func (c *StateCache) IsBlocked(guildID, userID int64) bool {
	return c.inSet(guildID, userID, func(g *cachedGuild) *map[int64]struct{} { return g.blocked.Load() })
}

// IsModerator has the same contract as IsBlocked.
func (c *StateCache) IsModerator(guildID, userID int64) bool {
	return c.inSet(guildID, userID, func(g *cachedGuild) *map[int64]struct{} { return g.moderators.Load() })
}

func (c *StateCache) inSet(guildID, userID int64, load func(*cachedGuild) *map[int64]struct{}) bool {
	g := c.peek(guildID)
	if g == nil {
		return false
	}

	set := load(g)
	if set == nil {
		return false
	}

	_, ok := (*set)[userID]
	return ok
}

// AddBlocked adds userID to the guild's blocked set, writing the
// updated set through to the store first. Returns false with a nil
// error when the user was already present.
func (c *StateCache) AddBlocked(ctx context.Context, guildID, userID int64) (bool, error) {
	return c.mutateSet(ctx, guildID, userID, true, blockedSet, c.store.SetBlockedUsers)
}

func (c *StateCache) RemoveBlocked(ctx context.Context, guildID, userID int64) (bool, error) {
	return c.mutateSet(ctx, guildID, userID, false, blockedSet, c.store.SetBlockedUsers)
}

func (c *StateCache) AddModerator(ctx context.Context, guildID, userID int64) (bool, error) {
	return c.mutateSet(ctx, guildID, userID, true, moderatorSet, c.store.SetModerators)
}

func (c *StateCache) RemoveModerator(ctx context.Context, guildID, userID int64) (bool, error) {
	return c.mutateSet(ctx, guildID, userID, false, moderatorSet, c.store.SetModerators)
}

type setKind int

const (
	blockedSet setKind = iota
	moderatorSet
)

func (c *StateCache) mutateSet(ctx context.Context, guildID, userID int64, add bool, kind setKind, persist func(context.Context, int64, []int64) error) (bool, error) {
	g := c.guild(guildID)
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := c.ensureLoaded(ctx, g, guildID); err != nil {
		return false, err
	}

	target := &g.blocked
	if kind == moderatorSet {
		target = &g.moderators
	}

	cur := *target.Load()
	if _, present := cur[userID]; present == add {
		// already in the desired state
		return false, nil
	}

	next := make(map[int64]struct{}, len(cur)+1)
	for k := range cur {
		next[k] = struct{}{}
	}
	if add {
		next[userID] = struct{}{}
	} else {
		delete(next, userID)
	}

	if err := persist(ctx, guildID, setToSortedSlice(next)); err != nil {
		// store write failed; the cache keeps the pre-mutation snapshot
		return false, common.ErrWithCaller(err)
	}

	target.Store(&next)
	return true, nil
}

func setToSortedSlice(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AddWarning appends a warning to the user's sequence, assigning it an
// ID and timestamp, and writes the sequence through to the store.
func (c *StateCache) AddWarning(ctx context.Context, guildID, userID int64, w Warning) (Warning, error) {
	g := c.guild(guildID)
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := c.ensureLoaded(ctx, g, guildID); err != nil {
		return Warning{}, err
	}

	if w.ID == 0 {
		w.ID = common.GenID()
	}
	if w.IssuedAt.IsZero() {
		w.IssuedAt = time.Now()
	}

	cur := *g.warnings.Load()
	seq := append(append([]Warning(nil), cur[userID]...), w)

	if err := c.store.SetWarnings(ctx, guildID, userID, seq); err != nil {
		return Warning{}, common.ErrWithCaller(err)
	}

	next := copyWarningsMap(cur)
	next[userID] = seq
	g.warnings.Store(&next)

	return w, nil
}

// Warnings returns a copy of the user's warning sequence in insertion
// order. Pure cache read.
func (c *StateCache) Warnings(guildID, userID int64) []Warning {
	g := c.peek(guildID)
	if g == nil {
		return nil
	}

	m := g.warnings.Load()
	if m == nil {
		return nil
	}

	return append([]Warning(nil), (*m)[userID]...)
}

// ClearWarnings removes the user's full warning sequence and returns
// the number of warnings cleared.
func (c *StateCache) ClearWarnings(ctx context.Context, guildID, userID int64) (int, error) {
	g := c.guild(guildID)
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := c.ensureLoaded(ctx, g, guildID); err != nil {
		return 0, err
	}

	cur := *g.warnings.Load()
	n := len(cur[userID])
	if n == 0 {
		return 0, nil
	}

	if err := c.store.SetWarnings(ctx, guildID, userID, nil); err != nil {
		return 0, common.ErrWithCaller(err)
	}

	next := copyWarningsMap(cur)
	delete(next, userID)
	g.warnings.Store(&next)

	return n, nil
}

func copyWarningsMap(in map[int64][]Warning) map[int64][]Warning {
	out := make(map[int64][]Warning, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// SetTempBan upserts the tempban entry keyed by its user ID.
func (c *StateCache) SetTempBan(ctx context.Context, guildID int64, tb TempBan) error {
	return c.mutateTempBans(ctx, guildID, func(next map[int64]TempBan) bool {
		next[tb.UserID] = tb
		return true
	})
}

// RemoveTempBan deletes the entry for userID, reporting whether one was
// present.
func (c *StateCache) RemoveTempBan(ctx context.Context, guildID, userID int64) (bool, error) {
	removed := false
	err := c.mutateTempBans(ctx, guildID, func(next map[int64]TempBan) bool {
		if _, ok := next[userID]; !ok {
			return false
		}
		delete(next, userID)
		removed = true
		return true
	})
	return removed, err
}

func (c *StateCache) mutateTempBans(ctx context.Context, guildID int64, mutate func(map[int64]TempBan) bool) error {
	g := c.guild(guildID)
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := c.ensureLoaded(ctx, g, guildID); err != nil {
		return err
	}

	cur := *g.tempbans.Load()
	next := make(map[int64]TempBan, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}

	if !mutate(next) {
		return nil
	}

	if err := c.store.SetTempBans(ctx, guildID, next); err != nil {
		return common.ErrWithCaller(err)
	}

	g.tempbans.Store(&next)
	return nil
}

// TempBans returns a copy of the guild's tempban map. Pure cache read.
func (c *StateCache) TempBans(guildID int64) map[int64]TempBan {
	g := c.peek(guildID)
	if g == nil {
		return nil
	}

	m := g.tempbans.Load()
	if m == nil {
		return nil
	}

	out := make(map[int64]TempBan, len(*m))
	for k, v := range *m {
		out[k] = v
	}
	return out
}
