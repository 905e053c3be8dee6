package moderation

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/guardbot-gg/guardbot/common"
)

const (
	DefaultScanInterval       = time.Minute
	DefaultExpiryConcurrency  = 10
	expiredTempbanUnbanReason = "Tempban expired"
)

var (
	metricsTempbansExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardbot_tempbans_expired_total",
		Help: "Tempbans lifted by the expiry scheduler",
	})

	metricsTempbansReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardbot_tempbans_reconciled_total",
		Help: "Tempban entries removed because the target was no longer banned",
	})

	metricsTempbansFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardbot_tempbans_failed_total",
		Help: "Tempban expiries that failed and were left for the next scan",
	})
)

// Scheduler periodically scans every known guild's tempbans and lifts
// the expired ones through the executor, with bounded concurrency
// within one scan cycle. A single entry's failure never takes the loop
// down; the entry stays in place and is retried on the next tick.
type Scheduler struct {
	store    Store
	executor *Executor
	log      *logrus.Entry

	interval      time.Duration
	maxConcurrent int64

	stop chan *sync.WaitGroup
}

func NewScheduler(store Store, executor *Executor, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultScanInterval
	}

	return &Scheduler{
		store:         store,
		executor:      executor,
		log:           common.GetPluginLogger("expiryscheduler"),
		interval:      interval,
		maxConcurrent: DefaultExpiryConcurrency,
		stop:          make(chan *sync.WaitGroup),
	}
}

func (s *Scheduler) Start() {
	go s.run()
}

// Stop shuts the loop down cooperatively: a cycle that is already
// running finishes its dispatched work before the loop exits.
func (s *Scheduler) Stop(wg *sync.WaitGroup) {
	wg.Add(1)
	s.stop <- wg
}

func (s *Scheduler) run() {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case wg := <-s.stop:
			wg.Done()
			return
		case <-t.C:
			s.runCycle(context.Background())
		}
	}
}

// runCycle performs one full scan. The wall clock is snapshotted once
// so every entry in the cycle is compared against the same point.
func (s *Scheduler) runCycle(ctx context.Context) {
	now := time.Now()

	guilds, err := s.store.ListGuilds(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed listing guilds for expiry scan")
		return
	}

	sem := semaphore.NewWeighted(s.maxConcurrent)
	var wg sync.WaitGroup

	for _, guildID := range guilds {
		bans, err := s.store.GetTempBans(ctx, guildID)
		if err != nil {
			s.log.WithError(err).WithField("guild", guildID).Error("failed reading tempbans")
			continue
		}

		for _, tb := range bans {
			if !tb.Expired(now) {
				continue
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return
			}

			wg.Add(1)
			go func(guildID int64, tb TempBan) {
				defer wg.Done()
				defer sem.Release(1)

				s.processExpired(ctx, guildID, tb)
			}(guildID, tb)
		}
	}

	wg.Wait()
}

func (s *Scheduler) processExpired(ctx context.Context, guildID int64, tb TempBan) {
	l := s.log.WithField("guild", guildID).WithField("user", tb.UserID)

	defer func() {
		if r := recover(); r != nil {
			l.Errorf("recovered from panic processing tempban expiry\n%v\n%v", r, string(debug.Stack()))
		}
	}()

	notBanned, out, err := s.executor.UnbanUser(ctx, guildID, s.executor.Self(), User{ID: tb.UserID}, expiredTempbanUnbanReason)
	if err != nil {
		metricsTempbansFailed.Inc()
		l.WithError(err).Error("failed unbanning expired tempban")
		return
	}

	switch {
	case notBanned:
		// already lifted elsewhere; the entry was reconciled away with
		// no audit noise
		metricsTempbansReconciled.Inc()
	case out.Success:
		metricsTempbansExpired.Inc()
	default:
		// entry left in place, retried next tick
		metricsTempbansFailed.Inc()
		l.WithError(out.Err).Error("failed unbanning expired tempban")
	}
}
