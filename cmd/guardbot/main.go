package main

import (
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"github.com/guardbot-gg/guardbot/common"
	"github.com/guardbot-gg/guardbot/common/config"
	"github.com/guardbot-gg/guardbot/common/sentryhook"
	"github.com/guardbot-gg/guardbot/gateway/discordrest"
	"github.com/guardbot-gg/guardbot/moderation"
	"github.com/guardbot-gg/guardbot/store/buntstore"
	"github.com/guardbot-gg/guardbot/store/redisstore"
)

var (
	flagDryRun       bool
	flagLogTimestamp bool
	flagVersion      bool
)

var (
	confToken          = config.RegisterOption("guardbot.token", "Bot token the REST gateway authenticates with", "")
	confBotUserID      = config.RegisterOption("guardbot.bot_user_id", "The bot's own user ID, the actor of automatic actions", 0)
	confStateBackend   = config.RegisterOption("guardbot.state_backend", "State store backend, redis or bunt", "redis")
	confRedis          = config.RegisterOption("guardbot.redis", "Redis address", "localhost:6379")
	confBuntPath       = config.RegisterOption("guardbot.bunt_path", "Database path when state_backend is bunt", "guardbot.db")
	confExpiryInterval = config.RegisterOption("guardbot.expiry_interval", "Interval between tempban expiry scans, e.g. 90s or 5m", "1m")
	confSentryDSN      = config.RegisterOption("guardbot.sentry_dsn", "Sentry credentials for the error reporting hook", nil)
)

func init() {
	flag.BoolVar(&flagDryRun, "dry", false, "Initialize everything but don't start the scheduler")
	flag.BoolVar(&flagLogTimestamp, "ts", false, "Set to include timestamps in log")
	flag.BoolVar(&flagVersion, "version", false, "Print the version and exit")
}

func main() {
	flag.Parse()

	if flagVersion {
		println(common.VERSION)
		return
	}

	common.SetupLogging(flagLogTimestamp)

	config.AddSource(&config.EnvSource{})
	config.Load()

	if dsn := confSentryDSN.GetString(); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{Dsn: dsn})
		if err != nil {
			log.WithError(err).Error("failed initializing sentry")
		} else {
			log.AddHook(sentryhook.Hook{})
			log.Info("sentry error reporting enabled")
		}
	}

	store := openStore()

	gw := discordrest.New(confToken.GetString())

	self := moderation.User{ID: int64(confBotUserID.GetInt())}

	cache := moderation.NewStateCache(store)
	configs := moderation.NewGuildConfigCache(store)
	audit := moderation.NewAuditLog(gw, configs)
	executor := moderation.NewExecutor(gw, audit, cache, configs, self)

	interval, err := common.ParseDuration(confExpiryInterval.GetString())
	if err != nil {
		log.WithError(err).Fatal("invalid expiry_interval")
	}
	scheduler := moderation.NewScheduler(store, executor, interval)

	if flagDryRun {
		log.Info("dry run, exiting")
		return
	}

	scheduler.Start()
	log.Info("guardbot ", common.VERSION, " is running, expiry scan interval ", interval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down...")

	var wg sync.WaitGroup
	scheduler.Stop(&wg)
	wg.Wait()
}

func openStore() moderation.Store {
	switch confStateBackend.GetString() {
	case "bunt":
		s, err := buntstore.Open(confBuntPath.GetString())
		if err != nil {
			log.WithError(err).Fatal("failed opening bunt state store")
		}
		return s
	default:
		s, err := redisstore.Open(confRedis.GetString(), 10)
		if err != nil {
			log.WithError(err).Fatal("failed connecting to redis")
		}
		return s
	}
}
