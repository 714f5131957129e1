package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/params"
	"github.com/uhyunpark/papertrade/pkg/api"
	"github.com/uhyunpark/papertrade/pkg/app/core/session"
	"github.com/uhyunpark/papertrade/pkg/sink"
	"github.com/uhyunpark/papertrade/pkg/storage"
	"github.com/uhyunpark/papertrade/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	// Validate already checked these.
	loc, _ := cfg.Clock.Location()
	defaults, _ := cfg.Ledger.Params(loc)
	closeAt, eodEnabled, _ := cfg.Node.EndOfDay()

	clock := newClock(cfg.Clock, sugar)

	// ---- Core ----
	reg := session.NewRegistry(clock,
		session.WithLogger(sugar.Named("registry")),
		session.WithLocation(loc),
		session.WithDefaultParams(defaults),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Subscribers ----
	subs := attachSubscribers(ctx, cfg, reg, sugar)
	defer subs.close()

	// ---- End of day ----
	if eodEnabled {
		go runEndOfDay(ctx, clock, loc, closeAt, reg, sugar)
	} else {
		sugar.Info("end_of_day_disabled")
	}

	// ---- API Server ----
	apiServer := api.NewServer(reg, clock,
		api.WithLogger(sugar.Named("api")),
		api.WithAllowedOrigins(cfg.Node.AllowedOrigins),
	)
	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorw("api_server_failed", "err", err)
			stop()
		}
	}()

	sugar.Infow("papertrade_started",
		"api_addr", cfg.Node.APIAddr,
		"clock_mode", cfg.Clock.Mode,
		"timezone", loc.String(),
		"initial_cash", defaults.InitialCash,
		"multiplier", defaults.Multiplier)

	<-ctx.Done()
	sugar.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
}

func newClock(cfg params.Clock, sugar *zap.SugaredLogger) util.Clock {
	if cfg.Mode != "sim" {
		return util.RealClock{}
	}
	start, _ := cfg.StartTime()
	if start.IsZero() {
		start = time.Now()
	}
	opts := []util.SimOption{util.WithSpeed(cfg.Speed)}
	if cfg.Paused {
		opts = append(opts, util.Paused())
	}
	sugar.Infow("sim_clock", "start", start, "speed", cfg.Speed, "paused", cfg.Paused)
	return util.NewSimClock(start, opts...)
}

// subscribers tracks everything attached to the registry so shutdown can
// detach it, drain the buffers and close the backends in that order.
type subscribers struct {
	subs    []*session.Subscription
	asyncs  []*session.Async
	closers []func() error
	log     *zap.SugaredLogger
}

func (s *subscribers) attach(reg *session.Registry, name string, h session.Handler, buffer int, closer func() error) {
	a := session.NewAsync(name, h, buffer, s.log)
	s.asyncs = append(s.asyncs, a)
	s.subs = append(s.subs, reg.Subscribe(name, a.Handle))
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	s.log.Infow("subscriber_attached", "subscriber", name, "buffer", buffer)
}

func (s *subscribers) close() {
	for _, sub := range s.subs {
		sub.Cancel()
	}
	for _, a := range s.asyncs {
		a.Close()
		if n := a.Dropped(); n > 0 {
			s.log.Warnw("subscriber_dropped_events", "dropped", n)
		}
	}
	for _, c := range s.closers {
		if err := c(); err != nil {
			s.log.Warnw("subscriber_close_failed", "err", err)
		}
	}
}

func attachSubscribers(ctx context.Context, cfg params.Config, reg *session.Registry, sugar *zap.SugaredLogger) *subscribers {
	s := &subscribers{log: sugar}

	if cfg.Storage.Dir != "" {
		j, err := storage.Open(cfg.Storage.Dir,
			storage.WithSync(cfg.Storage.Sync),
			storage.WithLogger(sugar.Named("journal")),
		)
		if err != nil {
			sugar.Fatalw("journal_open_failed", "dir", cfg.Storage.Dir, "err", err)
		}
		s.attach(reg, "journal", j.Handle, cfg.Storage.Buffer, j.Close)
	}

	if cfg.Storage.EventLog != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.EventLog), 0755); err != nil {
			sugar.Fatalw("event_log_dir_failed", "path", cfg.Storage.EventLog, "err", err)
		}
		l, err := storage.NewEventLog(cfg.Storage.EventLog)
		if err != nil {
			sugar.Fatalw("event_log_open_failed", "path", cfg.Storage.EventLog, "err", err)
		}
		s.attach(reg, "event_log", l.Handle, cfg.Storage.Buffer, l.Close)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		k := sink.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchTimeout, sugar.Named("kafka"))
		s.attach(reg, "kafka", k.Handle, cfg.Kafka.Buffer, k.Close)
	}

	if cfg.Redis.Addr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		r, err := sink.NewRedis(pingCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix, sugar.Named("redis"))
		cancel()
		if err != nil {
			// Redis is optional; run without it rather than refusing to start.
			sugar.Warnw("redis_unavailable", "addr", cfg.Redis.Addr, "err", err)
		} else {
			s.attach(reg, "redis", r.Handle, cfg.Redis.Buffer, r.Close)
		}
	}
	return s
}
