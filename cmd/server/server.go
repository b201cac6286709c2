package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/axellelanca/linkcloak/cmd"
	"github.com/axellelanca/linkcloak/internal/api"
	"github.com/axellelanca/linkcloak/internal/auth"
	"github.com/axellelanca/linkcloak/internal/classifier"
	"github.com/axellelanca/linkcloak/internal/config"
	"github.com/axellelanca/linkcloak/internal/database"
	"github.com/axellelanca/linkcloak/internal/decision"
	"github.com/axellelanca/linkcloak/internal/ledger"
	"github.com/axellelanca/linkcloak/internal/monitor"
	"github.com/axellelanca/linkcloak/internal/oracle"
	"github.com/axellelanca/linkcloak/internal/render"
	"github.com/axellelanca/linkcloak/internal/repository"
	"github.com/axellelanca/linkcloak/internal/services"
)

// RunServerCmd starts the HTTP server and its background workers.
var RunServerCmd = &cobra.Command{
	Use:   "run-server",
	Short: "Start the redirect server, the click recorder and the URL monitor",
	Long: `run-server opens the database, builds the classifier and the click
recorder, starts the target URL monitor and serves HTTP until SIGINT or SIGTERM.
On shutdown in-flight requests finish first, then queued clicks are drained.`,
	RunE: func(c *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cmd.Cfg, cmd.Logger)
	},
}

func init() {
	cmd.RootCmd.AddCommand(RunServerCmd)
}

// NewOracle builds the reputation lookup chain: ip-api behind a rate limiter,
// behind a redis cache when a client is given.
func NewOracle(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) oracle.Oracle {
	var o oracle.Oracle = oracle.NewIPAPIClient(cfg.Oracle.BaseURL)
	if cfg.Oracle.RatePerSecond > 0 {
		o = oracle.NewRateLimited(o, cfg.Oracle.RatePerSecond, cfg.Oracle.Burst)
	}
	if rdb != nil {
		o = oracle.NewCached(o, oracle.NewRedisCache(rdb), cfg.Oracle.CacheTTL, logger)
	}
	return o
}

// NewClassifier builds the classifier from configuration, loading a custom
// signature table when one is configured.
func NewClassifier(cfg *config.Config, o oracle.Oracle, logger *zap.Logger) (*classifier.Classifier, error) {
	var table []classifier.Signature
	if cfg.Classifier.SignaturesFile != "" {
		var err error
		table, err = classifier.LoadSignatures(cfg.Classifier.SignaturesFile)
		if err != nil {
			return nil, err
		}
	}
	policy := classifier.Policy{
		TargetMarket:  cfg.Classifier.TargetMarket,
		FallbackValid: cfg.Classifier.FallbackValid,
		OracleTimeout: cfg.Classifier.OracleTimeout,
	}
	return classifier.New(o, table, policy, logger), nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := cmd.OpenDatabase()
	if err != nil {
		return err
	}
	defer database.Close(db)
	logger.Info("database ready", zap.String("driver", cfg.Database.Driver))

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = database.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		logger.Info("redis connected")
	}

	linkRepo := repository.NewLinkRepository(db)
	clickRepo := repository.NewClickRepository(db)
	linkService := services.NewLinkService(linkRepo, clickRepo, logger)

	cls, err := NewClassifier(cfg, NewOracle(cfg, rdb, logger), logger)
	if err != nil {
		return err
	}

	var publisher ledger.Publisher = ledger.NopPublisher{}
	if len(cfg.Ledger.Kafka.Brokers) > 0 {
		kp, err := ledger.NewKafkaPublisher(cfg.Ledger.Kafka.Brokers, cfg.Ledger.Kafka.Topic)
		if err != nil {
			return err
		}
		publisher = kp
		logger.Info("publishing click events", zap.Strings("brokers", cfg.Ledger.Kafka.Brokers), zap.String("topic", cfg.Ledger.Kafka.Topic))
	}
	defer publisher.Close()

	recorder := ledger.NewRecorder(ledger.New(clickRepo, publisher, logger), ledger.Options{
		BufferSize:   cfg.Ledger.BufferSize,
		Workers:      cfg.Ledger.WorkerCount,
		WriteTimeout: cfg.Ledger.WriteTimeout,
		MaxAttempts:  cfg.Ledger.MaxAttempts,
	}, logger)
	logger.Info("click recorder started",
		zap.Int("buffer", cfg.Ledger.BufferSize),
		zap.Int("workers", cfg.Ledger.WorkerCount))

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	var codes auth.CodeStore = auth.NewSQLCodeStore(repository.NewCodeRepository(db))
	if rdb != nil {
		codes = auth.NewRedisCodeStore(rdb)
	}

	if cfg.Monitor.Enabled {
		interval := time.Duration(cfg.Monitor.IntervalMinutes) * time.Minute
		go monitor.NewUrlMonitor(linkRepo, interval, logger).Start(ctx)
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := api.NewRouter(api.Dependencies{
		Links:              linkService,
		Classifier:         cls,
		Engine:             decision.New(),
		Recorder:           recorder,
		Content:            render.NewContent(),
		Tokens:             tokens,
		Codes:              codes,
		CodeTTL:            cfg.Auth.CodeTTL,
		BaseURL:            cfg.Server.BaseURL,
		HandshakeTimeout:   cfg.Auth.HandshakeTimeout,
		HandshakeCountdown: cfg.Auth.HandshakeCountdown,
		Logger:             logger,
	}, cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("base_url", cfg.Server.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = recorder.Close(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Error("click recorder did not drain", zap.Error(err), zap.Any("stats", recorder.Stats()))
	}
	logger.Info("server stopped", zap.Any("ledger", recorder.Stats()))
	return nil
}
