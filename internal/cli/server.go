package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/suryapaul01/quizplay-robot/internal/config"
	"github.com/suryapaul01/quizplay-robot/internal/domain"
	"github.com/suryapaul01/quizplay-robot/internal/engine"
	"github.com/suryapaul01/quizplay-robot/internal/infra/memory"
	pginfra "github.com/suryapaul01/quizplay-robot/internal/infra/postgres"
	redisinfra "github.com/suryapaul01/quizplay-robot/internal/infra/redis"
	"github.com/suryapaul01/quizplay-robot/internal/logging"
	"github.com/suryapaul01/quizplay-robot/internal/metrics"
	"github.com/suryapaul01/quizplay-robot/internal/transport/ws"
)

// NewStartCmd builds the CLI subcommand to start the engine server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New("quizplay-robot", cfg.Log.Level)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader redisinfra.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pginfra.NewQuizLoader(pool)
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo engine.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var sessions engine.SessionStore
	if redisClient != nil {
		sessionTTL := config.Duration(cfg.Redis.SessionTTL, 24*time.Hour)
		sessions = redisinfra.NewSessionStore(redisClient, sessionTTL)
	} else {
		sessions = memory.NewSessionStore()
	}

	var boards engine.LeaderboardStore
	switch {
	case pool != nil:
		boards = pginfra.NewLeaderboardStore(pool)
	case redisClient != nil:
		boards = redisinfra.NewLeaderboardStore(redisClient)
	default:
		boards = memory.NewLeaderboardStore()
	}

	met := metrics.New(prometheus.DefaultRegisterer)
	gateway := ws.NewGateway(nil, log.WithField("component", "gateway"))

	eng := engine.New(engine.Params{
		Quizzes:      quizRepo,
		Sessions:     sessions,
		Leaderboards: boards,
		Transport:    gateway,
		Metrics:      met,
		Logger:       log,
		Settings: engine.Settings{
			JoinCountdown:  config.Duration(cfg.Engine.JoinCountdown, 30*time.Second),
			DefaultWindow:  config.Duration(cfg.Engine.QuestionTime, 20*time.Second),
			MaxPostRetries: cfg.Engine.MaxPostRetries,
			RetryBackoff:   config.Duration(cfg.Engine.RetryBackoff, 500*time.Millisecond),
			StandingsEvery: cfg.Engine.StandingsEvery,
		},
	})
	defer eng.Close()
	gateway.Bind(eng)

	if err := eng.Recover(ctx); err != nil {
		log.WithError(err).Error("session recovery failed")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", gateway.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("port", finalPort).Info("starting quiz engine")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down")
	case <-ctx.Done():
		log.Info("context canceled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes seeds the static loader for redis/postgres-less runs.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"demo": {
			ID:         "demo",
			Title:      "Demo quiz",
			SpeedBonus: true,
			Questions: []domain.Question{
				{
					ID:           "q1",
					Prompt:       "What is 2 + 2?",
					Options:      []string{"3", "4", "5"},
					CorrectIndex: 1,
					TimeLimit:    20 * time.Second,
				},
				{
					ID:           "q2",
					Prompt:       "Which planet is closest to the sun?",
					Options:      []string{"Venus", "Earth", "Mercury", "Mars"},
					CorrectIndex: 2,
					TimeLimit:    20 * time.Second,
				},
			},
		},
	}
}
