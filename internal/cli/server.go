package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jiaweing/IoT-Quiz/internal/app"
	"github.com/jiaweing/IoT-Quiz/internal/config"
	"github.com/jiaweing/IoT-Quiz/internal/httpapi"
	inframem "github.com/jiaweing/IoT-Quiz/internal/infra/memory"
	infrapg "github.com/jiaweing/IoT-Quiz/internal/infra/postgres"
	infraredis "github.com/jiaweing/IoT-Quiz/internal/infra/redis"
	"github.com/jiaweing/IoT-Quiz/internal/transport/mqtt"
	membus "github.com/jiaweing/IoT-Quiz/internal/transport/memory"
	"github.com/jiaweing/IoT-Quiz/internal/transport/ws"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
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

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var repo app.Repository = inframem.NewRepository()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo = infrapg.NewRepository(pool)
	}

	var answers app.AnswerSource
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cacheTTL := config.Duration(cfg.Quiz.AnswerCacheTTL, 10*time.Minute)
		answers = infraredis.NewAnswerCache(redisClient, repo, cacheTTL)
	}

	timeLimit := config.Duration(cfg.Quiz.TimeLimit, app.DefaultTimeLimit)
	bus := membus.NewBus()
	engine := app.NewEngine(repo, bus, answers, timeLimit)

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	go engine.RunTimeSync(syncCtx)

	if cfg.MQTT.Broker != "" {
		bridge := mqtt.NewBridge(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, engine, bus)
		if err := bridge.Start(syncCtx); err != nil {
			return err
		}
	}

	wsHandler := ws.NewHandler(engine, bus)
	apiServer := httpapi.NewServer(engine)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	apiServer.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz server on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
