package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outpatient-backend/internal/config"
	"outpatient-backend/internal/handlers"
	"outpatient-backend/internal/middleware"
	"outpatient-backend/internal/realtime"
	"outpatient-backend/internal/routes"
	"outpatient-backend/internal/services"
	"outpatient-backend/internal/validation"
	"outpatient-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "outpatient-backend",
		Short: "Hospital outpatient API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedMasterCmd())

	err := rootCmd.Execute()
	_ = logger.Close()
	if err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := bootstrap()
			if err != nil {
				return err
			}
			if err := config.Migrate(db); err != nil {
				return err
			}
			log.Info().Str("driver", cfg.DBDriver).Msg("migrations applied")
			return nil
		},
	}
}

func seedMasterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-master",
		Short: "Create the master account if no master exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := bootstrap()
			if err != nil {
				return err
			}
			if err := config.Migrate(db); err != nil {
				return err
			}
			if cfg.MasterPassword == "" {
				return errors.New("MASTER_PASSWORD is required")
			}
			svc := services.New(db, nil, services.Options{JWTSecret: cfg.JWTSecret})
			created, err := svc.Auth.SeedMaster(cmd.Context(), cfg.MasterUsername, cfg.MasterEmail, cfg.MasterPassword)
			if err != nil {
				return err
			}
			log.Info().Bool("created", created).Str("username", cfg.MasterUsername).Msg("master seed finished")
			return nil
		},
	}
}

// bootstrap loads the config, sets up logging and opens the database.
func bootstrap() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Setup(logger.Options{
		App:              "outpatient-backend",
		Level:            cfg.LogLevel,
		Format:           cfg.LogFormat,
		ElasticsearchURL: cfg.ElasticsearchURL,
	}); err != nil {
		return nil, nil, err
	}
	db, err := config.ConnectDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func runServer() error {
	// 1. Config, logging and database
	cfg, db, err := bootstrap()
	if err != nil {
		return err
	}
	if err := config.Migrate(db); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := validation.RegisterGin(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Realtime fan-out: websocket always, FCM when credentials exist
	hub := realtime.NewHub()
	notifier := realtime.Multi{hub}
	if cfg.FCMCredentialsFile != "" {
		fcm, err := realtime.NewFCM(ctx, cfg.FCMCredentialsFile)
		if err != nil {
			log.Error().Err(err).Msg("FCM disabled")
		} else {
			notifier = append(notifier, fcm)
		}
	}

	// 3. Services
	svc := services.New(db, notifier, services.Options{
		JWTSecret: cfg.JWTSecret,
		JWTTTL:    cfg.JWTTTL,
		ResetTTL:  cfg.ResetTTL,
	})
	if cfg.MasterPassword != "" {
		if _, err := svc.Auth.SeedMaster(ctx, cfg.MasterUsername, cfg.MasterEmail, cfg.MasterPassword); err != nil {
			return err
		}
	}

	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	go limiter.Cleanup(ctx, time.Minute, 10*time.Minute)

	// 4. Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, routes.Deps{
		Handler:     handlers.New(svc, sqlDB.PingContext),
		Auth:        svc.Auth,
		WebSocket:   realtime.NewWebSocketHandler(hub, svc.Auth, cfg.CORSOrigins),
		RateLimiter: limiter,
		CORSOrigins: cfg.CORSOrigins,
	})

	// 5. Run until signalled
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
