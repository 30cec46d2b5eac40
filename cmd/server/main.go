package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"restylinchpin/internal/artifacts"
	"restylinchpin/internal/auth"
	"restylinchpin/internal/command"
	"restylinchpin/internal/config"
	apphttp "restylinchpin/internal/http"
	"restylinchpin/internal/lifecycle"
	"restylinchpin/internal/repository/docstore"
	"restylinchpin/internal/runner"
	"restylinchpin/internal/service"
	"restylinchpin/internal/storage"
	"restylinchpin/internal/store"
	"restylinchpin/internal/store/sqlite"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	records := sqlite.New(db)
	defer records.Close()

	if err := initStore(ctx, records); err != nil {
		logger.Fatalf("init record store: %v", err)
	}
	if err := os.MkdirAll(cfg.Workspace.Root, 0o755); err != nil {
		logger.Fatalf("create workspace root: %v", err)
	}

	userService := service.NewUserService(docstore.NewUserRepository(records), logger)
	workspaceService := service.NewWorkspaceService(docstore.NewWorkspaceRepository(records))

	if cfg.Admin.Username != "" {
		created, err := userService.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password, cfg.Admin.Email)
		if err != nil {
			logger.Fatalf("bootstrap admin: %v", err)
		}
		if created {
			logger.WithField("username", cfg.Admin.Username).Info("bootstrap admin created; log in to obtain an api key")
		}
	}

	archive, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	tool := runner.NewExec(runner.Config{
		Binary:        cfg.Tool.Binary,
		Timeout:       cfg.Tool.Timeout,
		MaxConcurrent: cfg.Tool.MaxConcurrent,
		Logger:        logger,
	})

	coordinator := lifecycle.NewCoordinator(lifecycle.Config{
		Builder: command.Builder{
			Binary:           cfg.Tool.Binary,
			Root:             cfg.Workspace.Root,
			DefaultCredsPath: cfg.Workspace.CredsPath,
		},
		Artifacts: artifacts.Reader{
			StatusFile:    cfg.Artifacts.StatusFile,
			InventoryGlob: cfg.Artifacts.InventoryGlob,
		},
		Logger: logger,
	}, workspaceService, userService, tool, archive)

	if cfg.Lifecycle.RecoverInterrupted {
		n, err := coordinator.Recover(ctx)
		if err != nil {
			logger.Warnf("recover interrupted workspaces: %v", err)
		} else if n > 0 {
			logger.Warnf("marked %d interrupted workspaces as failed", n)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	guard := auth.NewGuard(userService, cfg.Auth.APIKeyHeader)
	handler := apphttp.NewHandler(userService, workspaceService, coordinator, guard, archive, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func initStore(ctx context.Context, records *sqlite.Store) error {
	if err := records.Init(ctx, store.Users, store.Workspaces); err != nil {
		return err
	}
	indexes := []struct {
		coll   store.Collection
		field  string
		unique bool
	}{
		{store.Users, "username", true},
		{store.Users, "api_key_hash", false},
		{store.Workspaces, "id", true},
		{store.Workspaces, "username", false},
		{store.Workspaces, "status", false},
	}
	for _, idx := range indexes {
		if err := records.EnsureIndex(ctx, idx.coll, idx.field, idx.unique); err != nil {
			return fmt.Errorf("index %s.%s: %w", idx.coll, idx.field, err)
		}
	}
	return nil
}

// buildArchive returns nil when no bucket is configured.
func buildArchive(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Archive, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("archive storage disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Archive(client, storage.S3Config{
		Bucket:    cfg.Storage.Bucket,
		KeyPrefix: cfg.Storage.KeyPrefix,
	}, logger)
}
