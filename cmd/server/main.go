package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/image-classifier/internal/classify"
	"github.com/Brownie44l1/image-classifier/internal/config"
	"github.com/Brownie44l1/image-classifier/internal/handlers"
	"github.com/Brownie44l1/image-classifier/internal/imageload"
	"github.com/Brownie44l1/image-classifier/internal/logger"
	"github.com/Brownie44l1/image-classifier/internal/model"
	"github.com/Brownie44l1/image-classifier/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// projectPath resolves rel against the project root, which is two levels
// up when running from cmd/server.
func projectPath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return rel, nil
	}
	execPath, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	if filepath.Base(execPath) == "server" {
		execPath = filepath.Join(execPath, "../..")
	}
	return filepath.Join(execPath, rel), nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	modelPath, err := projectPath(cfg.Model.Path)
	if err != nil {
		return err
	}
	metadataPath, err := projectPath(cfg.Model.MetadataPath)
	if err != nil {
		return err
	}

	log.Info("Loading model", zap.String("model_path", modelPath), zap.String("metadata_path", metadataPath))

	modelServer, err := model.NewServer(modelPath, metadataPath, model.Options{
		SharedLibraryPath: cfg.Model.SharedLibraryPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize model server: %w", err)
	}
	defer modelServer.Close()

	log.Info("Model loaded",
		zap.Strings("classes", modelServer.Metadata.Classes),
		zap.Int("image_size", modelServer.Metadata.ImageSize),
		zap.Int("top_k", modelServer.Metadata.TopK),
	)

	loader := imageload.NewLoader()
	newController := func() *classify.Controller {
		return classify.NewController(modelServer, loader,
			classify.WithLogger(log),
			classify.WithInferenceTimeout(cfg.Model.InferenceTimeout),
		)
	}

	sessions := session.NewStore(cfg.Session.MaxSessions, cfg.Session.TTL, newController, log)
	defer sessions.Close()

	handler := handlers.NewHandler(sessions, newController, cfg.Server.MaxUploadBytes, log)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("address", srv.Addr))
		log.Info("Endpoints",
			zap.Strings("routes", []string{
				"GET /health",
				"GET /metrics",
				"POST /sessions",
				"GET /sessions/{id}",
				"DELETE /sessions/{id}",
				"POST /sessions/{id}/image",
				"POST /sessions/{id}/classify",
				"POST /predict/image",
			}),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-quit:
	}

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}
