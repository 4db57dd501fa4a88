// Command classify prints the ranked predictions for a local image file.
//
//	classify [-model models/model_embedded.onnx] [-metadata models/model_metadata.json] face.jpg
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Brownie44l1/image-classifier/internal/classify"
	"github.com/Brownie44l1/image-classifier/internal/config"
	"github.com/Brownie44l1/image-classifier/internal/imageload"
	"github.com/Brownie44l1/image-classifier/internal/logger"
	"github.com/Brownie44l1/image-classifier/internal/model"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	modelPath := flag.String("model", cfg.Model.Path, "path to the ONNX model")
	metadataPath := flag.String("metadata", cfg.Model.MetadataPath, "path to the model metadata JSON")
	verbose := flag.Bool("v", false, "log workflow events to stderr")
	flag.Parse()

	if flag.NArg() != 1 {
		return fmt.Errorf("usage: %s [flags] <image>", os.Args[0])
	}

	log := zap.NewNop()
	if *verbose {
		cfg.Log.Format = "console"
		cfg.Log.Level = "debug"
		if log, err = logger.NewLogger(&cfg.Log); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer func() { _ = log.Sync() }()
	}

	modelServer, err := model.NewServer(*modelPath, *metadataPath, model.Options{
		SharedLibraryPath: cfg.Model.SharedLibraryPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize model server: %w", err)
	}
	defer modelServer.Close()

	ctx := context.Background()
	c := classify.NewController(modelServer, imageload.NewLoader(),
		classify.WithLogger(log),
		classify.WithInferenceTimeout(cfg.Model.InferenceTimeout),
	)

	if err := c.OnImageSelected(ctx, imageload.FromPath(flag.Arg(0))); err != nil {
		return err
	}

	preds, err := c.RequestClassification(ctx, c.View().Image)
	if err != nil {
		return err
	}

	for i, p := range preds {
		fmt.Printf("%d. %-24s %5.1f%%\n", i+1, p.Label, p.Probability*100)
	}
	return nil
}
