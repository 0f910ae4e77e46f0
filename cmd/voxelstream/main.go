package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"voxelstream/internal/config"
	"voxelstream/internal/engine"
	"voxelstream/internal/network"
)

func main() {
	var (
		cfgPath      string
		writeDefault bool
		pathKind     string
		radius       float64
		speed        float64
		height       float64
	)
	flag.StringVar(&cfgPath, "config", "", "path to a YAML or JSON configuration file")
	flag.BoolVar(&writeDefault, "write-default", false, "write the default configuration to -config and exit")
	flag.StringVar(&pathKind, "path", "circle", "viewer fly-over path: circle, line or still")
	flag.Float64Var(&radius, "radius", 96, "circle path radius in voxels")
	flag.Float64Var(&speed, "speed", 12, "viewer speed in voxels per second")
	flag.Float64Var(&height, "height", 24, "viewer height in voxels")
	flag.Parse()

	if writeDefault {
		if cfgPath == "" {
			log.Fatalf("-write-default needs -config")
		}
		if err := config.WriteDefault(cfgPath); err != nil {
			log.Fatalf("write default config: %v", err)
		}
		return
	}

	if _, err := writeConfigFromEnv(cfgPath); err != nil {
		log.Fatalf("sync config from environment: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	path, err := newViewerPath(pathKind, radius, speed, height)
	if err != nil {
		logger.Fatal("invalid viewer path", zap.Error(err))
	}

	stream := network.NewMeshStream(network.StreamOptions{ChunkEdge: cfg.Chunk.Edge}, logger)
	eng, err := engine.New(cfg, stream, logger)
	if err != nil {
		logger.Fatal("initialise engine", zap.Error(err))
	}

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.Engine.Listen != "" {
		go func() {
			if err := stream.ListenAndServe(ctx, cfg.Engine.Listen); err != nil {
				logger.Error("mesh stream stopped", zap.Error(err))
				cancel()
			}
		}()
	}
	go flyOver(ctx, eng, path, logger)

	if err := eng.Run(ctx); err != nil {
		logger.Fatal("engine exited with error", zap.Error(err))
	}
	stream.Close()
}

// flyOver moves the viewer along path until ctx ends or the engine stops.
func flyOver(ctx context.Context, eng *engine.Engine, path viewerPath, logger *zap.Logger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()
	for {
		if err := eng.SetViewer(ctx, path(time.Since(start))); err != nil {
			if !errors.Is(err, engine.ErrStopped) && ctx.Err() == nil {
				logger.Warn("viewer update failed", zap.Error(err))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}

		// Ensure the process terminates if shutdown stalls.
		time.AfterFunc(10*time.Second, func() {
			log.Printf("forced shutdown after timeout")
			os.Exit(1)
		})
	}()

	return ctx, cancel
}
