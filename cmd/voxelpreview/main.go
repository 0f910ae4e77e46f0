package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"voxelstream/internal/config"
	"voxelstream/internal/preview"
	"voxelstream/internal/terrain"
	"voxelstream/internal/voxel"
)

func main() {
	var (
		cfgPath string
		out     string
		radius  int
		minY    int
		maxY    int
		width   int
	)
	flag.StringVar(&cfgPath, "config", "", "path to a YAML or JSON configuration file")
	flag.StringVar(&out, "out", "preview.webp", "output WebP path")
	flag.IntVar(&radius, "radius", 2, "chunks around the origin on X and Z")
	flag.IntVar(&minY, "min-y", -1, "lowest chunk layer")
	flag.IntVar(&maxY, "max-y", 1, "highest chunk layer")
	flag.IntVar(&width, "width", 1024, "output width in pixels, 0 keeps the native size")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	start := time.Now()
	lo := voxel.ChunkCoord{X: int32(-radius), Y: int32(minY), Z: int32(-radius)}
	hi := voxel.ChunkCoord{X: int32(radius), Y: int32(maxY), Z: int32(radius)}
	chunks, err := preview.Generate(context.Background(), terrain.NewNoiseGenerator(cfg.Terrain), cfg.Terrain, cfg.Chunk.Edge, lo, hi)
	if err != nil {
		logger.Fatal("generate chunks", zap.Error(err))
	}
	palette, err := cfg.Palette()
	if err != nil {
		logger.Fatal("build palette", zap.Error(err))
	}
	img, err := preview.Render(chunks, cfg.Chunk.Edge, palette, preview.Options{Width: width})
	if err != nil {
		logger.Fatal("render preview", zap.Error(err))
	}
	if err := preview.Save(out, img); err != nil {
		logger.Fatal("save preview", zap.Error(err))
	}

	logger.Info("preview written",
		zap.String("path", out),
		zap.Int("chunks", len(chunks)),
		zap.String("voxels", humanize.Comma(int64(len(chunks)*cfg.Chunk.Edge*cfg.Chunk.Edge*cfg.Chunk.Edge))),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
		zap.Duration("took", time.Since(start)))
}
