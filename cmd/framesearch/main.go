package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/lmittmann/tint"
	cli "github.com/urfave/cli/v3"

	"github.com/bdougie/framesearch/internal/analyzer"
	"github.com/bdougie/framesearch/internal/config"
	"github.com/bdougie/framesearch/internal/embeddings"
	"github.com/bdougie/framesearch/internal/extractor"
	"github.com/bdougie/framesearch/internal/indexer"
	"github.com/bdougie/framesearch/internal/search"
	"github.com/bdougie/framesearch/internal/server"
	"github.com/bdougie/framesearch/internal/storage"
	"github.com/bdougie/framesearch/internal/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "framesearch",
		Usage: "Extract, caption and index video frames for semantic search",
		Commands: []*cli.Command{
			indexCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      cfg.SlogLevel(),
			TimeFormat: "15:04:05",
		}),
	)
}

// setup loads configuration, builds the logger and starts tracing. The
// returned function flushes pending spans.
func setup(ctx context.Context, apply func(*config.Config)) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logger := newLogger(cfg)

	tp, err := tracing.InitTracer(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	shutdown := func() {
		if tp == nil {
			return
		}
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}
	return cfg, logger, shutdown, nil
}

func openSearchStack(ctx context.Context, cfg *config.Config) (*embeddings.Service, storage.Collection, error) {
	embedder, err := embeddings.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load embedding model: %w", err)
	}
	service := embeddings.NewService(embedder, cfg.EmbeddingWorkers)

	collection, err := storage.Open(ctx, cfg)
	if err != nil {
		service.Close()
		return nil, nil, fmt.Errorf("failed to open vector collection: %w", err)
	}
	return service, collection, nil
}

func indexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Extract frames from every video and index them",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "skip-extraction", Usage: "Reuse the existing metadata.json instead of extracting frames"},
			&cli.BoolFlag{Name: "recreate", Usage: "Drop and recreate the vector collection before indexing"},
			&cli.BoolFlag{Name: "test", Usage: "Run sample queries after indexing"},
			&cli.BoolFlag{Name: "ember-only", Usage: "Caption with the narrow label vocabulary"},
			&cli.IntFlag{Name: "max-frames", Usage: "Maximum frames kept per video (0 for no limit)"},
			&cli.Float64Flag{Name: "fps", Usage: "Frames sampled per second of video"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, shutdown, err := setup(ctx, func(c *config.Config) {
				if cmd.Bool("ember-only") {
					c.CaptionVocabulary = config.VocabularyNarrow
				}
				if cmd.IsSet("max-frames") {
					c.MaxFramesPerVideo = cmd.Int("max-frames")
				}
				if cmd.IsSet("fps") {
					c.FramesPerSecond = cmd.Float64("fps")
				}
			})
			if err != nil {
				return err
			}
			defer shutdown()

			var snapshot storage.Snapshot
			if cmd.Bool("skip-extraction") {
				snapshot, err = storage.ReadSnapshot(cfg.FramesDir)
				if errors.Is(err, storage.ErrNoSnapshot) {
					return cli.Exit("No metadata found. Run without --skip-extraction first", 1)
				}
				if err != nil {
					return err
				}
				fmt.Printf("Loaded metadata for %d frames\n", len(snapshot))
			} else {
				fmt.Println("Extracting frames from videos...")
				snapshot, err = extract(ctx, cfg, logger)
				if err != nil {
					return err
				}
			}

			if cfg.MinIOEndpoint != "" {
				if err := mirror(ctx, cfg, snapshot, logger); err != nil {
					return err
				}
			}

			service, collection, err := openSearchStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer service.Close()
			defer collection.Close()

			ix := indexer.New(collection, service, cfg.IndexBatchSize, logger)
			if cmd.Bool("recreate") {
				if err := ix.RecreateCollection(ctx); err != nil {
					return err
				}
				fmt.Printf("Deleted existing collection: %s\n", collection.Name())
			}

			fmt.Printf("Indexing frames in %s...\n", collection.Name())
			n, err := ix.IndexBatch(ctx, snapshot)
			if errors.Is(err, indexer.ErrNothingToIndex) {
				fmt.Println("No frames to index!")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d frames in %s\n", n, collection.Name())

			if cmd.Bool("test") {
				fmt.Println("\nTesting the search functionality...")
				return ix.SmokeTest(ctx, os.Stdout, indexer.DefaultQueries, 2)
			}
			return nil
		},
	}
}

func extract(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Snapshot, error) {
	store, err := storage.NewFrameStore(cfg.FramesDir)
	if err != nil {
		return nil, err
	}

	captioner := analyzer.New(ctx, cfg, logger)
	defer captioner.Close()

	var captions extractor.FrameCaptioner
	if captioner.Available() {
		captions = analyzer.NewProcessor(captioner, store, cfg.CaptionWorkers, logger)
	}

	ex := extractor.New(extractor.NewFFmpegDecoder(), store, captions, extractor.Options{
		VideosDir:       cfg.VideosDir,
		FramesDir:       cfg.FramesDir,
		Extensions:      cfg.VideoExtensions,
		FramesPerSecond: cfg.FramesPerSecond,
		MaxFrames:       cfg.MaxFramesPerVideo,
	}, logger)

	summary, err := ex.ProcessAll(ctx)
	if err != nil {
		return nil, err
	}

	snapshot, err := store.Finalize()
	if err != nil {
		return nil, err
	}

	printSummary(summary)
	return snapshot, nil
}

func printSummary(s extractor.Summary) {
	videos := make([]string, 0, len(s.PerVideo))
	for v := range s.PerVideo {
		videos = append(videos, v)
	}
	sort.Strings(videos)

	fmt.Printf("\nProcessed %d videos, extracted %d frames (%d captioned)\n", s.Videos, s.Frames, s.Captioned)
	for _, v := range videos {
		fmt.Printf("  %s: %d frames\n", v, s.PerVideo[v])
	}
	for _, f := range s.Failures {
		fmt.Printf("  %s: failed: %v\n", f.Video, f.Err)
	}
}

func mirror(ctx context.Context, cfg *config.Config, snapshot storage.Snapshot, logger *slog.Logger) error {
	m, err := storage.NewMirror(storage.MirrorConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		UseSSL:    cfg.MinIOUseSSL,
		Bucket:    cfg.MinIOBucket,
	})
	if err != nil {
		return err
	}
	if err := m.EnsureBucket(ctx); err != nil {
		return err
	}
	n, err := m.UploadSnapshot(ctx, cfg.FramesDir, snapshot)
	if err != nil {
		return err
	}
	logger.Info("mirrored frames to object storage", "bucket", cfg.MinIOBucket, "frames", n)
	return nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the frame search API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides HTTP_ADDR)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, shutdown, err := setup(ctx, func(c *config.Config) {
				if cmd.IsSet("addr") {
					c.HTTPAddr = cmd.String("addr")
				}
			})
			if err != nil {
				return err
			}
			defer shutdown()

			snapshot, err := storage.LoadSnapshot(cfg.FramesDir)
			if err != nil {
				return err
			}
			if len(snapshot) == 0 {
				logger.Warn("no frame metadata found, searches will return no results", "dir", cfg.FramesDir)
			}

			service, collection, err := openSearchStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer service.Close()
			defer collection.Close()

			retriever, err := search.NewRetriever(ctx, collection, service, snapshot, logger)
			if err != nil {
				return err
			}

			srv := server.New(retriever, server.Options{
				Addr:          cfg.HTTPAddr,
				FramesDir:     cfg.FramesDir,
				PublicBaseURL: cfg.PublicBaseURL,
			}, logger)
			return srv.ListenAndServe(ctx)
		},
	}
}
