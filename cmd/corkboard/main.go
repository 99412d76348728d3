// cmd/corkboard/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/FairForge/corkboard/internal/board"
	"github.com/FairForge/corkboard/internal/config"
	"github.com/FairForge/corkboard/internal/integrity"
	"github.com/FairForge/corkboard/internal/logging"
	"github.com/FairForge/corkboard/internal/scene"
	"github.com/FairForge/corkboard/internal/store"
	"go.uber.org/zap"
)

const usage = `usage:
  corkboard inspect FILE        classify FILE and list the scene it holds
  corkboard import FILE URL     download URL and add it to the scene in FILE

environment:
  CORKBOARD_CONFIG              path to a YAML configuration file
  CORKBOARD_LOG_LEVEL, CORKBOARD_LOG_FORMAT, CORKBOARD_MAX_RETRIES, ...`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := logging.New(&cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	svc, err := board.NewService(cfg, logger)
	if err != nil {
		logger.Error("failed to create service", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case args[0] == "inspect" && len(args) == 2:
		err = inspect(ctx, svc, args[1])
	case args[0] == "import" && len(args) == 3:
		err = importURL(ctx, svc, args[1], args[2])
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}

	if err != nil {
		logger.Error("command failed", zap.String("command", args[0]), zap.Error(err))
		return 1
	}
	return 0
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := config.GetEnvOrDefault("CORKBOARD_CONFIG", ""); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, cfg.Validate()
}

func inspect(ctx context.Context, svc *board.Service, path string) error {
	res, err := svc.Classify(path)
	fmt.Printf("%s: %s\n", path, res)
	if res != integrity.ValidContainer {
		return err
	}

	snap, err := svc.Load(ctx, path)
	if snap == nil {
		return err
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	for i, item := range snap.PaintOrder() {
		p := item.Place()
		switch it := item.(type) {
		case *scene.ImageItem:
			fmt.Printf("%3d  image  z=%.3f  (%.1f, %.1f)  %s %s %d bytes\n",
				i, p.Z, p.X, p.Y, it.Filename, it.Format, len(it.Data))
		case *scene.TextItem:
			fmt.Printf("%3d  text   z=%.3f  (%.1f, %.1f)  %q\n", i, p.Z, p.X, p.Y, it.Text)
		case *scene.ErrorItem:
			fmt.Printf("%3d  error  z=%.3f  (%.1f, %.1f)  %s #%d: %v\n", i, p.Z, p.X, p.Y, it.Stored, it.SavedID, it.Err)
		}
	}
	b := snap.Bounds()
	fmt.Printf("%d items, bounds %.1fx%.1f at (%.1f, %.1f)\n", len(snap.Items), b.Width, b.Height, b.X, b.Y)
	return nil
}

func importURL(ctx context.Context, svc *board.Service, path, rawURL string) error {
	snap, err := svc.Load(ctx, path)
	switch {
	case err == nil:
	case snap != nil:
		// unreadable items are kept as placeholders and saved back untouched
		fmt.Fprintln(os.Stderr, err)
	case errors.Is(err, store.ErrUnreadable) && !exists(path):
		snap = &scene.Snapshot{}
	default:
		return err
	}

	item, err := svc.ImportImage(ctx, snap, rawURL)
	if err != nil {
		return err
	}
	snap.Items = append(snap.Items, item)
	snap.Meta.Bounds = snap.Bounds()

	if err := svc.Save(ctx, path, snap); err != nil {
		return err
	}
	fmt.Printf("added %s (%s, %d bytes) to %s\n", item.Filename, item.Format, len(item.Data), path)
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
