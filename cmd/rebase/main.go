// Command rebase bundles the entry points listed in rebase.config.json with
// esbuild and relocates every referenced asset next to the bundle.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vormadev/rebase/internal/config"
	"github.com/vormadev/rebase/kit/colorlog"
	"github.com/vormadev/rebase/tooling"
)

func main() {
	configPath := flag.String("config", config.DefaultFile, "path to the config file")
	watch := flag.Bool("watch", false, "rebuild on file changes")
	verbose := flag.Bool("verbose", false, "log every copied and processed asset")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := colorlog.New("rebase", colorlog.Options{Level: level})

	if err := run(*configPath, *watch, *verbose, log); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func run(configPath string, watch, verbose bool, log *slog.Logger) error {
	if err := config.LoadDotenv(filepath.Dir(configPath)); err != nil {
		return err
	}
	cfg, err := config.ParseFile(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if verbose {
		cfg.Rebase.Verbose = true
	}

	b, err := tooling.NewBuilder(cfg, log)
	if err != nil {
		return err
	}
	if !watch {
		return b.Build()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return b.Watch(ctx)
}
