// Command cleanup purges generated artifacts from the output
// directory. It is meant to run out of band (cron or by hand); the
// worker keeps no pointer to files on disk once its registry is gone,
// so stale artifacts only waste space.
package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/infernalforge/forge/internal/config"
	"github.com/infernalforge/forge/internal/sysutil"
)

func main() {
	_ = godotenv.Load()

	dryRun := flag.Bool("dry-run", false, "report what would be removed without removing it")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	removed, err := purge(cfg.OutputDir, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.OutputDir).Msg("cleanup failed")
	}
	log.Info().Int("removed", removed).Bool("dry_run", *dryRun).Str("dir", cfg.OutputDir).Msg("cleanup complete")
}

// purge removes generated images under root, including per-user
// subdirectories, and prunes directories left empty. Only .png files
// are touched; anything else in the tree is left alone.
func purge(root string, dryRun bool) (int, error) {
	removed := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".png") {
			return nil
		}
		if dryRun {
			log.Info().Str("file", path).Msg("would remove")
			removed++
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		log.Debug().Str("file", path).Msg("removed")
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	if dryRun {
		return removed, nil
	}

	// Drop per-user directories that are now empty.
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return removed, nil
		}
		return removed, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(root, e.Name())
		if rest, err := os.ReadDir(sub); err == nil && len(rest) == 0 {
			_ = os.Remove(sub)
		}
	}
	return removed, nil
}
