package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"scriptdeck/internal/assist"
	"scriptdeck/internal/catalog"
	"scriptdeck/internal/deck"
	"scriptdeck/internal/dispatch"
	"scriptdeck/internal/events"
	"scriptdeck/internal/history"
	"scriptdeck/internal/probe"
	"scriptdeck/internal/scripts"
	"scriptdeck/internal/tail"
)

// openDeck assembles the deck from cfg. History is optional: when the
// database is disabled or locked by a running server, the deck works without it.
func openDeck(cfg *Config, logger *slog.Logger) (*deck.Deck, error) {
	store, err := scripts.NewStore(cfg.Paths.Scripts, cfg.Paths.AutoExec, logger)
	if err != nil {
		return nil, fmt.Errorf("open script store: %w", err)
	}

	prober := probe.New(cfg.probeConfig(), probe.WithLogger(logger))
	dispatcher := dispatch.New(prober, dispatch.WithLogger(logger))
	tailer := tail.New(tail.Config{
		Dir:         cfg.Paths.Logs,
		RefreshRate: cfg.Tail.RefreshRate,
		Notify:      cfg.Tail.Notify,
	}, logger)

	opts := []deck.Option{deck.WithSyntaxCheck(cfg.SyntaxCheck)}
	if cfg.History.Enabled {
		if h, err := openHistory(cfg); err != nil {
			logger.Warn("dispatch history unavailable", "path", cfg.History.Path, "err", err)
		} else {
			opts = append(opts, deck.WithHistory(h))
		}
	}

	return deck.New(store, dispatcher, tailer, events.NewBus(logger), logger, opts...), nil
}

func openHistory(cfg *Config) (*history.BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return history.NewBoltStore(cfg.History.Path, cfg.History.MaxEntries)
}

func newCatalog(cfg *Config) *catalog.Client {
	opts := []catalog.Option{catalog.WithRetry(cfg.Catalog.Retries, 500*time.Millisecond)}
	if cfg.Catalog.BaseURL != "" {
		opts = append(opts, catalog.WithBaseURL(cfg.Catalog.BaseURL))
	}
	if cfg.Catalog.GamesURL != "" {
		opts = append(opts, catalog.WithGamesURL(cfg.Catalog.GamesURL))
	}
	return catalog.NewClient(opts...)
}

func newAssistant(cfg *Config) *assist.Client {
	timeout, _ := time.ParseDuration(cfg.Assist.Timeout)
	return assist.NewClient(
		assist.WithURL(cfg.Assist.URL),
		assist.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
}
