package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scriptdeck/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// cli carries state shared by every subcommand once the root has loaded the
// configuration.
type cli struct {
	cfgPath string
	cfg     *Config
	logger  *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorMsg("%v", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "scriptdeck",
		Short:         "Manage local Lua scripts and dispatch them to the execution service",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			explicit := cmd.Flags().Changed("config")
			cfg, err := loadConfig(c.cfgPath, explicit)
			if err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			c.cfg = cfg
			c.logger = newLogger(cfg)
			slog.SetDefault(c.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", defaultConfigPath, "Path to the YAML config file")

	root.AddCommand(
		c.serveCmd(),
		c.execCmd(),
		c.runCmd(),
		c.scriptsCmd(),
		c.historyCmd(),
		c.tailCmd(),
		c.probeCmd(),
		c.emulateCmd(),
		c.catalogCmd(),
		c.assistCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// Skip config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "scriptdeck "+version)
		},
	}
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web API, console stream and MQTT bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve()
		},
	}
}

func (c *cli) serve() error {
	cfg, logger := c.cfg, c.logger
	logger.Info("scriptdeck starting", "version", version)

	d, err := openDeck(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	if orphans, err := d.Scripts().Orphans(); err != nil {
		logger.Warn("check auto-execute mirror", "err", err)
	} else if len(orphans) > 0 {
		logger.Warn("auto-execute files without a script", "files", orphans)
	}

	if cfg.Tail.AutoStart {
		d.StartTail()
	}

	webOpts := []web.ServerOption{web.WithVersion(version)}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	if cfg.Catalog.Enabled {
		webOpts = append(webOpts, web.WithCatalog(newCatalog(cfg)))
	}
	if cfg.Assist.Enabled {
		webOpts = append(webOpts, web.WithAssistant(newAssistant(cfg)))
	}
	webServer := web.NewServer(d, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(d, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig)
	case serveErr = <-errCh:
		logger.Error("http server", "err", serveErr)
	}
	signal.Stop(sigCh)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()

	logger.Info("goodbye")
	return serveErr
}
