package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"scriptdeck/internal/assist"
	"scriptdeck/internal/emulator"
	"scriptdeck/internal/probe"
	"scriptdeck/internal/tail"
)

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (c *cli) tailCmd() *cobra.Command {
	var rate float64
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the newest file in the log directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("rate") {
				rate = c.cfg.Tail.RefreshRate
			}
			tailer := tail.New(tail.Config{
				Dir:         c.cfg.Paths.Logs,
				RefreshRate: rate,
				Notify:      c.cfg.Tail.Notify,
			}, c.logger)

			out := cmd.OutOrStdout()
			sink := tail.SinkFuncs{
				InfoFunc: func(msg string) { fmt.Fprintln(out, infoMsg("%s", msg)) },
				BatchFunc: func(lines []string) {
					for _, l := range lines {
						fmt.Fprintln(out, l)
					}
				},
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			tailer.Start(sink)
			fmt.Fprintln(out, muted(fmt.Sprintf("following %s every %.1fs, ctrl-c to stop", tailer.Dir(), tailer.RefreshRate())))

			select {
			case <-ctx.Done():
			case <-tailer.Done():
			}
			tailer.Stop()

			if errors.Is(tailer.Err(), tail.ErrDirectoryMissing) {
				return fmt.Errorf("log directory %s does not exist", tailer.Dir())
			}
			return tailer.Err()
		},
	}
	cmd.Flags().Float64VarP(&rate, "rate", "r", tail.DefaultRefreshRate, "Refresh rate in seconds")
	return cmd
}

func (c *cli) probeCmd() *cobra.Command {
	var scan bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Locate the execution service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := probe.New(c.cfg.probeConfig(), probe.WithLogger(c.logger))
			out := cmd.OutOrStdout()
			pc := p.Config()

			if scan {
				var rows [][]string
				for _, cand := range p.Scan(cmd.Context()) {
					if !cand.Match && cand.Status == 0 {
						continue
					}
					status := "-"
					if cand.Status != 0 {
						status = strconv.Itoa(cand.Status)
					}
					rows = append(rows, []string{strconv.Itoa(cand.Port), yesNo(cand.Match), status, cand.Error})
				}
				if len(rows) == 0 {
					fmt.Fprintln(out, muted(fmt.Sprintf("nothing answered on %s:%d-%d", pc.Host, pc.StartPort, pc.EndPort)))
					return nil
				}
				fmt.Fprintln(out, renderTable([]string{"Port", "Match", "Status", "Error"}, rows))
				return nil
			}

			svc, err := p.Locate(cmd.Context())
			if errors.Is(err, probe.ErrNotFound) {
				fmt.Fprintln(out, errorMsg("no execution service on %s:%d-%d", pc.Host, pc.StartPort, pc.EndPort))
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, successMsg("execution service at %s", svc.BaseURL()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&scan, "scan", false, "Report every port that answered instead of stopping at the first match")
	return cmd
}

func (c *cli) emulateCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Run a local stand-in for the execution service",
		Long: "Serve the challenge and execute endpoints, running submitted scripts in a\n" +
			"sandboxed Lua VM and writing their output to a log file in the log directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				port = c.cfg.Emulator.Port
			}
			srv, err := emulator.New(emulator.Config{
				Host:    c.cfg.Emulator.Host,
				Port:    port,
				LogDir:  c.cfg.Emulator.LogDir,
				Timeout: c.cfg.emulatorTimeout(),
			}, c.logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), infoMsg("emulator writing to %s", srv.LogPath()))

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", emulator.DefaultPort, "Port to listen on")
	return cmd
}

func (c *cli) catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Query the public script catalog",
	}

	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the catalog, printing the raw JSON response",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var q string
			if len(args) == 1 {
				q = args[0]
			}
			raw, err := newCatalog(c.cfg).Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			var pretty any
			if err := json.Unmarshal(raw, &pretty); err != nil {
				return fmt.Errorf("decode catalog response: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pretty)
		},
	}

	game := &cobra.Command{
		Use:   "game <universe-id>",
		Short: "Resolve a game's display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := newCatalog(c.cfg).GameName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}

	cmd.AddCommand(search, game)
	return cmd
}

func (c *cli) assistCmd() *cobra.Command {
	var contextPath, saveAs string
	cmd := &cobra.Command{
		Use:   "assist <prompt...>",
		Short: "Generate Lua code from a prompt",
		Long: "Ask the code generation service for a script. The code goes to stdout;\n" +
			"--save also stores it under the given name.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.cfg.Assist.Enabled {
				return errors.New("assist is disabled in the config")
			}
			var editor string
			if contextPath != "" {
				src, err := readSource(contextPath, cmd.InOrStdin())
				if err != nil {
					return err
				}
				editor = src
			}

			sug, err := newAssistant(c.cfg).Generate(cmd.Context(), strings.Join(args, " "), editor)
			if err != nil {
				return errors.New(assist.Describe(err))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, sug.Code)
			if sug.Explanation != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), muted(sug.Explanation))
			}
			if saveAs == "" {
				return nil
			}
			store, err := c.store()
			if err != nil {
				return err
			}
			rec, err := store.Save(saveAs, sug.Code, false)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), successMsg("saved %s", rec.Name))
			return nil
		},
	}
	cmd.Flags().StringVarP(&contextPath, "context", "f", "", "Lua file sent as editor context (- for stdin)")
	cmd.Flags().StringVarP(&saveAs, "save", "s", "", "Store the generated code under this name")
	return cmd
}
