package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"scriptdeck/internal/dispatch"
	"scriptdeck/internal/history"
)

// readSource reads a script from path, or from in when path is "-" or empty.
func readSource(path string, in io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}

func (c *cli) execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec [file|-]",
		Short: "Send a Lua file (or stdin) to the execution service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			src, err := readSource(path, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if src == "" {
				return errors.New("script is empty")
			}

			d, err := openDeck(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer d.Close()

			res := d.Execute(cmd.Context(), history.SourceCLI, src)
			return reportResult(cmd, res)
		},
	}
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <name>",
		Short: "Dispatch a stored script by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeck(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer d.Close()

			res, err := d.RunScript(cmd.Context(), history.SourceCLI, args[0])
			if err != nil {
				return err
			}
			return reportResult(cmd, res)
		},
	}
}

// reportResult prints res and turns a failed dispatch into a non-zero exit.
func reportResult(cmd *cobra.Command, res *dispatch.Result) error {
	fmt.Fprintln(cmd.OutOrStdout(), resultLine(res))
	if res.Body != "" && !res.OK {
		fmt.Fprintln(cmd.OutOrStdout(), muted(res.Body))
	}
	return res.Err()
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		limit int
		wipe  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent dispatches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHistory(c.cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			out := cmd.OutOrStdout()
			if wipe {
				if err := h.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(out, successMsg("history cleared"))
				return nil
			}

			entries, err := h.Recent(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, muted("no dispatches recorded"))
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"When", "Source", "Script", "OK", "Port", "Message", "Took"},
				historyRows(entries),
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&wipe, "clear", false, "Delete all recorded dispatches")
	return cmd
}

func historyRows(entries []history.Entry) [][]string {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		script := e.Script
		if script == "" {
			script = fmt.Sprintf("<%d bytes>", e.Bytes)
		}
		port := "-"
		if e.Port != 0 {
			port = strconv.Itoa(e.Port)
		}
		rows[i] = []string{
			e.At.Local().Format(time.DateTime),
			e.Source,
			script,
			yesNo(e.OK),
			port,
			e.Message,
			e.Duration.Round(time.Millisecond).String(),
		}
	}
	return rows
}
