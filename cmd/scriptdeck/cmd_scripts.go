package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"scriptdeck/internal/luacheck"
	"scriptdeck/internal/scripts"
)

func (c *cli) scriptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "scripts",
		Aliases: []string{"script", "s"},
		Short:   "Manage stored scripts",
	}
	cmd.AddCommand(
		c.scriptsListCmd(),
		c.scriptsShowCmd(),
		c.scriptsSaveCmd(),
		c.scriptsDeleteCmd(),
		c.scriptsRenameCmd(),
		c.scriptsAutoExecCmd(),
		c.scriptsOrphansCmd(),
		scriptsCheckCmd(),
	)
	return cmd
}

func (c *cli) store() (*scripts.Store, error) {
	return scripts.NewStore(c.cfg.Paths.Scripts, c.cfg.Paths.AutoExec, c.logger)
}

func (c *cli) scriptsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored scripts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.store()
			if err != nil {
				return err
			}
			records, err := st.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, muted("no scripts in "+st.Dir()))
				return nil
			}
			rows := make([][]string, len(records))
			for i, r := range records {
				rows[i] = []string{r.Name, yesNo(r.AutoExec), strconv.Itoa(len(r.Content))}
			}
			fmt.Fprintln(out, renderTable([]string{"Name", "Auto-exec", "Bytes"}, rows))
			return nil
		},
	}
}

func (c *cli) scriptsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a stored script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.store()
			if err != nil {
				return err
			}
			rec, err := st.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), rec.Content)
			return nil
		},
	}
}

func (c *cli) scriptsSaveCmd() *cobra.Command {
	var autoExec bool
	cmd := &cobra.Command{
		Use:   "save <name> [file|-]",
		Short: "Store a script from a file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 2 {
				path = args[1]
			}
			src, err := readSource(path, cmd.InOrStdin())
			if err != nil {
				return err
			}
			st, err := c.store()
			if err != nil {
				return err
			}
			rec, err := st.Save(args[0], src, autoExec)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if c.cfg.SyntaxCheck {
				for _, d := range luacheck.Check(rec.Name, rec.Content) {
					fmt.Fprintln(out, warnMsg("%s: %s", rec.Name, d))
				}
			}
			fmt.Fprintln(out, successMsg("saved %s", rec.Name))
			fmt.Fprint(out, keyValues(kv("path", rec.Path), kv("auto-exec", yesNo(rec.AutoExec))))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&autoExec, "autoexec", "a", false, "Also mirror the script into the auto-execute directory")
	return cmd
}

func (c *cli) scriptsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a script and its auto-execute mirror",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.store()
			if err != nil {
				return err
			}
			if err := st.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successMsg("deleted %s", args[0]))
			return nil
		},
	}
}

func (c *cli) scriptsRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rename <old> <new>",
		Aliases: []string{"mv"},
		Short:   "Rename a script, keeping its auto-execute mirror in sync",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.store()
			if err != nil {
				return err
			}
			name, err := st.Rename(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successMsg("renamed %s to %s", args[0], name))
			return nil
		},
	}
}

func (c *cli) scriptsAutoExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "autoexec <name> on|off",
		Short:     "Toggle the auto-execute mirror for a script",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[1] {
			case "on", "true", "yes":
				enabled = true
			case "off", "false", "no":
			default:
				return fmt.Errorf("expected on or off, got %q", args[1])
			}
			st, err := c.store()
			if err != nil {
				return err
			}
			if err := st.SetAutoExec(args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successMsg("auto-execute for %s: %s", args[0], yesNo(enabled)))
			return nil
		},
	}
}

func (c *cli) scriptsOrphansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "List auto-execute files that have no stored script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.store()
			if err != nil {
				return err
			}
			orphans, err := st.Orphans()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(orphans) == 0 {
				fmt.Fprintln(out, muted("no orphaned auto-execute files"))
				return nil
			}
			for _, name := range orphans {
				fmt.Fprintln(out, warnMsg("%s", name))
			}
			return nil
		},
	}
}

func scriptsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [file|-]",
		Short: "Check a Lua file for syntax errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "stdin"
			var path string
			if len(args) == 1 {
				path, name = args[0], args[0]
			}
			src, err := readSource(path, cmd.InOrStdin())
			if err != nil {
				return err
			}
			diags := luacheck.Check(name, src)
			out := cmd.OutOrStdout()
			if len(diags) == 0 {
				fmt.Fprintln(out, successMsg("%s: no syntax errors", name))
				return nil
			}
			for _, d := range diags {
				fmt.Fprintln(out, errorMsg("%s: %s", name, d))
			}
			return fmt.Errorf("%s: %d syntax error(s)", name, len(diags))
		},
	}
}
