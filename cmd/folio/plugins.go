package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/folio/internal/event"
	"github.com/dshills/folio/internal/plugin"
	"github.com/dshills/folio/internal/plugin/manifest"
)

func newPluginsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Discover, validate and inspect plugins",
		Example: `  # Show plugins found under the configured paths
  folio plugins discover

  # Validate manifests
  folio plugins validate plugins/mermaid

  # Load and activate plugins, then list their status
  folio plugins list --json`,
	}

	cmd.AddCommand(newPluginsDiscoverCommand(opts))
	cmd.AddCommand(newPluginsValidateCommand())
	cmd.AddCommand(newPluginsListCommand(opts))
	cmd.AddCommand(newPluginsWatchCommand(opts))
	return cmd
}

func newPluginsDiscoverCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List plugin manifests found on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			res, err := plugin.Discover(cmd.Context(), e.discoveryConfig())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tENTRY\tPATH")
			for _, d := range res.Manifests {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Manifest.ID, d.Manifest.Version, d.Manifest.Entry, d.Path)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			for _, de := range res.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "invalid: %v\n", de)
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d invalid plugin(s)", len(res.Errors))
			}
			return nil
		},
	}
}

func newPluginsValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest-or-dir>...",
		Short: "Validate plugin manifests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, arg := range args {
				ok, err := validateManifest(cmd.OutOrStdout(), arg)
				if err != nil {
					return err
				}
				if !ok {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d manifest(s) invalid", failed, len(args))
			}
			return nil
		},
	}
}

func validateManifest(out io.Writer, path string) (bool, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, manifest.DefaultFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read manifest: %w", err)
	}

	res := manifest.Validate(data)
	status := "ok"
	if !res.Valid {
		status = "invalid"
	}
	fmt.Fprintf(out, "%s: %s\n", path, status)
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  error: %s\n", e)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
	return res.Valid, nil
}

func newPluginsListCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Load plugins and show their status and capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, _, err := opts.startManager(cmd)
			if err != nil {
				return err
			}
			defer mgr.Dispose(context.WithoutCancel(cmd.Context()))

			if asJSON {
				return printPluginsJSON(cmd.OutOrStdout(), mgr)
			}
			return printPluginsTable(cmd.OutOrStdout(), mgr)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

type pluginListing struct {
	plugin.Info
	Renderers    []string `json:"renderers,omitempty"`
	Transformers []string `json:"transformers,omitempty"`
	Enabled      bool     `json:"enabled"`
	Priority     int      `json:"priority"`
}

func listings(mgr *plugin.Manager) []pluginListing {
	var out []pluginListing
	for _, inst := range mgr.GetPlugins() {
		l := pluginListing{Info: inst.Info()}
		if reg, ok := mgr.Registry().Get(inst.ID()); ok {
			l.Renderers = reg.Renderers
			l.Transformers = reg.Transformers
			l.Enabled = reg.Enabled
			l.Priority = reg.Priority
		}
		out = append(out, l)
	}
	return out
}

func printPluginsJSON(w io.Writer, mgr *plugin.Manager) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(listings(mgr))
}

func printPluginsTable(w io.Writer, mgr *plugin.Manager) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tKIND\tSTATUS\tPRIORITY\tRENDERERS\tTRANSFORMERS")
	for _, l := range listings(mgr) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%v\t%v\n",
			l.ID, l.Version, l.Kind, l.Status, l.Priority, l.Renderers, l.Transformers)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	st := mgr.SecurityStats()
	fmt.Fprintf(w, "\nsandboxes: %d active, %d executions, %d violations\n", st.Active, st.TotalExecutions, st.Violations)
	return nil
}

func newPluginsWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Load plugins and reload them as their manifests change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, e, err := opts.startManager(cmd)
			if err != nil {
				return err
			}
			defer mgr.Dispose(context.WithoutCancel(cmd.Context()))

			if _, err := mgr.On("plugin:**", func(_ context.Context, ev event.Event) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ev.Timestamp.Format("15:04:05"), ev.Topic)
				return nil
			}); err != nil {
				return err
			}

			e.logger.Info("watching plugins", "paths", e.file.PluginPaths())
			err = mgr.Watch(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
