package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/folio/internal/plugin/manifest"
	"github.com/dshills/folio/internal/plugin/sandbox"
)

func newSandboxCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run code in a plugin sandbox",
	}
	cmd.AddCommand(newSandboxExecCommand(opts))
	return cmd
}

func newSandboxExecCommand(opts *rootOptions) *cobra.Command {
	var (
		file    string
		vars    []string
		showLog bool
	)
	cmd := &cobra.Command{
		Use:   "exec <plugin-dir-or-manifest> [code]",
		Short: "Execute Lua with a plugin's permissions and limits",
		Example: `  folio sandbox exec plugins/mermaid 'return plugin_id'
  folio sandbox exec plugins/mermaid -f probe.lua --var depth=3`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load()
			if err != nil {
				return err
			}
			cfg, err := e.file.Sandbox.Config()
			if err != nil {
				return err
			}
			// exec always runs guarded
			cfg.Enabled = true

			mf, err := loadManifestArg(args[0])
			if err != nil {
				return err
			}

			code, err := execSource(args, file)
			if err != nil {
				return err
			}
			globals, err := parseVars(vars)
			if err != nil {
				return err
			}

			mgr := sandbox.NewManager(cfg, sandbox.WithManagerLogger(e.logger.Named("sandbox")))
			defer mgr.DestroyAll()
			sb := mgr.CreateSandbox(mf, map[string]any{"plugin_id": mf.ID})

			res := sb.Execute(cmd.Context(), code, globals)
			out := cmd.OutOrStdout()
			if showLog {
				for _, ev := range sb.GetSecurityEvents() {
					fmt.Fprintf(out, "[%s] %s\n", ev.Type, ev.Detail)
				}
			}
			if res.Err != nil {
				return res.Err
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res.Result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "completed in %v\n", res.Duration)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read code from file")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "bind a global, key=json-or-string (repeatable)")
	cmd.Flags().BoolVar(&showLog, "events", false, "print the sandbox security log")
	return cmd
}

func loadManifestArg(path string) (*manifest.Manifest, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, manifest.DefaultFile)
	}
	return manifest.Load(path)
}

func execSource(args []string, file string) (string, error) {
	switch {
	case file != "" && len(args) > 1:
		return "", fmt.Errorf("pass code or --file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case len(args) > 1:
		return args[1], nil
	}
	return "", fmt.Errorf("no code given")
}

// parseVars decodes key=value pairs. Values that parse as JSON keep their
// type; anything else is a string.
func parseVars(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}
