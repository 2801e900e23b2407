package main

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/dshills/folio/internal/config"
	"github.com/dshills/folio/internal/logging"
	"github.com/dshills/folio/internal/plugin"
)

type rootOptions struct {
	configPath  string
	logLevel    string
	pluginPaths []string
	noSandbox   bool
	conflicts   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "folio",
		Short: "Plugin host for document renderers and transformers",
		Long: `folio discovers, validates, sandboxes and runs plugins that contribute
renderers (by file extension) and transformers (by content type).

Configuration is read from folio.toml or folio.yaml in the working directory,
or from --config, and can be overridden with FOLIO_* environment variables.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error, off)")
	flags.StringSliceVarP(&opts.pluginPaths, "plugins", "p", nil, "plugin directories (overrides plugins.paths)")
	flags.BoolVar(&opts.noSandbox, "no-sandbox", false, "run plugins without a sandbox")
	flags.StringVar(&opts.conflicts, "conflicts", "error", "conflict resolution: error, override, merge or ignore")

	cmd.AddCommand(newPluginsCommand(opts))
	cmd.AddCommand(newSandboxCommand(opts))
	cmd.AddCommand(newRenderCommand(opts))
	return cmd
}

// env is the resolved configuration shared by subcommands.
type env struct {
	file   config.File
	logger hclog.Logger
}

func (o *rootOptions) load() (*env, error) {
	path := o.configPath
	if path == "" {
		if found, ok := config.Find("."); ok {
			path = found
		}
	}
	f, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		f.Logging.Level = o.logLevel
	}
	if len(o.pluginPaths) > 0 {
		f.Plugins.Paths = o.pluginPaths
	}
	if o.noSandbox {
		f.Sandbox.Enabled = false
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(f.LoggingConfig())
	if f.Path() != "" {
		logger.Debug("configuration loaded", "path", f.Path())
	}
	return &env{file: f, logger: logger}, nil
}

func (e *env) discoveryConfig() plugin.DiscoveryConfig {
	p := e.file.Plugins
	return plugin.DiscoveryConfig{
		Paths:           e.file.PluginPaths(),
		ManifestFile:    p.ManifestFile,
		MaxDepth:        p.MaxDepth,
		Recursive:       p.Recursive,
		ExcludePatterns: p.Exclude,
	}
}

func (o *rootOptions) managerConfig(e *env) (plugin.ManagerConfig, error) {
	sb, err := e.file.Sandbox.Config()
	if err != nil {
		return plugin.ManagerConfig{}, err
	}
	policy, err := plugin.ParseConflictResolution(o.conflicts)
	if err != nil {
		return plugin.ManagerConfig{}, err
	}

	cfg := plugin.DefaultManagerConfig()
	cfg.HostVersion = e.file.HostVersion
	cfg.Discovery = e.discoveryConfig()
	cfg.Sandbox = sb
	cfg.Registry.ConflictResolution = policy
	cfg.AutoDiscover = e.file.Plugins.AutoDiscover
	cfg.AutoActivate = e.file.Plugins.AutoActivate
	cfg.Disabled = e.file.Plugins.Disabled
	cfg.Settings = e.file.Plugins.Settings
	if sb.Timeout > 0 {
		cfg.ScriptTimeout = sb.Timeout
	}
	cfg.WatchDebounce = 250 * time.Millisecond
	return cfg, nil
}

// startManager builds a manager and runs Initialize. Plugin failures are
// logged; the manager is returned regardless.
func (o *rootOptions) startManager(cmd *cobra.Command) (*plugin.Manager, *env, error) {
	e, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := o.managerConfig(e)
	if err != nil {
		return nil, nil, err
	}

	mgr := plugin.NewManager(cfg, plugin.WithLogger(e.logger.Named("plugins")))
	if err := mgr.Initialize(cmd.Context()); err != nil {
		e.logger.Warn("some plugins failed to start", "error", err)
	}
	return mgr, e, nil
}
