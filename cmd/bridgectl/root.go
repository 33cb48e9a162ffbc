package main

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"powerbridge/internal/app"
	"powerbridge/internal/config"
)

type rootOptions struct {
	configPath string
	workFolder string
	backend    string
	serverURL  string
	logLevel   string
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "bridgectl",
		Short:         "Drive the inference bridge from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&opts.workFolder, "work-folder", "", "Folder holding *.gguf models (overrides config)")
	pf.StringVar(&opts.backend, "backend", "", "Engine backend: llama|server (overrides config)")
	pf.StringVar(&opts.serverURL, "server-url", "", "llama-server base URL for the server backend")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.BoolVar(&opts.logJSON, "log-json", false, "Emit JSON logs instead of console output")

	root.AddCommand(newChatCmd(opts), newServeCmd(opts))
	return root
}

// load resolves the effective configuration and installs the logger.
func (o *rootOptions) load() (config.Config, zerolog.Logger, error) {
	cfg := config.Config{}
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, zerolog.Nop(), err
		}
		cfg = c
	}
	if o.workFolder != "" {
		cfg.WorkFolder = o.workFolder
	}
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if o.serverURL != "" {
		cfg.ServerURL = o.serverURL
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logJSON {
		cfg.LogJSON = true
	}
	cfg.ApplyDefaults()
	log, err := app.NewLogger(cfg.LogLevel, cfg.LogJSON, nil)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	app.InstallLogger(log)
	return cfg, log, nil
}

// splitCSV splits a comma-separated list, dropping blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
