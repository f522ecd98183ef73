package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/researchaccelerator-hub/telegram-netscan/common"
	"github.com/researchaccelerator-hub/telegram-netscan/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"depth":               "max_depth",
	"max-depth":           "max_depth",
	"max-channels":        "max_channels",
	"max-messages":        "max_messages_per_channel",
	"delay":               "rate_limit_delay",
	"resume":              "resume",
	"output":              "output_dir",
	"checkpoint":          "checkpoint_file",
	"storage-root":        "storage_root",
	"tdlib-database-url":  "tdlib_database_url",
	"webapp-network-file": "webapp_network_file",
	"crawl-id":            "crawl_id",
	"log-level":           "log_level",
	"log-file":            "log_file",
	"metrics-addr":        "metrics_addr",
	"dapr":                "dapr.enabled",
	"dapr-state-store":    "dapr.state_store",
}

// app carries the configuration state of one CLI invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	logs    io.Closer
}

func newApp() *app {
	return &app{v: viper.New()}
}

// load resolves the configuration for cmd. defaults override the global
// defaults for keys the command treats differently.
func (a *app) load(cmd *cobra.Command, defaults map[string]any) (config.Config, error) {
	for key, value := range defaults {
		a.v.SetDefault(key, value)
	}
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return config.Config{}, err
	}
	if err := config.BindEnv(a.v); err != nil {
		return config.Config{}, err
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return config.Config{}, fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return config.Config{}, err
	}

	closer, err := common.SetupLogging(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return config.Config{}, err
	}
	a.logs = closer
	return cfg, nil
}

func (a *app) close() {
	if a.logs != nil {
		a.logs.Close()
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "netscan",
		Short:         "Map Telegram channel networks by following channel references",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ./config.yaml or $XDG_CONFIG_HOME/netscan/config.yaml)")
	pf.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	pf.String("log-file", config.DefaultLogFile, "JSON log file, empty to disable")
	pf.String("storage-root", "", "TDLib storage root (default XDG data dir)")
	pf.String("tdlib-database-url", "", "session archive URL or path created by generate-session")

	root.AddCommand(
		newScanCmd(a),
		newDeepScanCmd(a),
		newAnalyzeCmd(a),
		newInspectCmd(a),
		newGenerateSessionCmd(a),
	)
	return root
}

// Execute runs the CLI with the given arguments.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	_ = godotenv.Load()

	a := newApp()
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func main() {
	ctx, stop := signalContext(context.Background())
	err := Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
