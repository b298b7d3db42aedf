// ncbulk - NETCONF bulk operations
//
// Runs one NETCONF operation against every device of a list, concurrently,
// and reports the per-device outcome:
//
//	ncbulk read  [filter.xml] [devices.txt]   <get> with a subtree filter
//	ncbulk xpath <expr>       [devices.txt]   <get> with an XPath filter
//	ncbulk write [config.xml] [devices.txt]   <edit-config> to running
//
// Read results are written per device to <output>/out_read_<device>.xml;
// write results are collected in <output>/config_report.html.
//
// Credentials come from NCBO_USER and NCBO_PASSWORD. When the password is
// not set and stdin is a terminal, it is prompted for.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newtron-network/ncbulk/pkg/config"
	"github.com/newtron-network/ncbulk/pkg/settings"
	"github.com/newtron-network/ncbulk/pkg/util"
	"github.com/newtron-network/ncbulk/pkg/version"
)

var (
	// Global option flags
	configFile     string
	outputDir      string
	workers        int
	taskTimeout    string
	connectTimeout string
	port           int
	openRate       float64
	knownHosts     string
	redisAddr      string
	verbose        bool
	logJSON        bool

	// Global state
	userSettings *settings.Settings
	runConfig    *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "ncbulk",
	Short:             "NETCONF bulk operations",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `ncbulk runs one NETCONF operation against many devices at once and
reports the outcome of every device.

  ncbulk read  [filter.xml] [devices.txt]
  ncbulk xpath <expression> [devices.txt]
  ncbulk write [config.xml] [devices.txt]`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if isMetaCommand(cmd) {
			return nil
		}

		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}

		cfg, err := config.Resolve(configFile, userSettings)
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		runConfig = cfg

		return setupLogging(cfg)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Run configuration file (YAML)")
	pf.StringVarP(&outputDir, "output", "o", "", "Output directory (default \"output\")")
	pf.IntVarP(&workers, "workers", "w", 0, "Maximum concurrent sessions (0 = one per device)")
	pf.StringVar(&taskTimeout, "timeout", "", "Per-device time limit, e.g. 60s")
	pf.StringVar(&connectTimeout, "connect-timeout", "", "Connect, SSH handshake and hello time limit, e.g. 30s")
	pf.IntVarP(&port, "port", "p", 0, "NETCONF port (default 830)")
	pf.Float64Var(&openRate, "open-rate", 0, "Maximum session opens per second (0 = unlimited)")
	pf.StringVar(&knownHosts, "known-hosts", "", "Verify host keys against this known_hosts file")
	pf.StringVar(&redisAddr, "redis", "", "Publish results to Redis at host:port")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	pf.BoolVar(&logJSON, "log-json", false, "Log in JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "batch", Title: "Batch Operations:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)
	for _, cmd := range []*cobra.Command{readCmd, xpathCmd, writeCmd} {
		cmd.GroupID = "batch"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{historyCmd, auditCmd, settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

// isMetaCommand reports whether cmd needs no run configuration.
func isMetaCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "settings", "version", "help", "completion":
			return true
		}
	}
	return false
}

// applyFlags overlays the flags given on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.OutputDir = outputDir
	}
	if flags.Changed("workers") {
		cfg.MaxInFlight = workers
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("open-rate") {
		cfg.OpenRate = openRate
	}
	if flags.Changed("known-hosts") {
		cfg.KnownHosts = knownHosts
	}
	if flags.Changed("redis") {
		cfg.Redis.Addr = redisAddr
	}
	if flags.Changed("timeout") {
		d, err := parseDuration("timeout", taskTimeout)
		if err != nil {
			return err
		}
		cfg.TaskTimeout = d
	}
	if flags.Changed("connect-timeout") {
		d, err := parseDuration("connect-timeout", connectTimeout)
		if err != nil {
			return err
		}
		cfg.Timeout = d
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if logJSON {
		cfg.Log.Format = "json"
	}
	return nil
}

// setupLogging is quiet by default: warnings and errors only.
func setupLogging(cfg *config.Config) error {
	level := cfg.Log.Level
	if level == "" {
		level = "warn"
	}
	if err := util.SetLogLevel(level); err != nil {
		return fmt.Errorf("%w: log level: %v", util.ErrInvalidConfig, err)
	}
	if cfg.Log.Format == "json" {
		util.SetJSONFormat()
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Printf("ncbulk dev build (%s)\n", version.Info())
		} else {
			fmt.Printf("ncbulk %s\n", version.Info())
		}
	},
}
