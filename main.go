package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"Toyol/pkg/plugin"
	"Toyol/pkg/settings"
	"Toyol/pkg/types"

	"github.com/urfave/cli/v2"
)

// Version is set at build time
var Version = "dev"

var globalFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable debug logging",
		EnvVars: []string{"TOYOL_VERBOSE"},
	},
	&cli.StringFlag{
		Name:    "log-dir",
		Usage:   "Also write rotated JSON logs to this directory",
		EnvVars: []string{"TOYOL_LOG_DIR"},
	},
	&cli.StringFlag{
		Name:    "adb",
		Usage:   "Path to the adb binary (default: search PATH)",
		EnvVars: []string{"TOYOL_ADB", "ADB_PATH"},
	},
}

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Filter configuration file (YAML or JSON)",
	EnvVars: []string{"TOYOL_CONFIG"},
}

var pluginFlag = &cli.StringSliceFlag{
	Name:    "filter",
	Aliases: []string{"plugin"},
	Usage:   "JavaScript job filter to load (repeatable)",
	EnvVars: []string{"TOYOL_FILTERS"},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Drive the driver app on a connected device",
	Flags: []cli.Flag{
		configFlag,
		pluginFlag,
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"s"},
			Usage:   "Device serial (default: the first online device)",
			EnvVars: []string{"TOYOL_DEVICE", "ANDROID_SERIAL"},
		},
		&cli.StringFlag{
			Name:    "journal",
			Usage:   "SQLite journal of sessions and actions",
			EnvVars: []string{"TOYOL_JOURNAL"},
		},
		&cli.BoolFlag{
			Name:    "enable",
			Usage:   "Start with the service enabled",
			EnvVars: []string{"TOYOL_ENABLE"},
		},
		&cli.BoolFlag{
			Name:    "mcp",
			Usage:   "Serve the MCP control tools on stdio",
			EnvVars: []string{"TOYOL_MCP"},
		},
		&cli.DurationFlag{
			Name:    "poll",
			Usage:   "Hierarchy poll interval",
			Value:   defaultPollInterval,
			EnvVars: []string{"TOYOL_POLL"},
		},
	},
	Action: runAction,
}

var matchCommand = &cli.Command{
	Name:      "match",
	Usage:     "Check job texts against the configuration without a device",
	ArgsUsage: "TEXT...",
	Flags:     []cli.Flag{configFlag, pluginFlag},
	Action:    matchAction,
}

var devicesCommand = &cli.Command{
	Name:   "devices",
	Usage:  "List connected devices",
	Action: devicesAction,
}

func main() {
	app := &cli.App{
		Name:    "toyol",
		Usage:   "Accept matching ride offers in the driver app over adb",
		Version: Version,
		Description: `Toyol watches the driver app's UI hierarchy through adb and clicks
offers that match the configured categories, hours, prices and airport trips.

Examples:
  toyol devices
  toyol run --config toyol.yaml --enable
  toyol run --config toyol.yaml --journal ~/.toyol/journal.db --mcp
  toyol match --config toyol.yaml "JustGrab" "2:15 PM" "RM25.00"`,
		Flags:  globalFlags,
		Before: setupLogging,
		After: func(c *cli.Context) error {
			CloseLogger()
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			matchCommand,
			devicesCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(c *cli.Context) error {
	config := DefaultLogConfig()
	if dir := c.String("log-dir"); dir != "" {
		config = PersistentLogConfig(dir)
	}
	if c.Bool("verbose") {
		config.Level = LogLevelDebug
	}
	return InitLogger(config)
}

func runAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			LogPanic("main", r, string(debug.Stack()))
			panic(r)
		}
	}()

	app, err := NewApp(ctx, AppConfig{
		Version:      Version,
		AdbPath:      c.String("adb"),
		Serial:       c.String("device"),
		ConfigPath:   c.String("config"),
		JournalPath:  c.String("journal"),
		PluginPaths:  c.StringSlice("filter"),
		PollInterval: c.Duration("poll"),
		StartEnabled: c.Bool("enable"),
		MCP:          c.Bool("mcp"),
	})
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func matchAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one line of job text is required")
	}
	cfg := types.DefaultConfiguration()
	if path := c.String("config"); path != "" {
		loaded, err := settings.LoadFile(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	plugins := plugin.NewManager(plugin.Config{Logger: ModuleLogger("plugin")})
	for _, path := range c.StringSlice("filter") {
		if _, err := plugins.LoadFile(path); err != nil {
			return fmt.Errorf("load filter %s: %w", path, err)
		}
	}

	text := strings.Join(c.Args().Slice(), "\n")
	res := evaluateText(c.Context, cfg, plugins, text)

	verdict := "REJECT"
	if res.Accepted {
		verdict = "ACCEPT"
	}
	fmt.Fprintf(c.App.Writer, "%s (%s)\n", verdict, res.Decision.Reason)
	if res.Decision.Category != "" {
		fmt.Fprintf(c.App.Writer, "  category: %s\n", res.Decision.Category)
	}
	for _, v := range res.Verdicts {
		status := "accept"
		if !v.Accepted {
			status = "reject"
		}
		if v.Error != "" {
			status += ": " + v.Error
		}
		fmt.Fprintf(c.App.Writer, "  filter %s: %s\n", v.PluginID, status)
	}
	return nil
}

func devicesAction(c *cli.Context) error {
	adbPath, err := ResolveAdbPath(c.String("adb"))
	if err != nil {
		return err
	}
	devices, err := ListDevices(c.Context, adbPath)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(c.App.Writer, "No devices connected")
		return nil
	}
	for _, d := range devices {
		line := fmt.Sprintf("%s\t%s", d.ID, d.State)
		if d.Model != "" {
			line += "\t" + d.Model
		}
		if d.Wireless {
			line += "\twireless"
		}
		fmt.Fprintln(c.App.Writer, line)
	}
	return nil
}
