package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/SanjoDeundiak/sinit/pkg/lib/config"
	"github.com/SanjoDeundiak/sinit/pkg/lib/logging"
	"github.com/SanjoDeundiak/sinit/pkg/lib/reaper"
	"github.com/SanjoDeundiak/sinit/pkg/lib/runner"
	"github.com/SanjoDeundiak/sinit/pkg/lib/sigmask"
	"github.com/SanjoDeundiak/sinit/pkg/lib/supervisor"
)

type rootOptions struct {
	dev          bool
	rcInit       string
	rcShutdown   string
	workDir      string
	reapInterval time.Duration
	debug        bool
}

// lookupEnv is swapped in tests.
var lookupEnv = os.LookupEnv

func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	defaults := config.Defaults(false)

	root := &cobra.Command{
		Use:   "sinit",
		Short: "Minimal init: run rc.init, reap children, shut down on signal",
		Long: `sinit runs as PID 1. It starts the startup script once, reaps every
orphaned process, runs the shutdown script with "poweroff" on SIGUSR1 and with
"reboot" on SIGINT. All other signals are ignored.`,
		// The kernel hands unrecognised boot parameters to init.
		Args:               cobra.ArbitraryArgs,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		SilenceUsage:       true,
		SilenceErrors:      true,
		CompletionOptions:  cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logging.Setup(cmd.OutOrStdout(), cfg.Debug)

			r, err := runner.NewRunner(cfg.WorkDir)
			if err != nil {
				return err
			}
			sup := supervisor.New(cfg, sigmask.NewController(supervisor.Consumed), r, reaper.New())
			return sup.Run(cmd.Context())
		},
	}

	flags := root.Flags()
	flags.BoolVar(&opts.dev, "dev", false, "use the scripts in "+config.DevScriptDir+"/ and enable debug output")
	flags.StringVar(&opts.rcInit, "rc-init", defaults.RCInit, "startup script ($"+config.EnvRCInit+")")
	flags.StringVar(&opts.rcShutdown, "rc-shutdown", defaults.RCShutdown, "shutdown script, called with poweroff or reboot ($"+config.EnvRCShutdown+")")
	flags.StringVar(&opts.workDir, "workdir", defaults.WorkDir, "working directory of spawned scripts ($"+config.EnvWorkDir+")")
	flags.DurationVar(&opts.reapInterval, "reap-interval", defaults.ReapInterval, "reap children at this interval even without SIGCHLD; with 0, a SIGCHLD dropped from a full signal queue leaves zombies until the next one ($"+config.EnvReapInterval+")")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug output ($"+config.EnvDebug+")")

	return root
}

// loadConfig layers explicitly set flags over the environment and defaults.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	flags := cmd.Flags()

	return config.Load(opts.dev, lookupEnv, func(settings *config.Settings) {
		if flags.Changed("rc-init") {
			settings.RCInit = opts.rcInit
		}
		if flags.Changed("rc-shutdown") {
			settings.RCShutdown = opts.rcShutdown
		}
		if flags.Changed("workdir") {
			settings.WorkDir = opts.workDir
		}
		if flags.Changed("reap-interval") {
			settings.ReapInterval = opts.reapInterval
		}
		if flags.Changed("debug") {
			settings.Debug = opts.debug
		}
	})
}
