// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/vrctl/pkg/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int
	noLock   bool

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	configPath   string
	replyTimeout time.Duration
	verbosity    int
	quiet        bool
	tracePath    string
	listNames    bool
)

var rootCmd = &cobra.Command{
	Use:   "vrctl [flags] <node> <command> [<arg>] [<node> <command> [<arg>] ...]",
	Short: "Z-Wave VRC0P utility",
	Long: `vrctl - control Z-Wave devices through a VRC0P serial interface.

<node> is one of:
  a decimal node number: 3
  all, for every node (on, off, level and scene only)
  g<n>, where <n> is a previously stored group number: g7 or G7
  an alias or group name from $HOME/.vrctl.yaml

<command> is one of (case-insensitive):
  on                  turn the device on
  off                 turn the device off
  bounce              turn the device off, then on again
  toggle              invert the device's on/off state
  level <n>           set brightness level (0-255)
  status              display the current on/off/dimmer status
  lock                lock (door locks only)
  unlock              unlock (door locks only)
  scene <n>           activate a previously stored scene
  temp                read a thermostat or sensor temperature
  mode                read a thermostat's operating mode

Connection modes:
  Serial:    --port /dev/vrc0p [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the VRCTL_PASSWORD
environment variable, or prompted interactively if not set.`,
	Example: `  vrctl 3 on
  vrctl all off
  vrctl porch level 128 kitchen toggle
  vrctl -v 5 status`,
	Version:           "1.0.0",
	Args:              cobra.ArbitraryArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runBatch,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "x", "", "Serial port device (default "+config.DefaultPort+")")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate of the command interface (default 9600)")
	rootCmd.PersistentFlags().BoolVar(&noLock, "no-lock", false, "Do not take the UUCP lock on the serial port")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $HOME/"+config.FileName+")")
	rootCmd.PersistentFlags().DurationVar(&replyTimeout, "timeout", 0, "Reply timeout (default 500ms)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Add v's to increase verbosity")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only display errors")
	rootCmd.PersistentFlags().StringVar(&tracePath, "trace", "", "Record all serial traffic to a CBOR file")

	rootCmd.Flags().BoolVarP(&listNames, "list", "l", false, "List configured node aliases and groups")
}

// app carries what every command needs. It lives in the command's context
// instead of package globals.
type app struct {
	log zerolog.Logger
	cfg *config.Config
}

type appKey struct{}

func appFrom(cmd *cobra.Command) *app {
	a, _ := cmd.Context().Value(appKey{}).(*app)
	return a
}

func setup(cmd *cobra.Command, args []string) error {
	log := newLogger()

	path, required := configPath, true
	if path == "" {
		path, required = config.DefaultPath(), false
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = portName
	}
	if flags.Changed("url") {
		cfg.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Username = wsUsername
	}
	if flags.Changed("baud") {
		cfg.Baud = baudRate
	}
	if flags.Changed("timeout") {
		cfg.Timeout = replyTimeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Debug().Str("config", path).Str("port", cfg.Port).Str("url", cfg.URL).Msg("settings loaded")
	cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{log: log, cfg: cfg}))
	return nil
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case quiet:
		level = zerolog.ErrorLevel
	case verbosity == 1:
		level = zerolog.DebugLevel
	case verbosity > 1:
		level = zerolog.TraceLevel
	}

	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// errCommandsFailed reports a batch in which at least one command failed
// without aborting the rest.
var errCommandsFailed = errors.New("one or more commands failed")

// Execute runs the root command. SIGINT and SIGTERM cancel the context so
// deferred cleanup such as releasing the port lock still runs.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
