package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipxfer/internal/ipc"
	"go.klb.dev/clipxfer/internal/logging"
	"go.klb.dev/clipxfer/internal/message"
	"go.klb.dev/clipxfer/internal/medium/redismedium"
)

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CLIPXFER_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → CLIPXFER_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("clipxfer")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/clipxfer/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(fmt.Sprintf("%s/.config/clipxfer", home))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("CLIPXFER")
	v.SetEnvKeyReplacer(envKeys)
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addDaemonFlags adds the flags needed to reach or run the daemon.
func addDaemonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("socket", ipc.SocketPath(), "daemon socket path")
	f.String("token", "", "shared secret (empty = no auth, no encryption)")
	f.String("source", defaultSource(), "name for this host in daemon status")
	f.String("remote", "", "reach a daemon started with serve --listen at host:port (TLS keyed by --token)")
}

// addMediumFlags adds the flags that select and configure the medium a
// command reads or writes.
func addMediumFlags(cmd *cobra.Command) {
	addDaemonFlags(cmd)
	f := cmd.Flags()
	f.String("medium", "auto", "transfer medium: auto|system|ipc|grpc|redis")
	f.String("clipboard", message.DefaultClipboard, "daemon clipboard namespace")
	f.String("redis-addr", "localhost:6379", "redis address for --medium redis")
	f.String("redis-prefix", redismedium.DefaultPrefix, "redis key prefix")
	f.String("flavormap", "", "flavor table TOML file (default: built-in table)")
	f.Duration("timeout", 5*time.Second, "how long to wait for the medium lock")
	f.StringSlice("allow-root", nil, "only accept pasted files under these directories")
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"))
}

// setupToolLogging configures slog for one-shot commands, which stay quiet
// below warnings unless asked.
func setupToolLogging(v *viper.Viper) {
	level := v.GetString("log-level")
	if level == "" {
		level = "warn"
	}
	resolveLogging(false, v.GetString("log-format"), level)
}
