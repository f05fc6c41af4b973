// clipxfer: clipboard data transfer between applications, hosts and formats.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go.klb.dev/clipxfer/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

// envKeys maps flag names to env var suffixes: --redis-addr → CLIPXFER_REDIS_ADDR.
var envKeys = strings.NewReplacer("-", "_")

func main() {
	root := &cobra.Command{
		Use:   "clipxfer",
		Short: "Clipboard data transfer and format translation",
		Long: `clipxfer moves typed data (text, file lists, images, objects) across
clipboard-like media, translating between application flavors and the native
formats each medium carries.

Media:
  system  the desktop clipboard (text and PNG images)
  ipc     a running "clipxfer serve" daemon on the local socket
  redis   a clipboard shared by every host using the same Redis server
  auto    ipc when a daemon is running, otherwise system

Config file search order (first found wins):
  /etc/clipxfer/clipxfer.toml
  $HOME/.config/clipxfer/clipxfer.toml
  path supplied via --config

All flags can be set via CLIPXFER_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newCopyCmd(),
		newPasteCmd(),
		newFormatsCmd(),
		newWatchCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("clipxfer %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
