package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipxfer/internal/owner"
	"go.klb.dev/clipxfer/internal/resolve"
)

func newWatchCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a line whenever the formats on a medium change",
		Long: `Registers a flavor listener and prints the native formats, and the
flavors they can be read as, each time the set changes. Runs until
interrupted.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runWatch(v) },
	}

	cmd.Flags().Bool("flavors", false, "also print the flavors each change yields")
	addMediumFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runWatch(v *viper.Viper) error {
	setupToolLogging(v)

	cb, e, closeMedium, err := newClipboard(v)
	if err != nil {
		return err
	}
	defer closeMedium()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener := owner.NewContext(ctx)
	defer listener.Dispose()

	showFlavors := v.GetBool("flavors")
	id := cb.AddFlavorListener(listener, func(ev owner.FlavorEvent) {
		names := make([]string, len(ev.Formats))
		for i, n := range ev.Formats {
			names[i] = e.reg.Describe(n)
		}
		fmt.Printf("%s\t%s\n", time.Now().Format("15:04:05"), strings.Join(names, " "))
		if showFlavors {
			for _, f := range resolve.FlavorsForFormatsAsSlice(ev.Formats, e.table, e.reg) {
				fmt.Printf("\t%s\n", f)
			}
		}
	})
	defer cb.RemoveFlavorListener(id)

	fmt.Fprintf(os.Stderr, "watching %s\n", cb.Name())
	if err := cb.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
