package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipxfer/internal/owner"
	"go.klb.dev/clipxfer/internal/transfer"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy stdin to a clipboard medium (like pbcopy)",
		Long: `Reads stdin, interprets it as the flavor given by --as and publishes it.
Every native format the flavor table maps that flavor to is rendered, so a
reader asking for a different flavor still finds something it can decode.

  echo hello | clipxfer copy
  clipxfer copy --as image --input-type image/jpeg < photo.jpg
  find . -name '*.go' | clipxfer copy --as files`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runCopy(v) },
	}

	f := cmd.Flags()
	f.String("as", "text", "flavor of stdin: text|html|files|image or a flavor string")
	f.String("input-type", "image/png", "image encoding of stdin for --as image")
	addMediumFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runCopy(v *viper.Viper) error {
	setupToolLogging(v)

	f, err := parseFlavorArg(v.GetString("as"))
	if err != nil {
		return err
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	cb, e, closeMedium, err := newClipboard(v)
	if err != nil {
		return err
	}
	defer closeMedium()

	value, err := e.valueFromInput(data, f, v.GetString("input-type"))
	if err != nil {
		return err
	}

	producer := owner.NewContext(context.Background())
	defer producer.Dispose()

	ctx, cancel := timeoutContext(v)
	defer cancel()
	if err := cb.SetContents(ctx, producer, transfer.NewValues().Add(f, value), nil); err != nil {
		return err
	}
	slog.Info("copied", "flavor", f.String(), "bytes", len(data), "medium", cb.Name())
	return nil
}
