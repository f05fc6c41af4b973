package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipxfer/internal/xferr"
)

func newPasteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "paste",
		Short: "Print a clipboard medium to stdout (like pbpaste)",
		Long: `Snapshots the medium, renders the flavor given by --as and writes it to
stdout. If the contents cannot be read as that flavor, nothing is printed
(exit 0) unless --strict is set. To retrieve an image:

  clipxfer paste --as image > screenshot.png`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runPaste(v) },
	}

	f := cmd.Flags()
	f.String("as", "text", "flavor to print: text|html|files|image or a flavor string")
	f.String("output-type", "image/png", "image encoding written for --as image")
	f.Bool("strict", false, "fail when the flavor is not available")
	addMediumFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runPaste(v *viper.Viper) error {
	setupToolLogging(v)

	f, err := parseFlavorArg(v.GetString("as"))
	if err != nil {
		return err
	}
	cb, e, closeMedium, err := newClipboard(v)
	if err != nil {
		return err
	}
	defer closeMedium()

	ctx, cancel := timeoutContext(v)
	defer cancel()
	value, err := cb.Data(ctx, nil, f)
	if errors.Is(err, xferr.ErrUnsupportedFlavor) && !v.GetBool("strict") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("paste %s: %w", f, err)
	}
	return e.writeValue(os.Stdout, value, v.GetString("output-type"))
}
