package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipxfer/internal/transfer"
)

func newFormatsCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List the native formats on a medium and the flavors they yield",
		Long: `Snapshots the medium and prints every native format it carries, followed
by each flavor the contents can be read as and the native it would be
decoded from.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runFormats(v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addMediumFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

type flavorRow struct {
	Flavor string `json:"flavor"`
	Native string `json:"native"`
}

func runFormats(v *viper.Viper) error {
	setupToolLogging(v)

	e, err := newEnv(v)
	if err != nil {
		return err
	}
	m, desc, closeMedium, err := openMedium(v)
	if err != nil {
		return err
	}
	defer closeMedium()

	ctx, cancel := timeoutContext(v)
	defer cancel()
	snap, err := transfer.Snapshot(ctx, m, "formats", e.deps())
	if err != nil {
		return err
	}

	var rows []flavorRow
	for _, f := range snap.Flavors() {
		n, _ := snap.FormatOf(f)
		rows = append(rows, flavorRow{Flavor: f.String(), Native: e.reg.Describe(n)})
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(struct {
			Medium  string      `json:"medium"`
			Natives []string    `json:"natives"`
			Flavors []flavorRow `json:"flavors"`
		}{desc, snap.Natives(), rows}, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Medium:\t%s\n", desc)
	if len(snap.Natives()) == 0 {
		fmt.Fprintln(w, "Medium is empty.")
		return w.Flush()
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "NATIVE\n------\n")
	for _, name := range snap.Natives() {
		fmt.Fprintln(w, name)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "FLAVOR\tFROM\n------\t----\n")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\n", r.Flavor, r.Native)
	}
	return w.Flush()
}
