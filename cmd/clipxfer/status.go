package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipxfer/internal/message"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's clients and clipboards",
		Long: `Asks the running daemon for its connected clients and the clipboards it
hosts, including who holds each clipboard's lock.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runStatus(v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	cmd.Flags().Bool("grpc", false, "ask the daemon's gRPC service instead of the wire protocol")
	addDaemonFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runStatus(v *viper.Viper) error {
	setupToolLogging(v)

	var (
		m    statusSource
		desc string
	)
	if v.GetBool("grpc") {
		gm, d, closeFn, err := grpcDaemon(v)
		if err != nil {
			return err
		}
		defer closeFn()
		m, desc = gm, d
	} else {
		im, d, err := daemonMedium(v)
		if err != nil {
			return err
		}
		m, desc = im, d
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := m.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	printStatus(resp, v.GetString("source"), desc)
	return nil
}

// statusSource is a daemon client that can report status.
type statusSource interface {
	Status(ctx context.Context) (*message.Message, error)
}

func printStatus(resp *message.Message, mySource, transport string) {
	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Transport:\t%s\n", transport)
	fmt.Fprintln(w)
	_ = w.Flush()

	if len(resp.Clipboards) > 0 {
		tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(tw, "CLIPBOARD\tHOLDER\tFORMATS\n")
		_, _ = fmt.Fprintf(tw, "---------\t------\t-------\n")
		for _, cb := range resp.Clipboards {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", cb.Name, orDash(cb.Holder), orDash(strings.Join(cb.Formats, ",")))
		}
		_ = tw.Flush()
		fmt.Println()
	}

	// The status request itself is one of the clients.
	if len(resp.Clients) <= 1 {
		fmt.Println("No other clients connected.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "\tID\tSOURCE\tCLIPBOARD\tSESSION\tWATCHING\tCONNECTED\tLAST SEEN\n")
	_, _ = fmt.Fprintf(tw, "\t--\t------\t---------\t-------\t--------\t---------\t---------\n")
	for _, c := range resp.Clients {
		marker := ""
		if c.Source == mySource {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			marker, c.ID, c.Source, c.Clipboard,
			yesNo(c.Session), yesNo(c.Watching),
			tsAge(c.ConnectedAt), tsAge(c.LastSeen),
		)
	}
	_ = tw.Flush()
}

func tsAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmtAge(t)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
