package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forcesim/forcesim-client/forcesim/client"
)

var listCmd = &cobra.Command{
	Use:       "list agents|subscribers",
	Short:     "Print the agents or subscribers registered on the instance",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"agents", "subscribers"},
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		c := newClient()
		ctx := context.Background()
		var (
			resp *client.Response
			err  error
		)
		switch args[0] {
		case "agents":
			resp, err = c.ListAgents(ctx)
		case "subscribers":
			resp, err = c.ListSubscribers(ctx)
		}
		if err != nil {
			logrus.Fatalf("Failed to list %s: %v", args[0], err)
		}
		if err := writeListing(cmd.OutOrStdout(), resp); err != nil {
			logrus.Fatalf("Failed to print listing: %v", err)
		}
	},
}

// writeListing prints the response data as indented JSON.
func writeListing(w io.Writer, resp *client.Response) error {
	if resp.Data == nil {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, resp.Data.Raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func init() {
	rootCmd.AddCommand(listCmd)
}
