package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/hyp3rd/ewrap"
	"github.com/spf13/cobra"

	"github.com/hyp3rd/statsock/pkg/client"
	"github.com/hyp3rd/statsock/pkg/protocol"
)

var outputFormat string

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Print every counter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		counters, err := c.Get(cmd.Context())
		if err != nil {
			return err
		}

		return printCounters(cmd.OutOrStdout(), counters, outputFormat)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero every counter, keeping the keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		return c.Reset(cmd.Context())
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the socket answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		err = c.Ping(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "ok")

		return nil
	},
}

var rawCmd = &cobra.Command{
	Use:   "raw <mode>",
	Short: "Send a single mode byte and print the response document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args[0]) != 1 {
			return ewrap.Newf("mode must be a single byte, got %q", args[0])
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		resp, err := c.Do(cmd.Context(), protocol.Mode(args[0][0]))
		if err != nil {
			return err
		}

		return resp.Encode(cmd.OutOrStdout())
	},
}

func init() {
	getCmd.Flags().StringVar(&outputFormat, "format", "json", "Output format: json or text")
}

func newClient() (*client.Client, error) {
	return client.New(socketPath, client.WithTimeout(timeoutArg))
}

func printCounters(w io.Writer, counters map[string]int64, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		err := enc.Encode(counters)
		if err != nil {
			return ewrap.Wrap(err, "encode counters")
		}

		return nil
	case "text":
		keys := make([]string, 0, len(counters))
		for key := range counters {
			keys = append(keys, key)
		}

		slices.Sort(keys)

		for _, key := range keys {
			_, err := fmt.Fprintf(w, "%s=%d\n", key, counters[key])
			if err != nil {
				return ewrap.Wrap(err, "write counters")
			}
		}

		return nil
	default:
		return ewrap.Newf("unsupported format %q", format)
	}
}
