// Command statsctl queries a stats socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyp3rd/statsock/internal/constants"
)

var (
	socketPath string
	timeoutArg = constants.DefaultTimeout
)

var rootCmd = &cobra.Command{
	Use:           "statsctl",
	Short:         "Query and reset counters served on a stats socket",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", constants.DefaultSocketPath, "Path of the stats socket")
	rootCmd.PersistentFlags().DurationVar(&timeoutArg, "timeout", constants.DefaultTimeout, "Per-request timeout")

	rootCmd.AddCommand(getCmd, resetCmd, pingCmd, rawCmd)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "statsctl:", err)
		os.Exit(1)
	}
}
