// Command paysyncd serves the payment intent API and gateway webhooks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "paysyncd",
		Short:         "Payment intent lifecycle and subscription reconciliation daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env-file", ".env", "optional .env file to load")

	root.AddCommand(newServeCmd())
	root.AddCommand(newTokenCmd())
	return root
}
