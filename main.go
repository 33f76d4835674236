// main.go is the opuspipe entry point. One binary carries the MCP server
// that admits and dispatches tasks, the queue worker that runs them, and the
// maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "opuspipe:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "opuspipe",
		Short:         "Compose code diffs and requirements into LLM pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./opuspipe.yaml)")

	open := func() (*app, error) { return openApp(cfgFile) }
	root.AddCommand(
		newServeCmd(open),
		newWorkerCmd(open),
		newMigrateCmd(open),
		newTemplatesCmd(open),
		newKBCmd(open),
	)
	return root
}
