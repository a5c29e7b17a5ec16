package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "patientsync",
	Short: "Reconcile local patient records with the third-party registry",
	Long: `patientsync serves a unified view over the local patient store and the
third-party patient registry, and forwards the cached, rate-limited process
call to the registry.

Configuration is read from the environment (or a .env file).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
