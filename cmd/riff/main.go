package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "riff",
	Short: "Riff: sign-in session and user backend",
	Long: "Riff signs users in against an OpenID Connect provider, reconciles each identity " +
		"with exactly one user record, and serves the backend that stores those users " +
		"along with their activities, notifications and counters.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus RIFF_* environment)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
