package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "groupfm",
	Short: "groupfm is a group music chart service.",
	Long:  `groupfm generates weekly listening charts and all-time records for groups of users, pulling play data from an external listening history provider.`,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
