package cmd

import (
	"groupfm/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the groupfm HTTP server",
	Long:  `Start the groupfm HTTP server together with the embedded background worker that runs chart generation and records calculation jobs.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
