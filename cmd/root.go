/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "loncachat",
	Short: "Terminal and Telegram client for the Lonca conversational backend",
	Long: `Loncachat talks to a conversational backend over its /message endpoint.

It can run an interactive terminal chat, send a single message and wait for
the answer, or bridge Telegram chats to the backend as a gateway.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
