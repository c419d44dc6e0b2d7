// Package cmd holds the playground command line.
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "playground",
		Short:        "Agent playground: join a voice agent room and watch it work",
		Long:         "playground joins a real-time room with a voice agent, tracks the agent's state, audio bands and conversation, and serves them over HTTP and websocket.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "config file (default playground.{yaml,toml,json} in the working directory)")
	rootCmd.PersistentFlags().Bool("debug", false, "development logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newRunCmd(),
	)
	return rootCmd
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
