package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var cacheDirFlag string

	ctx := newCommandContext(&configFlag, &cacheDirFlag)

	rootCmd := &cobra.Command{
		Use:           "boxy-cache",
		Short:         "Inspect and manage the Boxy audio cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&cacheDirFlag, "cache-dir", "", "Override the audio cache directory")

	for _, cmd := range newCacheCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
