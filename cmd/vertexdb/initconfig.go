package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corvid/vertexdb/internal/config"
)

var initConfigCmd = &cobra.Command{
	Use:   "init-config <path>",
	Short: "Write a starter config.yaml with the engine's default settings",
	Args:  cobra.ExactArgs(1),
	// Replaces the root command's PersistentPreRunE, which would open a
	// database that init-config doesn't need.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(args[0]); err != nil {
			return err
		}
		fmt.Println("wrote", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initConfigCmd)
}
