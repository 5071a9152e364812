package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completeCmd = &cobra.Command{
	Use:   "complete <type> <property> <prefix>",
	Short: "List completions for a type/property/prefix",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		labels, err := engine.Completions(rootCtx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if len(labels) == 0 {
			fmt.Println("(none)")
			return nil
		}
		for _, label := range labels {
			fmt.Println(label)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completeCmd)
}
