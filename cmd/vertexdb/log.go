package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log <type>",
	Short: "List every saved vertex of a type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := engine.Retrieve(rootCtx, args[0])
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("(none)")
			return nil
		}
		for _, rec := range recs {
			blob, err := rec.MarshalScalars()
			if err != nil {
				return err
			}
			fmt.Printf("#%d %s\n", rec.ID(), blob)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logCmd)
}
