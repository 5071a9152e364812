package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Undo the current transaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		span, err := engine.Undo(rootCtx)
		if err != nil {
			return err
		}
		if span == nil {
			fmt.Println("nothing to undo")
			return nil
		}
		fmt.Printf("undid transaction #%d (%s, ops %d..%d)\n", span.TransactionID, span.OpType, span.UndoOperationStart, span.UndoOperationEnd)
		return nil
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo",
	Short: "Redo the next transaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		span, err := engine.Redo(rootCtx)
		if err != nil {
			return err
		}
		if span == nil {
			fmt.Println("nothing to redo")
			return nil
		}
		fmt.Printf("redid transaction #%d (%s, ops %d..%d)\n", span.TransactionID, span.OpType, span.UndoOperationStart, span.UndoOperationEnd)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(redoCmd)
}
