package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/corvid/vertexdb/examples/budget"
)

var saveCmd = &cobra.Command{
	Use:   "save <label> <budgeted>",
	Short: "Save a BudgetItem",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("parse budgeted amount: %w", err)
		}
		item := budget.NewBudgetItem(args[0], amount)
		if err := engine.Save(rootCtx, item); err != nil {
			return err
		}
		fmt.Printf("saved BudgetItem #%d %q budgeted=%.2f\n", item.ID(), item.Label, item.Budgeted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(saveCmd)
}
