// Command vertexdb is a small demo CLI over the vertexdb engine: it saves
// budget items against a SQLite file, walks undo/redo, and lists saved records,
// mirroring the shape of an application embedding the library.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corvid/vertexdb"
	"github.com/corvid/vertexdb/examples/budget"
)

var (
	dbPath  string
	engine  *vertexdb.Engine
	rootCtx = context.Background()
)

var rootCmd = &cobra.Command{
	Use:   "vertexdb",
	Short: "Demo CLI over the vertexdb object-graph store",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		e, err := vertexdb.Open(rootCtx, dbPath)
		if err != nil {
			return fmt.Errorf("open %s: %w", dbPath, err)
		}
		budget.Factories(e)
		engine = e
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if engine != nil {
			return engine.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "vertexdb.sqlite", "path to the database file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vertexdb:", err)
		os.Exit(1)
	}
}
