package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"voxelpipes.ai/internal/persistence/indexdb"
)

var (
	inspectDB    string // Path to the sqlite index
	inspectWorld string // Restrict the rescan count to one world
)

// inspectCmd prints what the index recorded
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print transfer totals from the sqlite index",
	Run: func(cmd *cobra.Command, args []string) {
		if inspectDB == "" {
			inspectDB = indexPath(dataDir)
		}
		if _, err := os.Stat(inspectDB); err != nil {
			logrus.Fatalf("index not found: %v", err)
		}
		idx, err := indexdb.OpenSQLite(inspectDB)
		if err != nil {
			logrus.Fatalf("open index: %v", err)
		}
		defer idx.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		totals, err := idx.TransferTotals(ctx)
		if err != nil {
			logrus.Fatalf("transfer totals: %v", err)
		}
		rescans, err := idx.RescanCount(ctx, inspectWorld)
		if err != nil {
			logrus.Fatalf("rescan count: %v", err)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "WORLD\tITEM\tCOUNT\tTRANSFERS\tLAST_TICK")
		for _, t := range totals {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", t.WorldID, t.Item, t.Count, t.Transfers, t.LastTick)
		}
		_ = tw.Flush()
		fmt.Fprintf(cmd.OutOrStdout(), "rescans: %d\n", rescans)
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDB, "db", "", "Path to the sqlite index (default <data>/index/pipes.sqlite)")
	inspectCmd.Flags().StringVar(&inspectWorld, "world", "", "Only count rescans of this world")
	inspectCmd.Flags().StringVar(&dataDir, "data", "./data", "Runtime data directory")
}
