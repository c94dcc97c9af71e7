package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/webimg/internal/config"
	"github.com/nao1215/webimg/internal/database"
)

// defaultHistoryLimit is the number of runs listed without --limit.
const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded harvest runs",
		Long: `History lists the harvests recorded in the history database, newest
first. Given a run ID (or any unique prefix of one), it lists the images
stored by that run and the ones whose content an earlier run already stored.

Examples:
  # List the latest runs
  webimg history

  # Show the images of one run
  webimg history 3f2a9c1e

  # Output as JSON
  webimg history --json 3f2a9c1e`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "l", defaultHistoryLimit,
		"Maximum number of runs to list (0 lists all)")
	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format")
	cmd.Flags().String("db-dir", "",
		"History database directory (default: XDG data directory)")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	cfg := config.NewConfig()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if cmd.Flags().Changed("db-dir") {
		if cfg.DBDir, err = cmd.Flags().GetString("db-dir"); err != nil {
			return err
		}
	}

	// Reading history never creates a database.
	db, err := database.Open(cfg.DBDir, database.Options{CreateIfNotExists: false, EnableWAL: true})
	if err != nil {
		return fmt.Errorf("no harvest history found in %s: %w", cfg.DBDir, err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		return listRuns(ctx, out, db, limit, jsonOutput)
	}
	return showRun(ctx, out, db, args[0], jsonOutput)
}

// listRuns prints the latest runs.
func listRuns(ctx context.Context, out io.Writer, db *database.HistoryDB, limit int, jsonOutput bool) error {
	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(out, runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No harvest runs recorded yet")
		return nil
	}

	fmt.Fprintf(out, "Harvest runs (%d):\n\n", len(runs))
	fmt.Fprintf(out, "  %-8s  %-19s  %6s  %6s  %s\n", "ID", "Started", "Pages", "Images", "Seeds")
	for _, run := range runs {
		seeds := ""
		if len(run.Seeds) > 0 {
			seeds = run.Seeds[0]
			if len(run.Seeds) > 1 {
				seeds += fmt.Sprintf(" (+%d)", len(run.Seeds)-1)
			}
		}
		fmt.Fprintf(out, "  %-8s  %-19s  %6d  %6d  %s\n",
			shortRunID(run.ID),
			run.StartedAt.Local().Format(time.DateTime),
			run.PagesVisited,
			run.AssetCount,
			seeds,
		)
	}
	return nil
}

// runDetail is the JSON form of one run.
type runDetail struct {
	Run        *database.Run          `json:"run"`
	Assets     []database.AssetRecord `json:"assets"`
	Duplicates []database.Duplicate   `json:"duplicates,omitempty"`
}

// showRun prints the assets of the run matching idPrefix.
func showRun(ctx context.Context, out io.Writer, db *database.HistoryDB, idPrefix string, jsonOutput bool) error {
	run, err := db.GetRun(ctx, idPrefix)
	if err != nil {
		return err
	}
	assets, err := db.GetRunAssets(ctx, run.ID)
	if err != nil {
		return err
	}
	dups, err := db.FindDuplicates(ctx, run.ID)
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(out, runDetail{Run: run, Assets: assets, Duplicates: dups})
	}

	fmt.Fprintf(out, "Run %s\n", run.ID)
	fmt.Fprintf(out, "  Started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "  Duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "  Output:   %s\n", run.OutputDir)
	fmt.Fprintf(out, "  Pages:    %d visited, %d failed\n", run.PagesVisited, run.PagesFailed)
	if run.Truncated {
		fmt.Fprintln(out, "  Status:   stopped early")
	}
	for _, seed := range run.Seeds {
		fmt.Fprintf(out, "  Seed:     %s\n", seed)
	}

	fmt.Fprintf(out, "\nImages (%d):\n", len(assets))
	for _, a := range assets {
		fmt.Fprintf(out, "  %-10s  %-9s  %s\n", a.Strategy, a.Size, a.Filename)
		fmt.Fprintf(out, "              %s\n", a.AttributionURL)
	}

	if len(dups) > 0 {
		fmt.Fprintf(out, "\nAlready stored by earlier runs (%d):\n", len(dups))
		for _, d := range dups {
			fmt.Fprintf(out, "  %s = %s (run %s)\n", d.Filename, d.PreviousFilename, shortRunID(d.PreviousRunID))
		}
	}
	return nil
}

// writeJSON writes v as indented JSON.
func writeJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// shortRunID returns the first eight characters of a run ID.
func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
