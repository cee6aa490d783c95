package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/colorbot/storage"
)

var (
	historyLimit int
	historyGuild string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent color role deletion runs",
	Long: `Show purges and unused role sweeps recorded in the run journal,
newest first.`,
	Example: `  colorbot history                 # Last 20 runs
  colorbot history --limit 100     # Last 100 runs
  colorbot history --guild 1234    # Runs for one server`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to show")
	historyCmd.Flags().StringVar(&historyGuild, "guild", "", "Only show runs for this guild id")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	journal, err := storage.OpenRunJournal(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open run journal: %w", err)
	}
	defer func() { _ = journal.Close() }()

	var records []storage.RunRecord
	if historyGuild != "" {
		records, err = journal.ForGuild(historyGuild, historyLimit)
	} else {
		records, err = journal.Recent(historyLimit)
	}
	if err != nil {
		return fmt.Errorf("failed to read run history: %w", err)
	}

	return printHistory(cmd.OutOrStdout(), records)
}

func printHistory(out io.Writer, records []storage.RunRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "No runs recorded.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tRUN\tGUILD\tKIND\tOUTCOME\tDELETED\tDURATION")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			r.StartedAt.UTC().Format(time.RFC3339),
			r.ID,
			r.GuildID,
			r.Kind,
			r.Outcome,
			r.Succeeded,
			r.Total,
			r.Duration().Round(time.Millisecond),
		)
	}
	return w.Flush()
}
