package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tinkerbelle-io/tb-remediate/internal/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the local outcome journal",
}

var journalVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify the hash chain of an outcome journal",
	Long:  `Re-walk the journal's SHA-256 chain. Defaults to journal.path from config.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJournalVerify,
}

func init() {
	journalCmd.AddCommand(journalVerifyCmd)
	rootCmd.AddCommand(journalCmd)
}

func runJournalVerify(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path = cfg.Journal.Path
	}
	if path == "" {
		return fmt.Errorf("no journal path given and journal.path is not configured")
	}

	n, err := journal.Verify(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries, chain intact\n", path, n)
	return nil
}
