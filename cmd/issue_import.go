package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var importEnrich bool

var issueImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import issues from a CSV file",
	Long: `Import issues from a CSV file.

The file must have a header row containing "title" and "description"
columns; a "status" column is optional. Rows that fail validation are
reported with their row number and the import continues.

With --enrich, rows with an empty description get one drafted by the
LLM from the title. Requires ANTHROPIC_API_KEY or anthropic.api_key.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueImportRun(args[0])
	},
}

func init() {
	issueImportCmd.Flags().BoolVar(&importEnrich, "enrich", false, "Draft empty descriptions with the LLM")
	issueCmd.AddCommand(issueImportCmd)
}

func issueImportRun(file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	svc, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would import issues from %s", file)
		return nil
	}

	result, err := svc.ImportCSV(ctx, f, importEnrich)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	ui.Success("Imported %d of %d rows", result.Created, result.Total)
	if len(result.Failed) > 0 {
		ui.Warning("%d rows failed:", len(result.Failed))
		table := ui.Table([]string{"Row", "Error"})
		for _, rf := range result.Failed {
			_ = table.Append([]string{fmt.Sprintf("%d", rf.Row), rf.Error})
		}
		_ = table.Render()
	}
	return nil
}
