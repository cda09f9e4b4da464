package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackd/trackd/internal/store"
)

var (
	reportFormat string
	exportType   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON, CSV, or Markdown",
	Long:  "Export issues, users, or labels in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun()
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate reports",
	Long:  "Generate aggregate reports over the issue database.",
}

var reportAssigneesCmd = &cobra.Command{
	Use:   "top-assignees",
	Short: "Issue counts per assignee, most-loaded first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportAssigneesRun()
	},
}

var reportLatencyCmd = &cobra.Command{
	Use:   "latency",
	Short: "Average time from creation to resolution",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportLatencyRun()
	},
}

func init() {
	exportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "issues", "Data type: issues, users, labels")
	rootCmd.AddCommand(exportCmd)

	reportCmd.AddCommand(reportAssigneesCmd)
	reportCmd.AddCommand(reportLatencyCmd)
	rootCmd.AddCommand(reportCmd)
}

func reportAssigneesRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	counts, err := s.TopAssignees(ctx)
	if err != nil {
		return err
	}

	if len(counts) == 0 {
		ui.Info("No assigned issues.")
		return nil
	}

	table := ui.Table([]string{"Assignee", "Issues"})
	for _, c := range counts {
		_ = table.Append([]string{c.AssigneeName, fmt.Sprintf("%d", c.TotalIssues)})
	}
	_ = table.Render()
	return nil
}

func reportLatencyRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	avg, err := s.AvgResolutionTime(ctx)
	if err != nil {
		return err
	}

	if avg == nil {
		ui.Info("No resolved issues yet.")
		return nil
	}

	fmt.Fprintf(ui.Out, "Average resolution time: %s\n", avg.Round(time.Second))
	return nil
}

func exportRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch exportType {
	case "issues":
		return exportIssues(ctx, s)
	case "users":
		return exportUsers(ctx, s)
	case "labels":
		return exportLabels(ctx, s)
	default:
		return fmt.Errorf("unknown export type: %s (use: issues, users, labels)", exportType)
	}
}

func exportIssues(ctx context.Context, s store.Store) error {
	issues, err := s.ListIssues(ctx, store.IssueListFilter{})
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(issues)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"ID", "Title", "Status", "AssigneeID", "Version", "Labels", "Created"})
		for _, i := range issues {
			w.Write([]string{i.ID, i.Title, string(i.Status), i.AssigneeID,
				fmt.Sprintf("%d", i.Version), strings.Join(i.Labels, ";"), i.CreatedAt.Format("2006-01-02")})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Issues")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Title | Status | Assignee | Version |")
		fmt.Fprintln(ui.Out, "|-------|--------|----------|---------|")
		for _, i := range issues {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %d |\n", i.Title, i.Status, shortID(i.AssigneeID), i.Version)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func exportUsers(ctx context.Context, s store.Store) error {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"ID", "Name", "Email", "Created"})
		for _, u := range users {
			w.Write([]string{u.ID, u.Name, u.Email, u.CreatedAt.Format("2006-01-02")})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Users")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Name | Email |")
		fmt.Fprintln(ui.Out, "|------|-------|")
		for _, u := range users {
			fmt.Fprintf(ui.Out, "| %s | %s |\n", u.Name, u.Email)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func exportLabels(ctx context.Context, s store.Store) error {
	labels, err := s.ListLabels(ctx)
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(labels)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"ID", "Name", "Created"})
		for _, l := range labels {
			w.Write([]string{l.ID, l.Name, l.CreatedAt.Format("2006-01-02")})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Labels")
		fmt.Fprintln(ui.Out)
		for _, l := range labels {
			fmt.Fprintf(ui.Out, "- %s\n", l.Name)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}
