package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/importer"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/report"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/source"
)

var (
	sheetID string
	tabs    []string
)

var importCmd = &cobra.Command{
	Use:   "import [file...]",
	Short: "Import problems from CSV/XLSX files or a Google spreadsheet",
	Long: `Reads every sheet of the given files (or of the spreadsheet named by
--sheet), normalizes the rows and reconciles them with the stored problems.

Rows with a blank subject take the sheet name, mapped through
subject_aliases in the import config.

Example:
  exam-data import math-2024.xlsx
  exam-data import --sheet 1AbC... --tab Math --tab Physics --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && sheetID == "" {
			return fmt.Errorf("give at least one file or --sheet")
		}
		tables, err := loadTables(cmd.Context(), current, args)
		if err != nil {
			return err
		}
		runImport(cmd.Context(), current, tables)
		return nil
	},
}

var revalidateCmd = &cobra.Command{
	Use:   "revalidate",
	Short: "Re-run the validation rules over every stored problem",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := current.newImporter().RevalidateAll(cmd.Context())
		if err != nil {
			return err
		}
		color.Green("Revalidated %d problems", n)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show per-subject progress and open validation issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showReport(cmd.Context(), current)
	},
}

func init() {
	importCmd.Flags().StringVar(&sheetID, "sheet", "", "Google spreadsheet ID to import")
	importCmd.Flags().StringSliceVar(&tabs, "tab", nil, "spreadsheet tab to import (repeatable, default all)")
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify rows without writing")
}

// loadTables reads every source before anything is written, so an
// unreadable source fails the whole import.
func loadTables(ctx context.Context, a *app, files []string) ([]source.Table, error) {
	skip := source.SkipNames(a.cfg.Rules.SkipSheets)
	var tables []source.Table
	for _, path := range files {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			t, err := source.OpenCSV(path)
			if err != nil {
				return nil, err
			}
			tables = append(tables, t)
		case ".xlsx", ".xlsm":
			ts, err := source.OpenXLSX(path, skip)
			if err != nil {
				return nil, err
			}
			tables = append(tables, ts...)
		default:
			return nil, fmt.Errorf("unsupported file type: %s", path)
		}
	}
	if sheetID != "" {
		client, err := source.NewSheetsClient(ctx, a.cfg.GoogleCredentials)
		if err != nil {
			return nil, err
		}
		ts, err := client.Fetch(ctx, sheetID, tabs, skip)
		if err != nil {
			return nil, err
		}
		tables = append(tables, ts...)
	}
	return tables, nil
}

func runImport(ctx context.Context, a *app, tables []source.Table) importer.Outcome {
	rows := 0
	for _, t := range tables {
		rows += len(t.Rows)
	}
	color.Cyan("\nImporting %d rows from %d sheet(s)", rows, len(tables))
	if dryRun {
		color.Yellow("Dry run: nothing will be written")
	}

	out := a.newImporter().Run(ctx, tables, a.cfg.Rules.SubjectFor, func(p importer.Progress) {
		fmt.Printf("\rBatch %d/%d  processed %d/%d  ok %d  skipped %d  failed %d",
			p.BatchIndex, p.TotalBatches, p.Processed, p.Total, p.Success, p.Skipped, p.Failed)
	})
	fmt.Println()
	printSummary(out)
	return out
}

func printSummary(out importer.Outcome) {
	color.Cyan("\nImport Summary")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Total", "Created", "Updated", "Skipped", "Conflicts", "Failed"})
	table.Append([]string{
		fmt.Sprintf("%d", out.Total),
		fmt.Sprintf("%d", out.Created),
		fmt.Sprintf("%d", out.Updated),
		fmt.Sprintf("%d", out.Skipped),
		fmt.Sprintf("%d", out.Conflicts),
		fmt.Sprintf("%d", out.Failed),
	})
	table.Render()

	if len(out.Errors) == 0 {
		color.Green("Import completed successfully!")
		return
	}

	color.Red("\n%d error(s)", len(out.Errors)+out.DroppedErrors)
	errTable := tablewriter.NewWriter(os.Stdout)
	errTable.SetHeader([]string{"Kind", "Sheet", "Row", "Field", "Message"})
	errTable.SetAutoWrapText(false)
	for _, e := range out.Errors {
		errTable.Append([]string{string(e.Kind), e.Sheet, fmt.Sprintf("%d", e.Row), e.Field, e.Message})
	}
	errTable.Render()
	if out.DroppedErrors > 0 {
		color.Yellow("... and %d more", out.DroppedErrors)
	}
}

func showReport(ctx context.Context, a *app) error {
	snap, err := a.cache.Get(ctx)
	if err != nil {
		return err
	}
	color.Cyan("\nProgress by Subject")
	report.WriteSubjects(os.Stdout, snap.Subjects)
	color.Cyan("\nOpen Validation Issues")
	report.WriteIssues(os.Stdout, snap.Issues)
	fmt.Printf("Loaded %s\n", snap.LoadedAt.Format("2006-01-02 15:04:05"))
	return nil
}
