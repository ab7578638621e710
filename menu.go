package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

var stdin = bufio.NewScanner(os.Stdin)

func runMenu(ctx context.Context, a *app) error {
	for {
		displayMenu(a)
		switch readString() {
		case "1":
			handleFileImport(ctx, a)
		case "2":
			handleSheetImport(ctx, a)
		case "3":
			if err := showReport(ctx, a); err != nil {
				color.Red("Error loading report: %v", err)
			}
		case "4":
			n, err := a.newImporter().RevalidateAll(ctx)
			if err != nil {
				color.Red("Error revalidating: %v", err)
				continue
			}
			color.Green("Revalidated %d problems", n)
		case "5", "q":
			color.Green("Bye!")
			return nil
		default:
			color.Red("Invalid choice. Please try again.")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func displayMenu(a *app) {
	color.Cyan("\n=== Exam Problem Data Manager ===")
	fmt.Println("1. Import CSV/XLSX file")
	fmt.Println("2. Import Google spreadsheet")
	fmt.Println("3. Progress report")
	fmt.Println("4. Revalidate all problems")
	fmt.Println("5. Exit")
	fmt.Printf("(report cache: %s)\n", a.cache.State())
	fmt.Print("Enter your choice: ")
}

func handleFileImport(ctx context.Context, a *app) {
	fmt.Print("Enter the file path: ")
	path := readString()
	if path == "" {
		return
	}
	dryRun = confirm("Dry run only?")

	tables, err := loadTables(ctx, a, []string{path})
	if err != nil {
		color.Red("Error opening file: %v", err)
		return
	}
	runImport(ctx, a, tables)
}

func handleSheetImport(ctx context.Context, a *app) {
	fmt.Print("Enter the spreadsheet ID: ")
	id := readString()
	if id == "" {
		return
	}
	fmt.Print("Tabs to import (comma separated, blank for all): ")
	var names []string
	for _, t := range strings.Split(readString(), ",") {
		if t = strings.TrimSpace(t); t != "" {
			names = append(names, t)
		}
	}
	dryRun = confirm("Dry run only?")

	sheetID, tabs = id, names
	defer func() { sheetID, tabs = "", nil }()
	tables, err := loadTables(ctx, a, nil)
	if err != nil {
		color.Red("Error reading spreadsheet: %v", err)
		return
	}
	runImport(ctx, a, tables)
}

func confirm(question string) bool {
	fmt.Printf("%s (y/n): ", question)
	return strings.ToLower(readString()) == "y"
}

func readString() string {
	if !stdin.Scan() {
		return "q"
	}
	return strings.TrimSpace(stdin.Text())
}
