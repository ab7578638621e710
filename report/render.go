package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/store"
)

// WriteSubjects renders the per-subject progress table.
func WriteSubjects(w io.Writer, subjects []store.SubjectSummary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Subject", "Problems", "Problem Posted", "Solution Posted", "Open Errors", "Open Warnings"})

	var total store.SubjectSummary
	for _, s := range subjects {
		table.Append([]string{
			s.Subject,
			fmt.Sprintf("%d", s.Total),
			posted(s.ProblemPosted, s.Total),
			posted(s.SolutionPosted, s.Total),
			fmt.Sprintf("%d", s.OpenErrors),
			fmt.Sprintf("%d", s.OpenWarnings),
		})
		total.Total += s.Total
		total.ProblemPosted += s.ProblemPosted
		total.SolutionPosted += s.SolutionPosted
		total.OpenErrors += s.OpenErrors
		total.OpenWarnings += s.OpenWarnings
	}
	table.SetFooter([]string{
		"Total",
		fmt.Sprintf("%d", total.Total),
		posted(total.ProblemPosted, total.Total),
		posted(total.SolutionPosted, total.Total),
		fmt.Sprintf("%d", total.OpenErrors),
		fmt.Sprintf("%d", total.OpenWarnings),
	})
	table.Render()
}

// WriteIssues renders unresolved issue counts by rule.
func WriteIssues(w io.Writer, issues []store.IssueCount) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Rule", "Severity", "Open"})
	for _, is := range issues {
		table.Append([]string{is.Code, string(is.Severity), fmt.Sprintf("%d", is.Count)})
	}
	table.Render()
}

func posted(n, total int) string {
	if total == 0 {
		return "0"
	}
	return fmt.Sprintf("%d (%.1f%%)", n, float64(n)*100/float64(total))
}
