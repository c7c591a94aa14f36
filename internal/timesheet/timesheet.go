// Package timesheet formats a day's job activity into the plain-text layout
// the payroll export expects.
package timesheet

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"fieldline/api/internal/store"
)

// Format renders the entries for the day starting at dayStart. Entries are
// expected in first-activity order, which is how the store returns them.
func Format(dayStart time.Time, entries []store.TimesheetEntry) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Timesheet %s\n\n", dayStart.Format("2006-01-02"))

	if len(entries) == 0 {
		buf.WriteString("No job activity recorded.\n")
		return buf.String()
	}

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tFIRST\tLAST\tSPAN\tTOUCHES")
	var total time.Duration
	for _, entry := range entries {
		span := entry.LastActivity.Sub(entry.FirstActivity)
		total += span
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			entry.JobName,
			entry.FirstActivity.Format("15:04"),
			entry.LastActivity.Format("15:04"),
			formatSpan(span),
			entry.Touches,
		)
	}
	_ = w.Flush()

	fmt.Fprintf(&buf, "\nTotal span: %s across %d jobs\n", formatSpan(total), len(entries))
	return buf.String()
}

func formatSpan(d time.Duration) string {
	d = d.Round(time.Minute)
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	return fmt.Sprintf("%dh%02dm", hours, minutes)
}
