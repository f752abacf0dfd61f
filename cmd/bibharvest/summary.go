package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/bibharvest/internal/app"
)

// renderSummary prints per-source record counts and the run totals.
func renderSummary(w io.Writer, report app.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("run " + report.RunID)
	t.AppendHeader(table.Row{"Source", "Method", "Records"})
	for _, s := range report.Summary.Sources {
		t.AppendRow(table.Row{s.Name, string(s.Method), s.Records})
	}
	t.AppendFooter(table.Row{"Total", "", report.Summary.Records})
	t.SetStyle(table.StyleRounded)
	t.Render()

	d := table.NewWriter()
	d.SetOutputMirror(w)
	d.AppendRows([]table.Row{
		{"Output", report.Output.Path},
		{"SHA-256", report.Output.SHA256},
		{"Network fetches", report.Fetches},
		{"Cache hits", report.CacheHits},
		{"Abstracts merged", report.Summary.Merge.Abstracts},
		{"Fields filled", report.Summary.Merge.Fields},
		{"Duration", report.Duration.Round(time.Millisecond).String()},
	})
	d.SetStyle(table.StyleRounded)
	d.Render()
}
