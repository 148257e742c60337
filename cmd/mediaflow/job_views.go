package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediaflow/internal/jobs"
)

const timeLayout = "2006-01-02 15:04:05"

func buildJobListRows(views []jobs.View) [][]string {
	rows := make([][]string, 0, len(views))
	for _, view := range views {
		names := make([]string, 0, len(view.Stages))
		for _, stage := range view.Stages {
			names = append(names, stage.Name)
		}
		rows = append(rows, []string{
			view.JobID,
			displayLabel(string(view.Status)),
			strings.Join(names, " → "),
			formatLocalTime(view.CreatedAt),
			truncate(view.Error, 60),
		})
	}
	return rows
}

func renderJobList(views []jobs.View) string {
	return renderTable(
		[]string{"ID", "Status", "Stages", "Created", "Error"},
		buildJobListRows(views),
	)
}

func renderJobDetail(view jobs.View, colorize bool) string {
	var b strings.Builder
	b.WriteString(renderSectionHeader("Job "+view.JobID, colorize))
	b.WriteString(renderStatusLine("Status", jobStatusKind(string(view.Status)), displayLabel(string(view.Status)), colorize) + "\n")
	b.WriteString(renderStatusLine("Created", statusInfo, formatLocalTime(view.CreatedAt), false) + "\n")
	b.WriteString(renderStatusLine("Updated", statusInfo, formatLocalTime(view.UpdatedAt), false) + "\n")
	if view.WorkDir != "" {
		b.WriteString(renderStatusLine("Work dir", statusInfo, view.WorkDir, false) + "\n")
	}
	if view.CallbackURL != "" {
		b.WriteString(renderStatusLine("Callback", statusInfo, view.CallbackURL, false) + "\n")
	}
	if view.Error != "" {
		b.WriteString(renderStatusLine("Error", statusError, view.Error, colorize) + "\n")
	}
	b.WriteString("\n")

	rows := make([][]string, 0, len(view.Stages))
	for _, stage := range view.Stages {
		rows = append(rows, buildStageRow(stage))
	}
	b.WriteString(renderTable(
		[]string{"Stage", "Status", "Attempt", "Duration", "Cached", "Detail"},
		rows,
		2, 3,
	))

	for _, stage := range view.Stages {
		if len(stage.View.Output) == 0 {
			continue
		}
		b.WriteString("\n" + displayLabel(stage.Name) + " output:\n")
		for _, key := range sortedKeys(stage.View.Output) {
			fmt.Fprintf(&b, "%s%s = %v\n", statusIndent, key, stage.View.Output[key])
		}
	}
	return b.String()
}

func buildStageRow(stage jobs.NamedStageView) []string {
	v := stage.View
	detail := ""
	if v.Error != nil {
		detail = v.Error.Kind + ": " + v.Error.Message
		if v.Error.Retryable {
			detail += " (retryable)"
		}
	}
	duration := ""
	if v.Duration > 0 {
		duration = (time.Duration(v.Duration * float64(time.Second))).Round(100 * time.Millisecond).String()
	}
	return []string{
		stage.Name,
		displayLabel(v.Status),
		fmt.Sprintf("%d", v.Attempt),
		duration,
		yesNo(v.CacheHit),
		truncate(detail, 80),
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatLocalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

// writeJSON encodes v as indented JSON on the command's stdout. URLs in
// outputs stay readable because HTML escaping is off.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
