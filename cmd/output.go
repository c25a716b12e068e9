package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/kerfworks/kerf/api"
	"github.com/kerfworks/kerf/internal/recalc"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Faint(true)

	mutedCellStyle = mutedStyle.Padding(0, 1)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(w io.Writer, sum *recalc.Summary) error {
	if jsonOutput {
		return printJSON(w, sum)
	}

	// Every kind gets a row; kinds with nothing visited are muted.
	var rowStyles []lipgloss.Style
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("KIND", "PROCESSED", "SKIPPED", "PARTIAL", "SUPERSEDED", "FAILED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row >= 0 && row < len(rowStyles) {
				return rowStyles[row]
			}
			return headerStyle
		})
	for _, k := range api.BottomUp() {
		c := sum.Kinds[k]
		switch {
		case c.Failed > 0:
			rowStyles = append(rowStyles, failStyle)
		case c.Visited() == 0:
			rowStyles = append(rowStyles, mutedCellStyle)
		default:
			rowStyles = append(rowStyles, cellStyle)
		}
		t.Row(k.String(),
			strconv.Itoa(c.Processed),
			strconv.Itoa(c.Skipped),
			strconv.Itoa(c.Partial),
			strconv.Itoa(c.Superseded),
			strconv.Itoa(c.Failed))
	}

	fmt.Fprintf(w, "%s (force=%v) in %s\n", sum.Scope, sum.Force, sum.Duration().Round(time.Millisecond))
	fmt.Fprintln(w, t.String())

	if sum.HasFailures() {
		fmt.Fprintln(w, failStyle.UnsetPadding().Render(
			fmt.Sprintf("%d failed (showing %d):", sum.Failed(), len(sum.Failures))))
		for _, f := range sum.Failures {
			fmt.Fprintf(w, "  %s: %s\n", f.Ref, f.Error)
		}
	}
	return nil
}

func printStatus(w io.Writer, counts map[api.Kind]int) error {
	if jsonOutput {
		out := make(map[string]int, len(counts))
		for _, k := range api.BottomUp() {
			out[k.String()] = counts[k]
		}
		return printJSON(w, out)
	}

	total := 0
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("KIND", "DIRTY").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, k := range api.BottomUp() {
		if counts[k] == 0 {
			continue
		}
		total += counts[k]
		t.Row(k.String(), strconv.Itoa(counts[k]))
	}
	if total == 0 {
		fmt.Fprintln(w, mutedStyle.Render("all scores are current"))
		return nil
	}
	fmt.Fprintln(w, t.String())
	fmt.Fprintf(w, "%d dirty nodes\n", total)
	return nil
}
