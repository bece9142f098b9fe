package analyze

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dividerStr = strings.Repeat("─", 60)
)

// Render builds the analysis report as plain text with lipgloss styling,
// grounded on internal/replay's printHeader/printSummary idiom.
func Render(stats *Stats) string {
	var b strings.Builder

	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("EXPERIMENT"), valueStyle.Render(stats.ExperimentID))
	fmt.Fprintln(&b, dividerStr)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Name:    "), valueStyle.Render(stats.ExperimentName))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Pattern: "), valueStyle.Render(stats.Pattern))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Status:  "), statusStyle(stats.Success).Render(statusText(stats.Success)))
	fmt.Fprintf(&b, "%s %.1fs\n", labelStyle.Render("Duration:"), stats.DurationSecs)
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "%s\n", titleStyle.Render("AGENTS"))
	fmt.Fprintln(&b, dividerStr)
	for _, a := range stats.Agents {
		fmt.Fprintf(&b, "  %-20s turns=%-4d items=%d\n", a.AgentID, a.Turns, a.ItemCount)
	}
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "%s\n", titleStyle.Render("COORDINATION"))
	fmt.Fprintln(&b, dividerStr)
	fmt.Fprintf(&b, "  messages=%d delivered=%d delivery_rate=%.2f\n",
		stats.CoordinationMessages, stats.CoordinationDelivered, stats.DeliveryRate)
	fmt.Fprintln(&b)

	if stats.HasParallelism {
		fmt.Fprintf(&b, "%s\n", titleStyle.Render("ORCHESTRATION EVALS"))
		fmt.Fprintln(&b, dividerStr)
		fmt.Fprintf(&b, "  parallelism_efficiency=%.2f\n", stats.ParallelismEfficiency)
		fmt.Fprintln(&b)
	}

	if len(stats.JudgeScores) > 0 {
		fmt.Fprintf(&b, "%s\n", titleStyle.Render("JUDGE SCORES"))
		fmt.Fprintln(&b, dividerStr)
		dims := make([]string, 0, len(stats.JudgeScores))
		for d := range stats.JudgeScores {
			dims = append(dims, d)
		}
		sort.Strings(dims)
		for _, d := range dims {
			fmt.Fprintf(&b, "  %-20s %.2f\n", d, stats.JudgeScores[d])
		}
		fmt.Fprintln(&b)
	}

	return b.String()
}

func statusStyle(success bool) lipgloss.Style {
	if success {
		return goodStyle
	}
	return badStyle
}

func statusText(success bool) string {
	if success {
		return "SUCCESS"
	}
	return "FAILED"
}
