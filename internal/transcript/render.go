package transcript

import (
	"fmt"
	"strings"
)

// RenderMarkdown produces the human-readable full.md rendering: a
// chronological log of every item across every agent, formatted per
// event type the way original_source/src/helm/collector.py's
// `_format_item` does.
func (m *MultiAgentTranscript) RenderMarkdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", m.ExperimentName)
	fmt.Fprintf(&b, "Experiment: `%s`\n\n", m.ExperimentID)

	for _, item := range m.AllItems() {
		fmt.Fprintf(&b, "## %s — %s\n\n", item.AgentID, item.Timestamp.Format("15:04:05.000"))
		b.WriteString(formatItem(item))
		b.WriteString("\n\n")
	}

	summary := m.coordinationSummary()
	fmt.Fprintf(&b, "## Coordination summary\n\n")
	fmt.Fprintf(&b, "- total messages: %d\n", summary.TotalMessages)
	fmt.Fprintf(&b, "- delivered: %d (%.0f%%)\n", summary.Delivered, summary.DeliveryRate*100)
	for t, n := range summary.ByType {
		fmt.Fprintf(&b, "- %s: %d\n", t, n)
	}

	return b.String()
}

func formatItem(item Item) string {
	switch item.EventType {
	case "session.started":
		return "session started"
	case "session.ended":
		return "session ended"
	case "item.completed":
		return formatCompletedItem(item.Data)
	case "permission.requested":
		return fmt.Sprintf("permission requested: %v", item.Data["action"])
	case "question.raised":
		return fmt.Sprintf("question raised: %v", item.Data["text"])
	case "error":
		return fmt.Sprintf("error: %v", item.Data["message"])
	default:
		return fmt.Sprintf("%s: %v", item.EventType, item.Data)
	}
}

func formatCompletedItem(data map[string]interface{}) string {
	itemData, ok := data["item"].(map[string]interface{})
	if !ok {
		return "item completed"
	}
	role, _ := itemData["role"].(string)
	text, _ := itemData["text"].(string)
	if role == "" {
		role = "unknown"
	}
	if text == "" {
		return fmt.Sprintf("**%s** (no text content)", role)
	}
	return fmt.Sprintf("**%s**: %s", role, text)
}
