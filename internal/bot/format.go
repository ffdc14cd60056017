package bot

import (
	"fmt"
	"strings"

	"github.com/xaenox/cara/internal/consultation"
	"github.com/xaenox/cara/internal/models"
)

var markdownEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
	"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
	"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
)

// escapeMarkdown escapes text for MarkdownV2.
func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

func topicMenu() string {
	var sb strings.Builder
	sb.WriteString("What would you like help with? Reply with a number or a topic:\n")
	for i, opt := range consultation.TopicOptions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, opt.Label)
	}
	sb.WriteString("\nSend /cancel to stop.")
	return sb.String()
}

func statusLabel(s models.ConsultationStatus) string {
	switch s {
	case models.StatusActive:
		return "Active"
	case models.StatusCompleted:
		return "Completed"
	default:
		return "Pending"
	}
}

func typeLabel(types *consultation.TypeMap, t models.ConsultationType) string {
	return consultation.TypeLabel(types.Canonical(string(t)))
}

func formatDate(dt models.DateTime) string {
	if dt.IsZero() {
		return "-"
	}
	return dt.Format("Jan 2, 2006")
}

func formatCounts(c consultation.Counts) string {
	return fmt.Sprintf("Total: %d | Active: %d | Completed: %d | Pending: %d", c.Total, c.Active, c.Completed, c.Pending)
}

func formatList(items []models.Consultation, counts consultation.Counts, filtered bool, types *consultation.TypeMap) string {
	var sb strings.Builder
	sb.WriteString("*Your consultations*\n")
	sb.WriteString(escapeMarkdown(formatCounts(counts)))
	sb.WriteString("\n\n")

	if len(items) == 0 {
		if filtered {
			sb.WriteString(escapeMarkdown("No consultations match your search."))
		} else {
			sb.WriteString(escapeMarkdown("No consultations yet. Use /new to start one."))
		}
		return sb.String()
	}

	for i, c := range items {
		fmt.Fprintf(&sb, "%d\\. *%s*\n", i+1, escapeMarkdown(c.Topic))
		meta := fmt.Sprintf("%s · %s · %s", typeLabel(types, c.Type), statusLabel(c.EffectiveStatus()), formatDate(c.Created))
		fmt.Fprintf(&sb, "%s\n`%s`\n\n", escapeMarkdown(meta), c.ID)
	}
	sb.WriteString(escapeMarkdown("Use /chat <id>, /report <id>, /complete <id> or /delete <id>."))
	return sb.String()
}

func formatDraft(d consultation.Draft, types *consultation.TypeMap) string {
	var sb strings.Builder
	sb.WriteString("*Review your consultation*\n\n")
	fmt.Fprintf(&sb, "*Topic:* %s\n", escapeMarkdown(d.EffectiveTopic()))
	fmt.Fprintf(&sb, "*Type:* %s\n", escapeMarkdown(consultation.TypeLabel(types.Canonical(d.Type))))
	fmt.Fprintf(&sb, "*Description:* %s\n", escapeMarkdown(strings.TrimSpace(d.Description)))
	if len(d.Attachments) > 0 {
		sb.WriteString("*Attachments:*\n")
		for i, a := range d.Attachments {
			fmt.Fprintf(&sb, "%s\n", escapeMarkdown(fmt.Sprintf("%d. %s (%s)", i+1, a.Name, humanSize(a.Size))))
		}
	}
	sb.WriteString("\n")
	sb.WriteString(escapeMarkdown("Send /submit to create it, /back to edit, or /cancel to discard."))
	return sb.String()
}

func formatReport(c models.Consultation, types *consultation.TypeMap, transcript []models.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Consultation report: %s*\n\n", escapeMarkdown(c.Topic))
	fmt.Fprintf(&sb, "*Type:* %s\n", escapeMarkdown(typeLabel(types, c.Type)))
	fmt.Fprintf(&sb, "*Status:* %s\n", escapeMarkdown(statusLabel(c.EffectiveStatus())))
	fmt.Fprintf(&sb, "*Created:* %s\n", escapeMarkdown(formatDate(c.Created)))
	fmt.Fprintf(&sb, "*Updated:* %s\n", escapeMarkdown(formatDate(c.Updated)))
	if priority, ok := c.Metadata["priority"].(string); ok && priority != "" {
		fmt.Fprintf(&sb, "*Priority:* %s\n", escapeMarkdown(priority))
	}
	if tags := metadataTags(c.Metadata); len(tags) > 0 {
		fmt.Fprintf(&sb, "*Tags:* %s\n", escapeMarkdown(strings.Join(tags, ", ")))
	}
	fmt.Fprintf(&sb, "\n*Question*\n%s\n", escapeMarkdown(c.Description))

	if len(transcript) > 0 {
		sb.WriteString("\n*Conversation*\n")
		for _, m := range transcript {
			who := "CARA"
			if m.IsUser {
				who = "You"
			}
			fmt.Fprintf(&sb, "*%s:* %s\n", who, escapeMarkdown(m.Content))
		}
	}
	return sb.String()
}

func metadataTags(meta map[string]any) []string {
	raw, ok := meta["tags"].([]any)
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			tags = append(tags, s)
		}
	}
	return tags
}
