package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hireflow/wecom-relay/internal/domain"
)

// ExtractReplyText takes the last assistant message of a chat response and
// concatenates its text parts with a blank line between them.
func ExtractReplyText(resp *ChatResponse) (string, error) {
	var last *Message
	for i := range resp.Messages {
		if resp.Messages[i].Role == "assistant" {
			last = &resp.Messages[i]
		}
	}
	if last == nil {
		return "", fmt.Errorf("op=agent.ExtractReplyText: %w: no assistant message", domain.ErrAgentUnavailable)
	}
	var parts []string
	for _, p := range last.Parts {
		if p.Type == "text" && strings.TrimSpace(p.Text) != "" {
			parts = append(parts, strings.TrimSpace(p.Text))
		}
	}
	text := strings.Join(parts, "\n\n")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("op=agent.ExtractReplyText: %w: empty reply", domain.ErrAgentUnavailable)
	}
	return text, nil
}

var (
	listMarkerRe = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+`)
	multiSpaceRe = regexp.MustCompile(`[ \t]{2,}`)
	multiBlankRe = regexp.MustCompile(`\n{3,}`)
)

// NormalizeReply rewrites Markdown-list replies into natural prose. The
// Agent is prompted to speak colloquially, but the pipeline guarantees the
// output shape regardless.
func NormalizeReply(text string) string {
	if listMarkerRe.MatchString(text) {
		text = listToProse(text)
	}
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// listToProse folds a leading sentence plus list items into one colloquial
// sentence of the form 有X、Y、Z可以选，….
func listToProse(text string) string {
	lines := strings.Split(text, "\n")
	var (
		lead  []string
		items []string
		tail  []string
	)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if listMarkerRe.MatchString(line) {
			items = append(items, strings.TrimSpace(listMarkerRe.ReplaceAllString(line, "")))
			continue
		}
		if len(items) == 0 {
			lead = append(lead, trimmed)
		} else {
			tail = append(tail, trimmed)
		}
	}
	if len(items) == 0 {
		return text
	}

	var b strings.Builder
	if len(lead) > 0 {
		l := strings.Join(lead, "")
		l = strings.TrimRight(l, "：:")
		b.WriteString(l)
		if !endsWithPunct(l) {
			b.WriteString("，")
		}
	}
	b.WriteString("有")
	b.WriteString(strings.Join(items, "、"))
	b.WriteString("可以选")
	if len(tail) > 0 {
		b.WriteString("，")
		b.WriteString(strings.Join(tail, ""))
	} else {
		b.WriteString("～")
	}
	return b.String()
}

func endsWithPunct(s string) bool {
	if s == "" {
		return true
	}
	r := []rune(s)
	switch r[len(r)-1] {
	case '，', '。', '！', '？', '～', ',', '!', '?':
		return true
	}
	return false
}
