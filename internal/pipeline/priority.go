package pipeline

import (
	"regexp"
	"strings"

	"github.com/lucasantoro97/postino/internal/model"
)

var (
	deadlinePattern = regexp.MustCompile(`(?i)\b(due|deadline|overdue|today|tomorrow|asap|urgent)\b`)
	moneyPattern    = regexp.MustCompile(`(?i)\b(invoice|payment|wire|bank|amount)\b|[€$]`)
	legalPattern    = regexp.MustCompile(`(?i)\b(contract|nda|legal|terms|liability|termination)\b`)
	cancelPattern   = regexp.MustCompile(`(?i)\b(cancel|cancellation|reschedul|postpone)\b`)
)

// ComputePriority scores a message by sender and keyword signals. The
// score weights the classification, it never gates processing.
func ComputePriority(meta model.EmailMeta, text string, vipSenders []string) (int, []string) {
	score := 0
	var tags []string

	fromAddr := strings.ToLower(meta.FromAddr)
	for _, vip := range vipSenders {
		if vip != "" && strings.Contains(fromAddr, strings.ToLower(vip)) {
			score += 50
			tags = append(tags, "vip")
			break
		}
	}

	if deadlinePattern.MatchString(text) {
		score += 25
		tags = append(tags, "deadline")
	}
	if moneyPattern.MatchString(text) {
		score += 20
		tags = append(tags, "money")
	}
	if legalPattern.MatchString(text) {
		score += 20
		tags = append(tags, "legal")
	}
	if cancelPattern.MatchString(text) {
		score += 10
		tags = append(tags, "cancel")
	}

	if strings.Contains(strings.ToLower(meta.Subject), "re:") {
		score += 5
		tags = append(tags, "thread")
	}

	return score, tags
}
