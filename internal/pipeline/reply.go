package pipeline

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/lucasantoro97/postino/internal/model"
)

var replySeparators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^on .+ wrote:$`),
	regexp.MustCompile(`(?i)^il .+ ha scritto:$`),
	regexp.MustCompile(`(?i)^from:\s`),
	regexp.MustCompile(`(?i)^to:\s`),
	regexp.MustCompile(`(?i)^cc:\s`),
	regexp.MustCompile(`(?i)^date:\s`),
	regexp.MustCompile(`(?i)^sent:\s`),
	regexp.MustCompile(`(?i)^inviato:\s`),
	regexp.MustCompile(`(?i)^subject:\s`),
	regexp.MustCompile(`(?i)^-----original message-----$`),
	regexp.MustCompile(`(?i)^begin forwarded message:$`),
}

var replyWordPattern = regexp.MustCompile(`[A-Za-zÀ-ÿ']+`)

func isReplySeparator(line string) bool {
	for _, pat := range replySeparators {
		if pat.MatchString(line) {
			return true
		}
	}
	return false
}

// extractLatestText keeps only the newest part of a thread, cutting at the
// first quoted-reply separator. A fully quoted message is unquoted instead
// of being dropped.
func extractLatestText(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string
	for _, line := range lines {
		if isReplySeparator(strings.TrimSpace(line)) {
			break
		}
		kept = append(kept, line)
	}
	if trimmed := strings.TrimSpace(strings.Join(kept, "\n")); trimmed != "" {
		return trimmed
	}

	var unquoted []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		unquoted = append(unquoted, strings.TrimRight(strings.TrimLeft(line, "> "), " "))
	}
	if joined := strings.TrimSpace(strings.Join(unquoted, "\n")); joined != "" {
		return joined
	}
	return strings.TrimSpace(text)
}

// hasMeaningfulReply reports whether the drafted body contains at least a
// few words of original content beyond quotes and headers.
func hasMeaningfulReply(body string) bool {
	words := 0
	for _, line := range strings.Split(body, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" || strings.HasPrefix(stripped, ">") || isReplySeparator(stripped) {
			continue
		}
		words += len(replyWordPattern.FindAllString(stripped, -1))
		if words >= 3 {
			return true
		}
	}
	return false
}

func fallbackDraftBody(language string) string {
	if language == "it" {
		return "Grazie per la tua email.\n\nTi rispondo appena possibile.\n\nCordiali saluti,\n"
	}
	return "Thanks for your email.\n\nI will get back to you shortly.\n\nBest regards,\n"
}

func normalizeAddr(value string) string {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return strings.ToLower(strings.TrimSpace(addr.Address))
}

// isAddressedToUser reports whether the account owner appears among the
// recipients. Messages where the user is only Bcc'd (or harvested) get no
// automatic draft.
func isAddressedToUser(meta model.EmailMeta, userEmail string) bool {
	userEmail = normalizeAddr(userEmail)
	if userEmail == "" {
		return true
	}
	recipients := make(map[string]struct{})
	for _, addr := range append(append([]string{}, meta.ToAddrs...), meta.CcAddrs...) {
		if addr != "" {
			recipients[strings.ToLower(strings.TrimSpace(addr))] = struct{}{}
		}
	}
	if len(recipients) > 0 {
		_, ok := recipients[userEmail]
		return ok
	}
	raw := strings.ToLower(meta.ToAddr + " " + meta.CcAddr)
	return strings.Contains(raw, userEmail)
}

// computeReplyAllCC builds the Cc list for a reply-all draft: every other
// recipient except the account owner and the reply target.
func computeReplyAllCC(meta model.EmailMeta, userEmail string) []string {
	userEmail = normalizeAddr(userEmail)
	toAddr := meta.ReplyTo
	if toAddr == "" {
		toAddr = meta.FromAddr
	}
	toAddr = normalizeAddr(toAddr)

	seen := make(map[string]struct{})
	var cc []string
	for _, addr := range append(append([]string{}, meta.ToAddrs...), meta.CcAddrs...) {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" || addr == userEmail || addr == toAddr {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		cc = append(cc, addr)
	}
	return cc
}

// formatOriginalContext renders the quoted original below a drafted reply.
func formatOriginalContext(meta model.EmailMeta, text string) string {
	var headerLines []string
	if meta.FromAddr != "" {
		headerLines = append(headerLines, "From: "+meta.FromAddr)
	}
	if meta.ToAddr != "" {
		headerLines = append(headerLines, "To: "+meta.ToAddr)
	}
	if meta.CcAddr != "" {
		headerLines = append(headerLines, "Cc: "+meta.CcAddr)
	}
	if meta.Date != "" {
		headerLines = append(headerLines, "Date: "+meta.Date)
	}
	if meta.Subject != "" {
		headerLines = append(headerLines, "Subject: "+meta.Subject)
	}

	var quoted []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			quoted = append(quoted, ">")
		} else {
			quoted = append(quoted, "> "+line)
		}
	}
	quotedBlock := strings.Join(quoted, "\n")

	var intro string
	switch {
	case meta.Date != "" && meta.FromAddr != "":
		intro = "On " + meta.Date + ", " + meta.FromAddr + " wrote:"
	case meta.FromAddr != "":
		intro = meta.FromAddr + " wrote:"
	case meta.Date != "":
		intro = "On " + meta.Date + ":"
	}

	if len(headerLines) > 0 {
		headerBlock := strings.Join(headerLines, "\n")
		if intro != "" {
			return intro + "\n" + headerBlock + "\n\n" + quotedBlock + "\n"
		}
		return "Original message:\n" + headerBlock + "\n\n" + quotedBlock + "\n"
	}
	if intro != "" {
		return intro + "\n" + quotedBlock + "\n"
	}
	return "Original message:\n" + quotedBlock + "\n"
}
