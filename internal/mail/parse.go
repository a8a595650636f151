package mail

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"

	"github.com/lucasantoro97/postino/internal/model"
)

// ParseMessage extracts envelope metadata, a plain-text body, and a stable
// content fingerprint from a raw RFC 5322 message. Parsing is best-effort:
// a message that cannot be decoded as MIME is treated as plain text so the
// pipeline never stalls on a malformed message.
func ParseMessage(raw []byte, folder string, uid uint32) (model.EmailMeta, string, string) {
	meta := model.EmailMeta{Folder: folder, UID: uid}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		meta.MessageID = fmt.Sprintf("uid-%d@%s", uid, folder)
		body := string(raw)
		return meta, body, Fingerprint(meta)
	}
	defer mr.Close()

	header := mr.Header

	if id, err := header.MessageID(); err == nil && id != "" {
		meta.MessageID = id
	} else {
		meta.MessageID = fmt.Sprintf("uid-%d@%s", uid, folder)
	}
	if ids, err := header.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		meta.InReplyTo = ids[0]
	}
	if refs, err := header.MsgIDList("References"); err == nil {
		meta.References = refs
	}

	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		meta.FromAddr = from[0].Address
	}
	if to, err := header.AddressList("To"); err == nil {
		for _, a := range to {
			meta.ToAddrs = append(meta.ToAddrs, a.Address)
		}
		if len(to) > 0 {
			meta.ToAddr = to[0].Address
		}
	}
	if cc, err := header.AddressList("Cc"); err == nil {
		for _, a := range cc {
			meta.CcAddrs = append(meta.CcAddrs, a.Address)
		}
		if len(cc) > 0 {
			meta.CcAddr = cc[0].Address
		}
	}
	if rt, err := header.AddressList("Reply-To"); err == nil && len(rt) > 0 {
		meta.ReplyTo = rt[0].Address
	}

	meta.Subject, _ = header.Subject()
	meta.Date = header.Get("Date")

	text, htmlBody, attachments := collectParts(mr)
	if text == "" && htmlBody != "" {
		text = htmlToText(htmlBody)
	}
	if len(attachments) > 0 {
		text += "\n\n[Attachments: " + strings.Join(attachments, ", ") + "]"
	}

	return meta, strings.TrimSpace(text), Fingerprint(meta)
}

// collectParts walks the MIME tree gathering inline text parts, a fallback
// HTML part, and attachment filenames.
func collectParts(mr *mail.Reader) (text, htmlBody string, attachments []string) {
	var textParts []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textParts = append(textParts, string(body))
			case strings.HasPrefix(contentType, "text/html"):
				if htmlBody == "" {
					htmlBody = string(body)
				}
			}
		case *mail.AttachmentHeader:
			if filename, err := h.Filename(); err == nil && filename != "" {
				attachments = append(attachments, filename)
			}
		}
	}
	return strings.Join(textParts, "\n"), htmlBody, attachments
}

// htmlToText renders an HTML body as readable plain text, skipping script
// and style content and breaking on block-level elements.
func htmlToText(src string) string {
	tok := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skipDepth := 0
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return collapseBlankLines(strings.TrimSpace(b.String()))
		case html.StartTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "script", "style", "head":
				skipDepth++
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "script", "style", "head":
				if skipDepth > 0 {
					skipDepth--
				}
			case "p", "div", "li", "tr":
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth == 0 {
				if t := strings.TrimSpace(string(tok.Text())); t != "" {
					b.WriteString(t)
					b.WriteByte(' ')
				}
			}
		}
	}
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

// Fingerprint derives a stable identity for a message from its headers,
// used to detect re-deliveries of the same content under a new UID.
func Fingerprint(meta model.EmailMeta) string {
	subject := meta.Subject
	if len(subject) > 200 {
		subject = subject[:200]
	}
	from := meta.FromAddr
	if len(from) > 200 {
		from = from[:200]
	}
	sum := sha256.Sum256([]byte(meta.MessageID + "|" + subject + "|" + meta.Date + "|" + from))
	return hex.EncodeToString(sum[:])
}

// meetingHosts are domains whose URLs count as conferencing links.
var meetingHosts = []string{
	"meet.google.com",
	"zoom.us",
	"teams.microsoft.com",
	"webex.com",
	"gotomeeting.com",
}

// MeetingLinks returns the conferencing URLs found in body, in order of
// first appearance, without duplicates.
func MeetingLinks(body string) []string {
	var links []string
	seen := make(map[string]struct{})
	for _, field := range strings.Fields(body) {
		candidate := strings.Trim(field, ".,;:!?()<>[]\"'")
		if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
			continue
		}
		for _, host := range meetingHosts {
			if strings.Contains(candidate, host) {
				if _, ok := seen[candidate]; !ok {
					seen[candidate] = struct{}{}
					links = append(links, candidate)
				}
				break
			}
		}
	}
	return links
}
