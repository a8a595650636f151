package mail

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/lucasantoro97/postino/internal/model"
)

// BuildReply renders a reply draft as a raw RFC 5322 message ready for
// APPEND into the Drafts folder.
func BuildReply(fromAddr string, draft model.ReplyDraft) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetMessageID(uuid.NewString() + "@postino")
	h.SetAddressList("From", []*mail.Address{{Address: fromAddr}})
	h.SetAddressList("To", []*mail.Address{{Address: draft.ToAddr}})
	if len(draft.CcAddrs) > 0 {
		cc := make([]*mail.Address, 0, len(draft.CcAddrs))
		for _, addr := range draft.CcAddrs {
			cc = append(cc, &mail.Address{Address: addr})
		}
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(draft.Subject)
	if draft.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{draft.InReplyTo})
	}
	if draft.References != "" {
		h.SetMsgIDList("References", strings.Fields(draft.References))
	}
	return renderPlainText(h, draft.Body)
}

// BuildNotice renders a standalone plain-text message, used for the
// scheduled briefs and digests the agent writes to its own mailbox.
func BuildNotice(fromAddr, toAddr, subject, body string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetMessageID(uuid.NewString() + "@postino")
	h.SetAddressList("From", []*mail.Address{{Address: fromAddr}})
	h.SetAddressList("To", []*mail.Address{{Address: toAddr}})
	h.SetSubject(subject)
	return renderPlainText(h, body)
}

func renderPlainText(h mail.Header, body string) ([]byte, error) {
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing message: %w", err)
	}
	return buf.Bytes(), nil
}
