package llm

import (
	"context"
	"strings"

	"github.com/lucasantoro97/postino/internal/model"
)

// HeuristicClient is a keyword-rule fallback used when no API key is
// configured. It never drafts meaningful replies and never extracts
// events, so the agent degrades to triage-only behavior.
type HeuristicClient struct{}

// NewHeuristic returns the rule-based fallback client.
func NewHeuristic() *HeuristicClient {
	return &HeuristicClient{}
}

func (h *HeuristicClient) Classify(_ context.Context, meta model.EmailMeta, text string) (model.ClassificationResult, error) {
	subj := strings.ToLower(meta.Subject)
	body := strings.ToLower(text)

	switch {
	case strings.Contains(body, "unsubscribe") || strings.Contains(subj, "newsletter"):
		return model.ClassificationResult{
			Category:   model.CategoryNewsletters,
			Confidence: 0.7,
			Rationale:  "Heuristic: newsletter/unsubscribe",
			Tags:       []string{"heuristic"},
		}, nil
	case strings.Contains(body, "invoice") || strings.Contains(body, "receipt") || strings.Contains(body, "payment"):
		return model.ClassificationResult{
			Category:   model.CategoryReceipts,
			Confidence: 0.7,
			Rationale:  "Heuristic: invoice/receipt keywords",
			Tags:       []string{"heuristic"},
		}, nil
	case strings.Contains(body, "meeting") || strings.Contains(body, "calendar"):
		return model.ClassificationResult{
			Category:             model.CategoryToReply,
			Confidence:           0.55,
			Rationale:            "Heuristic: meeting/calendar keywords",
			Tags:                 []string{"heuristic"},
			ReplyNeeded:          true,
			ContainsEventRequest: true,
		}, nil
	}
	return model.ClassificationResult{
		Category:   model.CategoryNeedsReview,
		Confidence: 0.5,
		Rationale:  "Heuristic fallback",
		Tags:       []string{"heuristic"},
	}, nil
}

func (h *HeuristicClient) DraftReply(_ context.Context, meta model.EmailMeta, text string) (model.ReplyDraft, error) {
	language := DetectLanguage(text, meta.Subject)
	toAddr := meta.ReplyTo
	if toAddr == "" {
		toAddr = meta.FromAddr
	}

	var body string
	if language == "it" {
		body = "Grazie per la tua email.\n\n" +
			"Ho ricevuto il tuo messaggio e lo esaminerò a breve.\n\n" +
			"Cordiali saluti,\n"
	} else {
		body = "Thanks for your email.\n\n" +
			"I've received your message and will review it shortly.\n\n" +
			"Best regards,\n"
	}

	return model.ReplyDraft{
		ToAddr:     toAddr,
		Subject:    normalizeReplySubject(meta.Subject),
		Body:       body,
		InReplyTo:  meta.MessageID,
		References: normalizeReferences(meta.References, meta.MessageID),
	}, nil
}

func (h *HeuristicClient) ExtractEvents(_ context.Context, _ model.EmailMeta, _ string) ([]model.EventCandidate, error) {
	return nil, nil
}
