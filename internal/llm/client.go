package llm

import (
	"context"
	"regexp"
	"strings"

	"github.com/lucasantoro97/postino/internal/model"
)

// Client is the language-model collaborator used by the decision pipeline.
// Implementations must be safe to call sequentially from a single goroutine.
type Client interface {
	// Classify assigns a category, confidence, and action hints to a message.
	Classify(ctx context.Context, meta model.EmailMeta, text string) (model.ClassificationResult, error)

	// DraftReply composes a reply body for a message that needs one.
	DraftReply(ctx context.Context, meta model.EmailMeta, text string) (model.ReplyDraft, error)

	// ExtractEvents proposes calendar event candidates found in a message.
	ExtractEvents(ctx context.Context, meta model.EmailMeta, text string) ([]model.EventCandidate, error)
}

var wordPattern = regexp.MustCompile(`[a-zA-ZÀ-ÿ']+`)

var italianStopwords = map[string]struct{}{
	"e": {}, "il": {}, "lo": {}, "la": {}, "i": {}, "gli": {}, "le": {},
	"un": {}, "una": {}, "di": {}, "da": {}, "che": {}, "per": {},
	"con": {}, "su": {}, "come": {}, "mi": {}, "ti": {}, "si": {},
	"sono": {}, "grazie": {}, "buongiorno": {}, "cordiali": {}, "saluti": {},
}

var englishStopwords = map[string]struct{}{
	"and": {}, "the": {}, "a": {}, "an": {}, "of": {}, "to": {}, "for": {},
	"with": {}, "on": {}, "in": {}, "is": {}, "are": {}, "thank": {},
	"hello": {}, "regards": {},
}

// DetectLanguage guesses between English and Italian by stopword frequency,
// defaulting to English when neither scores.
func DetectLanguage(parts ...string) string {
	text := strings.ToLower(strings.Join(parts, " "))
	words := wordPattern.FindAllString(text, -1)
	if len(words) == 0 {
		return "en"
	}
	var itScore, enScore int
	for _, w := range words {
		if _, ok := italianStopwords[w]; ok {
			itScore++
		}
		if _, ok := englishStopwords[w]; ok {
			enScore++
		}
	}
	if itScore == 0 && enScore == 0 {
		return "en"
	}
	if itScore >= enScore {
		return "it"
	}
	return "en"
}

// normalizeReplySubject prefixes "Re: " unless the subject already carries it.
func normalizeReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(s), "re:") {
		return s
	}
	if s == "" {
		return "Re:"
	}
	return "Re: " + s
}

// normalizeReferences joins the thread's references and the replied-to
// message id into a deduplicated, order-preserving References value.
func normalizeReferences(references []string, messageID string) string {
	var ordered []string
	seen := make(map[string]struct{})
	for _, ref := range references {
		key := strings.TrimSpace(ref)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		ordered = append(ordered, key)
		seen[key] = struct{}{}
	}
	if key := strings.TrimSpace(messageID); key != "" {
		if _, ok := seen[key]; !ok {
			ordered = append(ordered, key)
		}
	}
	return strings.Join(ordered, " ")
}

// fallbackReplyBody is used when the model returns an empty draft.
func fallbackReplyBody(language string) string {
	if language == "it" {
		return "Grazie per la tua email.\n\nCordiali saluti,\n"
	}
	return "Thanks for your email.\n\nBest regards,\n"
}
