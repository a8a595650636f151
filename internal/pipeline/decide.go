package pipeline

import (
	"regexp"
	"strings"

	"github.com/lucasantoro97/postino/internal/model"
)

var deadlineKeywords = []string{
	"deadline",
	"due",
	"by",
	"before",
	"entro",
	"scadenza",
	"termine",
	"da consegnare",
	"da inviare",
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}([/-]\d{2,4})?\b`),
	regexp.MustCompile(`\b\d{4}[/-]\d{1,2}[/-]\d{1,2}\b`),
	regexp.MustCompile(`\b(` +
		`jan|january|feb|february|mar|march|apr|april|may|jun|june|jul|july|` +
		`aug|august|sep|sept|september|oct|october|nov|november|dec|december|` +
		`gennaio|febbraio|marzo|aprile|maggio|giugno|luglio|agosto|settembre|` +
		`ottobre|novembre|dicembre` +
		`)\b`),
}

// deadlineSignals reports whether the text carries a deadline keyword and
// a date-like token. Both must hit for the heuristic to force extraction.
func deadlineSignals(text string) (keywordHit, dateHit bool) {
	lowered := strings.ToLower(text)
	for _, keyword := range deadlineKeywords {
		if strings.Contains(lowered, keyword) {
			keywordHit = true
			break
		}
	}
	for _, pattern := range datePatterns {
		if pattern.MatchString(lowered) {
			dateHit = true
			break
		}
	}
	return keywordHit, dateHit
}

// ApplyConfidenceThreshold demotes a low-confidence classification to
// NeedsReview so uncertain messages land in the review folder.
func ApplyConfidenceThreshold(cls model.ClassificationResult, threshold float64) model.ClassificationResult {
	if cls.Confidence < threshold {
		cls.Category = model.CategoryNeedsReview
	}
	return cls
}

// DecideActions maps a classification to the plan of side effects. Filing
// always happens; drafting and event handling follow the classifier hints.
func DecideActions(cls model.ClassificationResult) model.ActionPlan {
	return model.ActionPlan{
		CreateDraft:         cls.ReplyNeeded,
		ExtractEvent:        cls.ContainsEventRequest,
		CreateCalendarEvent: cls.ContainsEventRequest,
		FileEmail:           true,
	}
}

// applyDeadlineFallback forces event extraction when the regex heuristic
// spots a deadline the classifier missed.
func applyDeadlineFallback(plan model.ActionPlan, text string) (model.ActionPlan, bool) {
	if plan.ExtractEvent {
		return plan, false
	}
	keywordHit, dateHit := deadlineSignals(text)
	if keywordHit && dateHit {
		plan.ExtractEvent = true
		plan.CreateCalendarEvent = true
		return plan, true
	}
	return plan, false
}
