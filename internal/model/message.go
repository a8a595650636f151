package model

// Category is the closed set of labels the classifier may assign to a message.
type Category string

const (
	CategoryToReply         Category = "ToReply"
	CategoryReceipts        Category = "Receipts"
	CategoryNewsletters     Category = "Newsletters"
	CategoryNotifications   Category = "Notifications"
	CategoryCalendarCreated Category = "CalendarCreated"
	CategoryNoAction        Category = "NoAction"
	CategoryNeedsReview     Category = "NeedsReview"
)

// Categories lists every valid classification label.
func Categories() []Category {
	return []Category{
		CategoryToReply,
		CategoryReceipts,
		CategoryNewsletters,
		CategoryNotifications,
		CategoryCalendarCreated,
		CategoryNoAction,
		CategoryNeedsReview,
	}
}

// ValidCategory reports whether s is a member of the closed label set.
func ValidCategory(s string) bool {
	for _, c := range Categories() {
		if string(c) == s {
			return true
		}
	}
	return false
}

// EmailMeta holds the envelope-level data of a message as observed in a
// specific folder. Folder and UID together identify the message for all
// state bookkeeping.
type EmailMeta struct {
	Folder     string
	UID        uint32
	MessageID  string
	InReplyTo  string
	References []string
	FromAddr   string
	ToAddr     string
	CcAddr     string
	ToAddrs    []string
	CcAddrs    []string
	ReplyTo    string
	Subject    string
	Date       string
}

// ClassificationResult is the structured output of the classify step.
type ClassificationResult struct {
	Category             Category `json:"category"`
	Confidence           float64  `json:"confidence"`
	Rationale            string   `json:"rationale"`
	Tags                 []string `json:"tags"`
	ReplyNeeded          bool     `json:"reply_needed"`
	ContainsEventRequest bool     `json:"contains_event_request"`
}

// ActionPlan is the pure decision derived from a classification: which of
// the side-effecting pipeline steps apply to the message.
type ActionPlan struct {
	CreateDraft         bool
	ExtractEvent        bool
	CreateCalendarEvent bool
	FileEmail           bool
}

// ReplyDraft is a composed reply pending append to the Drafts folder.
// It is never sent directly.
type ReplyDraft struct {
	ToAddr     string
	CcAddrs    []string
	Subject    string
	Body       string
	InReplyTo  string
	References string
}

// EventCandidate is an extracted, not yet validated, event proposal.
// Start and End are free-form strings as produced by the extractor and are
// parsed during validation. A candidate with a deadline but no end or
// duration becomes a TODO-style event.
type EventCandidate struct {
	Summary         string   `json:"summary"`
	Start           string   `json:"start"`
	End             string   `json:"end,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Timezone        string   `json:"timezone,omitempty"`
	Location        string   `json:"location,omitempty"`
	Evidence        []string `json:"evidence,omitempty"`
}

// ValidatedEvent is an event candidate that passed business-rule validation
// and is ready for the calendar collaborator.
type ValidatedEvent struct {
	Summary     string
	StartISO    string
	EndISO      string
	Timezone    string
	Location    string
	Description string
}

// FilingMode selects whether processed messages are moved or copied into
// their target folder.
type FilingMode string

const (
	FilingMove FilingMode = "move"
	FilingCopy FilingMode = "copy"
)
