package store

import (
	"context"
	"time"

	"github.com/lucasantoro97/postino/internal/model"
)

// Filing status values recorded for a message. A message with any of these
// statuses is considered processed and is never piped again.
const (
	FilingMoved   = "moved"
	FilingCopied  = "copied"
	FilingSkipped = "skipped"
	FilingReplied = "replied"
)

// Task run statuses. At most one success is recorded per (task, bucket);
// a failed run may be retried within the same bucket.
const (
	RunSuccess = "success"
	RunSkipped = "skipped"
	RunFailed  = "failed"
)

// MessageBase is the envelope-level state written when a message is first
// fetched, before any pipeline step runs.
type MessageBase struct {
	Folder      string
	UID         uint32
	MessageID   string
	Subject     string
	FromAddr    string
	Date        string
	Fingerprint string
}

// MessageSummary is a completed or in-flight message record as read back
// for reports and reconciliation.
type MessageSummary struct {
	Folder          string
	UID             uint32
	MessageID       string
	Subject         string
	FromAddr        string
	Date            string
	Category        string
	Confidence      float64
	Priority        int
	FilingFolder    string
	DraftUID        uint32
	CalendarEventID string
}

// CategoryCount is one row of the per-category activity summary.
type CategoryCount struct {
	Category string
	Count    int
}

// ReplyCandidate is a message filed into the ToReply folder which still
// awaits a human-authored reply.
type ReplyCandidate struct {
	Folder    string
	UID       uint32
	MessageID string
	Subject   string
	FromAddr  string
}

// RepliedMove records one message cleared out of ToReply by reconciliation.
type RepliedMove struct {
	MessageID string
	Subject   string
	FromAddr  string
	MovedAt   time.Time
}

// Store is the durable persistence interface for message records, recurring
// task runs, and reconciliation bookkeeping. All idempotency guarantees of
// the agent rest on it: every externally visible action checks the store
// before running and records its outcome after.
type Store interface {
	Close() error

	// Folder cursor for UID-based polling.
	GetLastUID(ctx context.Context, folder string) (uint32, error)
	SetLastUID(ctx context.Context, folder string, uid uint32) error

	// Message records.
	Seen(ctx context.Context, folder string, uid uint32) (bool, error)
	UpsertMessageBase(ctx context.Context, base MessageBase) error
	RecordAttempt(ctx context.Context, folder string, uid uint32, errMsg string) error
	SetClassification(ctx context.Context, folder string, uid uint32, cls model.ClassificationResult, priority int) error
	SetDraftUID(ctx context.Context, folder string, uid uint32, draftUID uint32) error
	GetDraftUID(ctx context.Context, folder string, uid uint32) (uint32, error)
	SetCalendarEventID(ctx context.Context, folder string, uid uint32, eventID string) error
	GetCalendarEventID(ctx context.Context, folder string, uid uint32) (string, error)
	SetFilingResult(ctx context.Context, folder string, uid uint32, filingFolder, status string) error
	RetryableUIDs(ctx context.Context, folder string, olderThan time.Time, limit int) ([]uint32, error)

	// Report queries.
	RecentMessages(ctx context.Context, since time.Time) ([]MessageSummary, error)
	RecentCategoryCounts(ctx context.Context, since time.Time) ([]CategoryCount, error)
	RecentCalendarMessages(ctx context.Context, since time.Time) ([]MessageSummary, error)
	RecentDraftMessages(ctx context.Context, since time.Time) ([]MessageSummary, error)
	PendingReplyMessages(ctx context.Context) ([]MessageSummary, error)

	// Reconciliation.
	ReplyCandidates(ctx context.Context, filingFolder string) ([]ReplyCandidate, error)
	MarkReplied(ctx context.Context, folder string, uid uint32, repliedFolder string) error
	RecordRepliedMove(ctx context.Context, mv RepliedMove) error
	RepliedMovesSince(ctx context.Context, since time.Time) ([]RepliedMove, error)

	// Recurring task dedup.
	HasRun(ctx context.Context, task, bucket string) (bool, error)
	RecordRun(ctx context.Context, task, bucket, status string, executedAt time.Time) error
}
