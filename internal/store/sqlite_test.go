package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/lucasantoro97/postino/internal/model"
	"github.com/lucasantoro97/postino/internal/store"
	"github.com/lucasantoro97/postino/tests/testutil"
)

func seedMessage(t *testing.T, s *store.SQLiteStore, folder string, uid uint32, messageID string) {
	t.Helper()
	err := s.UpsertMessageBase(context.Background(), store.MessageBase{
		Folder:    folder,
		UID:       uid,
		MessageID: messageID,
		Subject:   "Subject " + messageID,
		FromAddr:  "sender@example.com",
		Date:      "Mon, 12 Jan 2026 10:00:00 +0100",
	})
	if err != nil {
		t.Fatalf("seeding message: %v", err)
	}
}

func TestLastUIDRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	uid, err := s.GetLastUID(ctx, "INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if uid != 0 {
		t.Errorf("unseen folder last uid = %d, want 0", uid)
	}

	if err := s.SetLastUID(ctx, "INBOX", 42); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLastUID(ctx, "INBOX", 99); err != nil {
		t.Fatal(err)
	}

	uid, err = s.GetLastUID(ctx, "INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if uid != 99 {
		t.Errorf("last uid = %d, want 99", uid)
	}
}

func TestUpsertPreservesFieldsOnConflict(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedMessage(t, s, "INBOX", 1, "m1@x")
	// A refetch with missing envelope fields must not erase what we know.
	err := s.UpsertMessageBase(ctx, store.MessageBase{Folder: "INBOX", UID: 1})
	if err != nil {
		t.Fatal(err)
	}

	msgs, err := s.RecentMessages(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].MessageID != "m1@x" || msgs[0].Subject != "Subject m1@x" {
		t.Errorf("fields erased on conflict: %+v", msgs[0])
	}
}

func TestSeenAfterFiling(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedMessage(t, s, "INBOX", 1, "m1@x")
	seen, err := s.Seen(ctx, "INBOX", 1)
	if err != nil {
		t.Fatal(err)
	}
	if seen {
		t.Error("message seen before filing")
	}

	if err := s.SetFilingResult(ctx, "INBOX", 1, "Receipts", store.FilingMoved); err != nil {
		t.Fatal(err)
	}
	seen, err = s.Seen(ctx, "INBOX", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Error("message not seen after filing")
	}
}

func TestDraftAndCalendarIDs(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedMessage(t, s, "INBOX", 1, "m1@x")

	draftUID, err := s.GetDraftUID(ctx, "INBOX", 1)
	if err != nil {
		t.Fatal(err)
	}
	if draftUID != 0 {
		t.Errorf("draft uid = %d, want 0 before any draft", draftUID)
	}
	// Unknown message also reads as zero, not an error.
	if uid, err := s.GetDraftUID(ctx, "INBOX", 999); err != nil || uid != 0 {
		t.Errorf("unknown message draft uid = (%d, %v)", uid, err)
	}

	if err := s.SetDraftUID(ctx, "INBOX", 1, 77); err != nil {
		t.Fatal(err)
	}
	draftUID, err = s.GetDraftUID(ctx, "INBOX", 1)
	if err != nil {
		t.Fatal(err)
	}
	if draftUID != 77 {
		t.Errorf("draft uid = %d, want 77", draftUID)
	}

	if err := s.SetCalendarEventID(ctx, "INBOX", 1, "evt-1"); err != nil {
		t.Fatal(err)
	}
	eventID, err := s.GetCalendarEventID(ctx, "INBOX", 1)
	if err != nil {
		t.Fatal(err)
	}
	if eventID != "evt-1" {
		t.Errorf("event id = %q, want evt-1", eventID)
	}
}

func TestRetryableUIDs(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedMessage(t, s, "INBOX", 1, "m1@x")
	seedMessage(t, s, "INBOX", 2, "m2@x")
	seedMessage(t, s, "INBOX", 3, "m3@x")

	if err := s.RecordAttempt(ctx, "INBOX", 1, "llm timeout"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordAttempt(ctx, "INBOX", 2, "append failed"); err != nil {
		t.Fatal(err)
	}

	cutoff := time.Now().Add(time.Minute)
	uids, err := s.RetryableUIDs(ctx, "INBOX", cutoff, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(uids) != 2 {
		t.Fatalf("retryable = %v, want uids 1 and 2", uids)
	}

	// Filing a message removes it from the retry set.
	if err := s.SetFilingResult(ctx, "INBOX", 1, "NeedsReview", store.FilingMoved); err != nil {
		t.Fatal(err)
	}
	uids, err = s.RetryableUIDs(ctx, "INBOX", cutoff, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(uids) != 1 || uids[0] != 2 {
		t.Errorf("retryable after filing = %v, want [2]", uids)
	}

	// A cutoff in the past excludes fresh failures.
	uids, err = s.RetryableUIDs(ctx, "INBOX", time.Now().Add(-time.Minute), 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(uids) != 0 {
		t.Errorf("retryable with past cutoff = %v, want none", uids)
	}
}

func TestRecentMessagesOrderedByPriority(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedMessage(t, s, "INBOX", 1, "low@x")
	seedMessage(t, s, "INBOX", 2, "high@x")
	if err := s.SetClassification(ctx, "INBOX", 1, model.ClassificationResult{Category: model.CategoryNewsletters, Confidence: 0.9}, 5); err != nil {
		t.Fatal(err)
	}
	if err := s.SetClassification(ctx, "INBOX", 2, model.ClassificationResult{Category: model.CategoryToReply, Confidence: 0.9}, 80); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.RecentMessages(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].UID != 2 {
		t.Errorf("messages = %+v, want highest priority first", msgs)
	}
}

func TestRecentCategoryCounts(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedMessage(t, s, "INBOX", 1, "a@x")
	seedMessage(t, s, "INBOX", 2, "b@x")
	seedMessage(t, s, "INBOX", 3, "c@x")
	for _, uid := range []uint32{1, 2} {
		if err := s.SetClassification(ctx, "INBOX", uid, model.ClassificationResult{Category: model.CategoryReceipts, Confidence: 0.9}, 0); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := s.RecentCategoryCounts(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 {
		t.Fatalf("counts = %+v, want 2 rows", counts)
	}
	if counts[0].Category != "Receipts" || counts[0].Count != 2 {
		t.Errorf("top count = %+v", counts[0])
	}
	if counts[1].Category != "Unknown" || counts[1].Count != 1 {
		t.Errorf("unclassified count = %+v", counts[1])
	}
}

func TestPendingReplyMessages(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedMessage(t, s, "INBOX", 1, "pending@x")
	seedMessage(t, s, "INBOX", 2, "drafted@x")
	for _, uid := range []uint32{1, 2} {
		if err := s.SetClassification(ctx, "INBOX", uid, model.ClassificationResult{
			Category: model.CategoryToReply, Confidence: 0.9, ReplyNeeded: true,
		}, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetDraftUID(ctx, "INBOX", 2, 55); err != nil {
		t.Fatal(err)
	}

	pending, err := s.PendingReplyMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].UID != 1 {
		t.Errorf("pending = %+v, want only the undrafted message", pending)
	}
}

func TestReplyCandidatesAndMarkReplied(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	seedMessage(t, s, "INBOX", 1, "orig@x")
	if err := s.SetClassification(ctx, "INBOX", 1, model.ClassificationResult{
		Category: model.CategoryToReply, Confidence: 0.9, ReplyNeeded: true,
	}, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFilingResult(ctx, "INBOX", 1, "ToReply", store.FilingMoved); err != nil {
		t.Fatal(err)
	}

	candidates, err := s.ReplyCandidates(ctx, "ToReply")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 || candidates[0].MessageID != "orig@x" {
		t.Fatalf("candidates = %+v", candidates)
	}

	if err := s.MarkReplied(ctx, "INBOX", 1, "Replied"); err != nil {
		t.Fatal(err)
	}
	candidates, err = s.ReplyCandidates(ctx, "ToReply")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 0 {
		t.Errorf("candidates after mark = %+v, want none", candidates)
	}
}

func TestRepliedMoveLog(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	old := store.RepliedMove{MessageID: "old@x", Subject: "Old", FromAddr: "a@x", MovedAt: time.Now().Add(-2 * time.Hour)}
	recent := store.RepliedMove{MessageID: "new@x", Subject: "New", FromAddr: "b@x", MovedAt: time.Now()}
	if err := s.RecordRepliedMove(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordRepliedMove(ctx, recent); err != nil {
		t.Fatal(err)
	}

	moves, err := s.RepliedMovesSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(moves) != 1 || moves[0].MessageID != "new@x" {
		t.Errorf("moves = %+v, want only the recent one", moves)
	}
}

func TestTaskRunDedup(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	ran, err := s.HasRun(ctx, "daily_recap", "2026-01-12")
	if err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Error("unrecorded run reported as done")
	}

	// A failed run does not consume the bucket.
	if err := s.RecordRun(ctx, "daily_recap", "2026-01-12", store.RunFailed, time.Now()); err != nil {
		t.Fatal(err)
	}
	ran, err = s.HasRun(ctx, "daily_recap", "2026-01-12")
	if err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Error("failed run must leave the bucket open for retry")
	}

	// The retry's success overwrites it.
	if err := s.RecordRun(ctx, "daily_recap", "2026-01-12", store.RunSuccess, time.Now()); err != nil {
		t.Fatal(err)
	}
	ran, err = s.HasRun(ctx, "daily_recap", "2026-01-12")
	if err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("successful run not recorded")
	}

	// Another bucket is independent.
	ran, err = s.HasRun(ctx, "daily_recap", "2026-01-13")
	if err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Error("bucket leak across dates")
	}
}
