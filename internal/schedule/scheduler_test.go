package schedule

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lucasantoro97/postino/internal/mail"
	"github.com/lucasantoro97/postino/internal/model"
	"github.com/lucasantoro97/postino/internal/store"
)

type runKey struct {
	task   string
	bucket string
}

type fakeStore struct {
	store.Store

	runs     map[runKey]string
	recent   []store.MessageSummary
	pending  []store.MessageSummary
	calendar []store.MessageSummary
	drafts   []store.MessageSummary
	counts   []store.CategoryCount
	moves    []store.RepliedMove
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: make(map[runKey]string)}
}

func (s *fakeStore) HasRun(_ context.Context, task, bucket string) (bool, error) {
	return s.runs[runKey{task, bucket}] == store.RunSuccess, nil
}

func (s *fakeStore) RecordRun(_ context.Context, task, bucket, status string, _ time.Time) error {
	s.runs[runKey{task, bucket}] = status
	return nil
}

func (s *fakeStore) RecentMessages(context.Context, time.Time) ([]store.MessageSummary, error) {
	return s.recent, nil
}

func (s *fakeStore) PendingReplyMessages(context.Context) ([]store.MessageSummary, error) {
	return s.pending, nil
}

func (s *fakeStore) RecentCalendarMessages(context.Context, time.Time) ([]store.MessageSummary, error) {
	return s.calendar, nil
}

func (s *fakeStore) RecentDraftMessages(context.Context, time.Time) ([]store.MessageSummary, error) {
	return s.drafts, nil
}

func (s *fakeStore) RecentCategoryCounts(context.Context, time.Time) ([]store.CategoryCount, error) {
	return s.counts, nil
}

func (s *fakeStore) RepliedMovesSince(context.Context, time.Time) ([]store.RepliedMove, error) {
	return s.moves, nil
}

type appendCall struct {
	folder string
	raw    []byte
	flags  []string
}

type fakeGateway struct {
	appends []appendCall
	err     error
}

func (g *fakeGateway) EnsureFolder(string) error                           { return nil }
func (g *fakeGateway) SearchSinceUID(string, uint32) ([]uint32, error)     { return nil, nil }
func (g *fakeGateway) SearchSinceDate(string, time.Time) ([]uint32, error) { return nil, nil }
func (g *fakeGateway) SearchAll(string) ([]uint32, error)                  { return nil, nil }
func (g *fakeGateway) SearchHeader(string, string, string) ([]uint32, error) {
	return nil, nil
}
func (g *fakeGateway) Fetch(string, uint32) (*mail.FetchedMessage, error) { return nil, nil }
func (g *fakeGateway) Move(string, uint32, string) error                  { return nil }
func (g *fakeGateway) Copy(string, uint32, string) error                  { return nil }

func (g *fakeGateway) Append(folder string, raw []byte, flags []string) (uint32, error) {
	if g.err != nil {
		return 0, g.err
	}
	g.appends = append(g.appends, appendCall{folder, raw, flags})
	return uint32(100 + len(g.appends)), nil
}

func schedulerConfig() *model.Config {
	return &model.Config{
		Timezone: "UTC",
		IMAP: model.IMAPConfig{
			Username:     "me@example.com",
			FolderInbox:  "INBOX",
			FolderDrafts: "Drafts",
			FolderSent:   "Sent",
		},
		Tasks: model.TasksConfig{
			ExecutiveBrief: model.TaskConfig{Enabled: true, TimeLocal: "07:30", LookbackHours: 24, SubjectPrefix: "[Executive Brief]"},
			DailyRecap:     model.TaskConfig{Enabled: true, TimeLocal: "18:00", LookbackHours: 24, SubjectPrefix: "[Daily Recap]"},
			WeeklyRecap:    model.TaskConfig{Enabled: true, DayLocal: "Mon", TimeLocal: "08:00", LookbackDays: 7, SubjectPrefix: "[Weekly Recap]"},
			ReplyDigest:    model.TaskConfig{Enabled: true, IntervalMinutes: 60, LookbackMinutes: 60, SubjectPrefix: "[Reply Digest]"},
			Reconcile:      model.TaskConfig{Enabled: true, IntervalMinutes: 1},
		},
	}
}

func newTestScheduler(t *testing.T, cfg *model.Config, st *fakeStore, gw *fakeGateway, reconcile TaskFunc) *Scheduler {
	t.Helper()
	log := zap.NewNop()
	reporter := NewReporter(cfg, st, gw, log)
	if reconcile == nil {
		reconcile = func(context.Context, time.Time) error { return nil }
	}
	s, err := New(cfg, st, reporter, reconcile, log)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTickRunsDueTasksOnce(t *testing.T) {
	cfg := schedulerConfig()
	st := newFakeStore()
	gw := &fakeGateway{}
	s := newTestScheduler(t, cfg, st, gw, nil)

	// Monday 19:00 UTC: brief, daily recap, and weekly recap all due,
	// plus one digest window.
	now := time.Date(2026, 1, 12, 19, 0, 0, 0, time.UTC)
	s.Tick(context.Background(), now)

	if len(gw.appends) != 4 {
		t.Fatalf("appends = %d, want 4 (brief, daily, weekly, digest)", len(gw.appends))
	}
	if st.runs[runKey{TaskExecutiveBrief, "2026-01-12"}] != store.RunSuccess {
		t.Error("executive brief run not recorded")
	}
	if st.runs[runKey{TaskWeeklyRecap, "2026-W03"}] != store.RunSuccess {
		t.Error("weekly recap run not recorded")
	}
	if st.runs[runKey{TaskReplyDigest, "2026-01-12T19:00"}] != store.RunSuccess {
		t.Error("reply digest run not recorded")
	}

	// Second tick in the same buckets is a no-op.
	s.Tick(context.Background(), now.Add(5*time.Minute))
	if len(gw.appends) != 4 {
		t.Errorf("appends after second tick = %d, want still 4", len(gw.appends))
	}
}

func TestTickBeforeScheduledTimeDoesNothing(t *testing.T) {
	cfg := schedulerConfig()
	cfg.Tasks.ReplyDigest.Enabled = false
	cfg.Tasks.Reconcile.Enabled = false
	st := newFakeStore()
	gw := &fakeGateway{}
	s := newTestScheduler(t, cfg, st, gw, nil)

	now := time.Date(2026, 1, 12, 6, 0, 0, 0, time.UTC)
	s.Tick(context.Background(), now)

	if len(gw.appends) != 0 {
		t.Errorf("appends = %d, want 0 before any scheduled time", len(gw.appends))
	}
}

func TestTickDisabledTaskSkipped(t *testing.T) {
	cfg := schedulerConfig()
	cfg.Tasks.ExecutiveBrief.Enabled = false
	cfg.Tasks.DailyRecap.Enabled = false
	cfg.Tasks.WeeklyRecap.Enabled = false
	cfg.Tasks.ReplyDigest.Enabled = false
	st := newFakeStore()
	gw := &fakeGateway{}

	reconciled := 0
	s := newTestScheduler(t, cfg, st, gw, func(context.Context, time.Time) error {
		reconciled++
		return nil
	})

	s.Tick(context.Background(), time.Date(2026, 1, 12, 19, 0, 0, 0, time.UTC))

	if len(gw.appends) != 0 {
		t.Errorf("appends = %d, want 0 with reports disabled", len(gw.appends))
	}
	if reconciled != 1 {
		t.Errorf("reconcile ran %d times, want 1", reconciled)
	}
}

func TestTickFailedRunRetriesWithinBucket(t *testing.T) {
	cfg := schedulerConfig()
	cfg.Tasks.DailyRecap.Enabled = false
	cfg.Tasks.WeeklyRecap.Enabled = false
	cfg.Tasks.ReplyDigest.Enabled = false
	cfg.Tasks.Reconcile.Enabled = false
	st := newFakeStore()
	gw := &fakeGateway{err: errors.New("append refused")}
	s := newTestScheduler(t, cfg, st, gw, nil)

	now := time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)
	s.Tick(context.Background(), now)

	key := runKey{TaskExecutiveBrief, "2026-01-12"}
	if st.runs[key] != store.RunFailed {
		t.Fatalf("run status = %q, want failed", st.runs[key])
	}

	// The append starts working; the same bucket retries.
	gw.err = nil
	s.Tick(context.Background(), now.Add(time.Minute))
	if st.runs[key] != store.RunSuccess {
		t.Errorf("run status after retry = %q, want success", st.runs[key])
	}
	if len(gw.appends) != 1 {
		t.Errorf("appends = %d, want 1", len(gw.appends))
	}
}

func TestReportRouting(t *testing.T) {
	cfg := schedulerConfig()
	cfg.Tasks.Reconcile.Enabled = false
	st := newFakeStore()
	gw := &fakeGateway{}
	s := newTestScheduler(t, cfg, st, gw, nil)

	s.Tick(context.Background(), time.Date(2026, 1, 12, 19, 0, 0, 0, time.UTC))

	var draftCount, sentCount int
	for _, a := range gw.appends {
		switch a.folder {
		case "Drafts":
			draftCount++
			if a.flags[0] != "\\Draft" {
				t.Errorf("draft folder append flags = %v", a.flags)
			}
		case "Sent":
			sentCount++
			if a.flags[0] != "\\Seen" {
				t.Errorf("sent folder append flags = %v", a.flags)
			}
		default:
			t.Errorf("unexpected append folder %q", a.folder)
		}
	}
	if draftCount != 3 || sentCount != 1 {
		t.Errorf("drafts = %d, sent = %d, want 3 and 1", draftCount, sentCount)
	}
}

func TestExecutiveBriefBody(t *testing.T) {
	cfg := schedulerConfig()
	st := newFakeStore()
	st.recent = []store.MessageSummary{
		{UID: 4, Subject: "Quarterly numbers", FromAddr: "cfo@corp.com", Category: "ToReply", FilingFolder: "ToReply"},
	}
	st.pending = []store.MessageSummary{
		{UID: 9, Subject: "Contract question", FromAddr: "legal@corp.com", Category: "ToReply", Folder: "INBOX"},
	}
	reporter := NewReporter(cfg, st, &fakeGateway{}, zap.NewNop())

	rep, err := reporter.BuildExecutiveBrief(context.Background(), time.Date(2026, 1, 12, 7, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	if rep.Subject != "[Executive Brief] 2026-01-12" {
		t.Errorf("subject = %q", rep.Subject)
	}
	for _, want := range []string{
		"Executive Brief — 2026-01-12",
		"- [ToReply] Quarterly numbers — cfo@corp.com (folder=ToReply, uid=4)",
		"Pending replies (no draft yet):",
		"- [ToReply] Contract question — legal@corp.com (folder=INBOX, uid=9)",
		"Risks/alerts:",
	} {
		if !strings.Contains(rep.Body, want) {
			t.Errorf("body missing %q\n%s", want, rep.Body)
		}
	}
}

func TestDailyRecapBodyEmpty(t *testing.T) {
	cfg := schedulerConfig()
	reporter := NewReporter(cfg, newFakeStore(), &fakeGateway{}, zap.NewNop())

	rep, err := reporter.BuildDailyRecap(context.Background(), time.Date(2026, 1, 12, 18, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"- No activity.", "Calendar items created:", "- None."} {
		if !strings.Contains(rep.Body, want) {
			t.Errorf("body missing %q\n%s", want, rep.Body)
		}
	}
}

func TestWeeklyRecapSubjectUsesWeekKey(t *testing.T) {
	cfg := schedulerConfig()
	st := newFakeStore()
	st.counts = []store.CategoryCount{{Category: "Newsletters", Count: 12}}
	reporter := NewReporter(cfg, st, &fakeGateway{}, zap.NewNop())

	rep, err := reporter.BuildWeeklyRecap(context.Background(), time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	if rep.Subject != "[Weekly Recap] 2026-W03" {
		t.Errorf("subject = %q", rep.Subject)
	}
	if !strings.Contains(rep.Body, "- Newsletters: 12") {
		t.Errorf("body missing count line\n%s", rep.Body)
	}
}

func TestReplyDigestBody(t *testing.T) {
	cfg := schedulerConfig()
	st := newFakeStore()
	st.moves = []store.RepliedMove{
		{MessageID: "a@x", Subject: "Re: invoice", FromAddr: "billing@corp.com"},
	}
	reporter := NewReporter(cfg, st, &fakeGateway{}, zap.NewNop())

	rep, err := reporter.BuildReplyDigest(context.Background(), time.Date(2026, 1, 12, 14, 37, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	if rep.Subject != "[Reply Digest] 2026-01-12 14:00" {
		t.Errorf("subject = %q", rep.Subject)
	}
	if !strings.Contains(rep.Body, "- Re: invoice — billing@corp.com") {
		t.Errorf("body missing move line\n%s", rep.Body)
	}

	st.moves = nil
	rep, err = reporter.BuildReplyDigest(context.Background(), time.Date(2026, 1, 12, 14, 37, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rep.Body, "No replied messages were removed from ToReply in the last 60 minutes.") {
		t.Errorf("empty digest body wrong\n%s", rep.Body)
	}
}
