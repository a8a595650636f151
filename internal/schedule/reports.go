package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasantoro97/postino/internal/mail"
	"github.com/lucasantoro97/postino/internal/model"
	"github.com/lucasantoro97/postino/internal/store"
)

// Reporter builds the recurring reports from store history and appends
// them to the agent's own mailbox. Briefs and recaps land in Drafts as
// unsent drafts; the reply digest lands in Sent as a record. Nothing is
// ever delivered to an external recipient.
type Reporter struct {
	cfg   *model.Config
	store store.Store
	mail  mail.Gateway
	log   *zap.Logger
}

// NewReporter creates a reporter over the given collaborators.
func NewReporter(cfg *model.Config, st store.Store, gw mail.Gateway, log *zap.Logger) *Reporter {
	return &Reporter{cfg: cfg, store: st, mail: gw, log: log}
}

// Report is one rendered recurring report.
type Report struct {
	Subject string
	Body    string
}

// BuildExecutiveBrief summarizes recent activity and still-pending replies.
func (r *Reporter) BuildExecutiveBrief(ctx context.Context, nowLocal time.Time) (Report, error) {
	tc := r.cfg.Tasks.ExecutiveBrief
	since := nowLocal.Add(-time.Duration(tc.LookbackHours) * time.Hour)
	recent, err := r.store.RecentMessages(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("loading recent messages: %w", err)
	}
	pending, err := r.store.PendingReplyMessages(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("loading pending replies: %w", err)
	}

	var lines []string
	lines = append(lines, "Executive Brief — "+nowLocal.Format("2006-01-02"), "")

	lines = append(lines, "Top items (last 24h):")
	if len(recent) == 0 {
		lines = append(lines, "- No new processed items in lookback window.")
	} else {
		lines = appendSummaries(lines, recent, 15)
	}
	lines = append(lines, "")

	lines = append(lines, "Pending replies (no draft yet):")
	if len(pending) == 0 {
		lines = append(lines, "- None.")
	} else {
		lines = appendSummaries(lines, pending, 20)
	}
	lines = append(lines, "")

	lines = append(lines, "Risks/alerts:")
	lines = append(lines, "- Review any items tagged with deadlines/money/legal in logs.")

	return Report{
		Subject: tc.SubjectPrefix + " " + nowLocal.Format("2006-01-02"),
		Body:    joinReport(lines),
	}, nil
}

// BuildDailyRecap summarizes the day's activity by category, plus the
// calendar events and drafts the agent produced.
func (r *Reporter) BuildDailyRecap(ctx context.Context, nowLocal time.Time) (Report, error) {
	tc := r.cfg.Tasks.DailyRecap
	since := nowLocal.Add(-time.Duration(tc.LookbackHours) * time.Hour)
	recent, err := r.store.RecentMessages(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("loading recent messages: %w", err)
	}
	calendarMsgs, err := r.store.RecentCalendarMessages(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("loading calendar messages: %w", err)
	}
	drafts, err := r.store.RecentDraftMessages(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("loading draft messages: %w", err)
	}
	counts, err := r.store.RecentCategoryCounts(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("loading category counts: %w", err)
	}

	var lines []string
	lines = append(lines, "Daily Recap — "+nowLocal.Format("2006-01-02"), "")

	lines = append(lines, "Activity summary (last 24h):")
	if len(counts) == 0 {
		lines = append(lines, "- No activity.")
	} else {
		for _, c := range counts {
			lines = append(lines, fmt.Sprintf("- %s: %d", c.Category, c.Count))
		}
	}
	lines = append(lines, "")

	lines = append(lines, "Calendar items created:")
	if len(calendarMsgs) == 0 {
		lines = append(lines, "- None.")
	} else {
		lines = appendSummaries(lines, calendarMsgs, 15)
	}
	lines = append(lines, "")

	lines = append(lines, "Drafts created:")
	if len(drafts) == 0 {
		lines = append(lines, "- None.")
	} else {
		lines = appendSummaries(lines, drafts, 20)
	}
	lines = append(lines, "")

	lines = append(lines, "Top processed items:")
	if len(recent) == 0 {
		lines = append(lines, "- None.")
	} else {
		lines = appendSummaries(lines, recent, 20)
	}

	return Report{
		Subject: tc.SubjectPrefix + " " + nowLocal.Format("2006-01-02"),
		Body:    joinReport(lines),
	}, nil
}

// BuildWeeklyRecap summarizes the week keyed by ISO week number.
func (r *Reporter) BuildWeeklyRecap(ctx context.Context, nowLocal time.Time) (Report, error) {
	tc := r.cfg.Tasks.WeeklyRecap
	since := nowLocal.Add(-time.Duration(tc.LookbackDays) * 24 * time.Hour)
	recent, err := r.store.RecentMessages(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("loading recent messages: %w", err)
	}
	calendarMsgs, err := r.store.RecentCalendarMessages(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("loading calendar messages: %w", err)
	}
	counts, err := r.store.RecentCategoryCounts(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("loading category counts: %w", err)
	}
	weekKey := WeekKey(nowLocal)

	var lines []string
	lines = append(lines, "Weekly Recap — "+weekKey, "")

	lines = append(lines, "Activity summary (last 7 days):")
	if len(counts) == 0 {
		lines = append(lines, "- No activity.")
	} else {
		for _, c := range counts {
			lines = append(lines, fmt.Sprintf("- %s: %d", c.Category, c.Count))
		}
	}
	lines = append(lines, "")

	lines = append(lines, "Calendar items created:")
	if len(calendarMsgs) == 0 {
		lines = append(lines, "- None.")
	} else {
		lines = appendSummaries(lines, calendarMsgs, 25)
	}
	lines = append(lines, "")

	lines = append(lines, "Top processed items:")
	if len(recent) == 0 {
		lines = append(lines, "- None.")
	} else {
		lines = appendSummaries(lines, recent, 30)
	}

	return Report{
		Subject: tc.SubjectPrefix + " " + weekKey,
		Body:    joinReport(lines),
	}, nil
}

// BuildReplyDigest lists the messages reconciliation moved out of ToReply
// during the lookback window.
func (r *Reporter) BuildReplyDigest(ctx context.Context, nowLocal time.Time) (Report, error) {
	tc := r.cfg.Tasks.ReplyDigest
	since := nowLocal.Add(-time.Duration(tc.LookbackMinutes) * time.Minute)
	moves, err := r.store.RepliedMovesSince(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("loading replied moves: %w", err)
	}

	stamp := nowLocal.Format("2006-01-02 15:00")
	var lines []string
	lines = append(lines, "Reply Cleanup Digest — "+stamp, "")
	if len(moves) == 0 {
		lines = append(lines, fmt.Sprintf("No replied messages were removed from ToReply in the last %d minutes.", tc.LookbackMinutes))
	} else {
		lines = append(lines, fmt.Sprintf("Moved out of ToReply (replied) in the last %d minutes:", tc.LookbackMinutes))
		for i, m := range moves {
			if i >= 50 {
				break
			}
			lines = append(lines, fmt.Sprintf("- %s — %s", oneLine(m.Subject), oneLine(m.FromAddr)))
		}
	}

	return Report{
		Subject: tc.SubjectPrefix + " " + stamp,
		Body:    joinReport(lines),
	}, nil
}

// AppendAsDraft writes the report into the Drafts folder as an unsent draft.
func (r *Reporter) AppendAsDraft(toAddr string, rep Report) error {
	return r.appendReport(r.cfg.IMAP.FolderDrafts, []string{"\\Draft"}, toAddr, rep)
}

// AppendAsSent writes the report into the Sent folder as a seen record.
func (r *Reporter) AppendAsSent(toAddr string, rep Report) error {
	return r.appendReport(r.cfg.IMAP.FolderSent, []string{"\\Seen"}, toAddr, rep)
}

func (r *Reporter) appendReport(folder string, flags []string, toAddr string, rep Report) error {
	if toAddr == "" {
		toAddr = r.cfg.IMAP.Username
	}
	raw, err := mail.BuildNotice(r.cfg.IMAP.Username, toAddr, rep.Subject, rep.Body)
	if err != nil {
		return fmt.Errorf("building report message: %w", err)
	}
	if err := r.mail.EnsureFolder(folder); err != nil {
		return fmt.Errorf("ensuring folder %s: %w", folder, err)
	}
	uid, err := r.mail.Append(folder, raw, flags)
	if err != nil {
		return fmt.Errorf("appending report to %s: %w", folder, err)
	}
	r.log.Info("report appended",
		zap.String("subject", rep.Subject),
		zap.String("folder", folder),
		zap.Uint32("uid", uid))
	return nil
}

func appendSummaries(lines []string, msgs []store.MessageSummary, limit int) []string {
	for i, m := range msgs {
		if i >= limit {
			break
		}
		lines = append(lines, formatSummary(m))
	}
	return lines
}

// formatSummary renders one report line for a processed message.
func formatSummary(m store.MessageSummary) string {
	cat := m.Category
	if cat == "" {
		cat = "?"
	}
	folder := m.FilingFolder
	if folder == "" {
		folder = m.Folder
	}
	return fmt.Sprintf("- [%s] %s — %s (folder=%s, uid=%d)",
		cat, oneLine(m.Subject), oneLine(m.FromAddr), folder, m.UID)
}

func oneLine(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
}

func joinReport(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}
