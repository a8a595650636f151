package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasantoro97/postino/internal/calendar"
	"github.com/lucasantoro97/postino/internal/llm"
	"github.com/lucasantoro97/postino/internal/mail"
	"github.com/lucasantoro97/postino/internal/model"
	"github.com/lucasantoro97/postino/internal/store"
)

// Deps bundles the collaborators of one pipeline instance. Calendar may be
// nil, in which case event creation is skipped with a log line.
type Deps struct {
	Cfg      *model.Config
	Store    store.Store
	Mail     mail.Gateway
	LLM      llm.Client
	Calendar calendar.Client
	Log      *zap.Logger
	Now      func() time.Time
}

// Pipeline runs the per-message decision sequence: score, classify,
// decide, draft, extract, validate, create event, file, record.
type Pipeline struct {
	deps Deps
}

// New creates a pipeline over the given collaborators.
func New(deps Deps) *Pipeline {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{deps: deps}
}

// Context is the mutable state of a single message moving through the
// pipeline. Each instance is owned by exactly one ProcessUID call.
type Context struct {
	Meta        model.EmailMeta
	Text        string
	Fingerprint string
	Flags       []string

	Priority     int
	PriorityTags []string

	Classification model.ClassificationResult
	Plan           model.ActionPlan
	FilingFolder   string

	DraftUID        uint32
	EventCandidates []model.EventCandidate
	ValidatedEvent  *model.ValidatedEvent
	EventReject     string
	CalendarEventID string
	FilingStatus    string
}

// ProcessUID runs the full pipeline for one inbox message. Failures of a
// side-effecting step record an attempt so the poll loop retries later;
// classification failures fall open to NeedsReview and never block filing.
func (p *Pipeline) ProcessUID(ctx context.Context, uid uint32) error {
	cfg := p.deps.Cfg
	log := p.deps.Log
	inbox := cfg.IMAP.FolderInbox

	seen, err := p.deps.Store.Seen(ctx, inbox, uid)
	if err != nil {
		return fmt.Errorf("checking processed state %s/%d: %w", inbox, uid, err)
	}
	if seen {
		log.Debug("message already processed", zap.Uint32("uid", uid))
		return nil
	}

	msg, err := p.deps.Mail.Fetch(inbox, uid)
	if mail.IsNotFound(err) {
		// Expunged or moved between SEARCH and FETCH, or a stale retry
		// entry. Mark it filed in place to stop retry churn.
		log.Info("message missing on fetch, skipping",
			zap.Uint32("uid", uid), zap.String("folder", inbox))
		return p.deps.Store.SetFilingResult(ctx, inbox, uid, inbox, store.FilingMoved)
	}
	if err != nil {
		return fmt.Errorf("fetching %s/%d: %w", inbox, uid, err)
	}

	meta, text, fingerprint := mail.ParseMessage(msg.Raw, inbox, uid)
	log.Info("message fetched",
		zap.Uint32("uid", uid),
		zap.String("folder", inbox),
		zap.String("message_id", meta.MessageID))

	if err := p.deps.Store.UpsertMessageBase(ctx, store.MessageBase{
		Folder:      meta.Folder,
		UID:         meta.UID,
		MessageID:   meta.MessageID,
		Subject:     meta.Subject,
		FromAddr:    meta.FromAddr,
		Date:        meta.Date,
		Fingerprint: fingerprint,
	}); err != nil {
		return fmt.Errorf("recording message base: %w", err)
	}

	if cfg.IMAP.SkipAnswered && mail.HasAnsweredFlag(msg.Flags) {
		log.Info("skipping answered message",
			zap.Uint32("uid", uid), zap.Strings("flags", msg.Flags))
		return p.deps.Store.SetFilingResult(ctx, inbox, uid, inbox, store.FilingSkipped)
	}

	pc := &Context{Meta: meta, Text: text, Fingerprint: fingerprint, Flags: msg.Flags}
	if err := p.run(ctx, pc); err != nil {
		if rerr := p.deps.Store.RecordAttempt(ctx, inbox, uid, err.Error()); rerr != nil {
			log.Error("recording attempt failed", zap.Error(rerr))
		}
		return err
	}
	return nil
}

// run executes the pipeline stages against pc.
func (p *Pipeline) run(ctx context.Context, pc *Context) error {
	p.score(pc)
	p.classify(ctx, pc)
	p.decide(pc)
	if err := p.draft(ctx, pc); err != nil {
		return err
	}
	p.extractEvents(ctx, pc)
	p.validateEvent(pc)
	p.createCalendarEvent(ctx, pc)
	if err := p.file(ctx, pc); err != nil {
		return err
	}
	return p.record(ctx, pc)
}

func (p *Pipeline) score(pc *Context) {
	pc.Priority, pc.PriorityTags = ComputePriority(pc.Meta, pc.Text, p.deps.Cfg.VIPSenders)
}

// classify delegates to the language model and falls open to NeedsReview
// on any failure so the message still gets filed somewhere reviewable.
func (p *Pipeline) classify(ctx context.Context, pc *Context) {
	cls, err := p.deps.LLM.Classify(ctx, pc.Meta, pc.Text)
	if err != nil {
		p.deps.Log.Warn("classification failed, falling back to NeedsReview",
			zap.Uint32("uid", pc.Meta.UID), zap.Error(err))
		cls = model.ClassificationResult{
			Category:   model.CategoryNeedsReview,
			Confidence: 0,
			Rationale:  "classification failed: " + err.Error(),
			Tags:       []string{"fallback"},
		}
	}
	pc.Classification = cls
}

func (p *Pipeline) decide(pc *Context) {
	cfg := p.deps.Cfg
	pc.Classification = ApplyConfidenceThreshold(pc.Classification, cfg.Classification.ConfidenceThreshold)
	pc.Plan = DecideActions(pc.Classification)
	if cfg.Classification.DeadlineRegexFallback {
		var forced bool
		pc.Plan, forced = applyDeadlineFallback(pc.Plan, pc.Text)
		if forced {
			p.deps.Log.Info("deadline heuristic forced event extraction",
				zap.Uint32("uid", pc.Meta.UID))
		}
	}
	pc.FilingFolder = cfg.ClassificationFolder(pc.Classification.Category)
}

// draft composes a reply draft and appends it to the Drafts folder. Guards
// keep the agent from drafting for messages the user was not addressed on,
// already answered, or already replied to in Sent.
func (p *Pipeline) draft(ctx context.Context, pc *Context) error {
	if !pc.Plan.CreateDraft {
		return nil
	}
	cfg := p.deps.Cfg
	log := p.deps.Log
	meta := pc.Meta

	if !isAddressedToUser(meta, cfg.IMAP.Username) {
		log.Info("skipping draft, message not addressed to account",
			zap.Uint32("uid", meta.UID))
		return nil
	}
	if mail.HasAnsweredFlag(pc.Flags) {
		log.Info("skipping draft, message already answered", zap.Uint32("uid", meta.UID))
		return nil
	}
	if cfg.IMAP.FolderSent != "" && meta.MessageID != "" {
		if replied, err := p.sentReferences(meta.MessageID); err != nil {
			log.Warn("sent folder scan failed", zap.Error(err))
		} else if replied {
			log.Info("skipping draft, reply found in sent folder",
				zap.Uint32("uid", meta.UID))
			return nil
		}
	}

	existing, err := p.deps.Store.GetDraftUID(ctx, meta.Folder, meta.UID)
	if err != nil {
		return fmt.Errorf("loading existing draft uid: %w", err)
	}
	if existing != 0 {
		pc.DraftUID = existing
		return nil
	}

	latest := extractLatestText(strings.TrimSpace(pc.Text))
	draft, err := p.deps.LLM.DraftReply(ctx, meta, latest)
	if err != nil {
		return fmt.Errorf("drafting reply: %w", err)
	}
	if !hasMeaningfulReply(draft.Body) {
		draft.Body = fallbackDraftBody(llm.DetectLanguage(latest, meta.Subject))
	}
	draft.CcAddrs = computeReplyAllCC(meta, cfg.IMAP.Username)
	if latest != "" {
		draft.Body = strings.TrimRight(draft.Body, " \n") + "\n\n" + formatOriginalContext(meta, latest)
	}

	raw, err := mail.BuildReply(cfg.IMAP.Username, draft)
	if err != nil {
		return fmt.Errorf("building reply message: %w", err)
	}
	draftUID, err := p.deps.Mail.Append(cfg.IMAP.FolderDrafts, raw, []string{"\\Draft"})
	if err != nil {
		return fmt.Errorf("appending draft: %w", err)
	}
	if err := p.deps.Store.SetDraftUID(ctx, meta.Folder, meta.UID, draftUID); err != nil {
		return fmt.Errorf("recording draft uid: %w", err)
	}
	pc.DraftUID = draftUID
	log.Info("draft created", zap.Uint32("uid", meta.UID), zap.Uint32("draft_uid", draftUID))
	return nil
}

// sentReferences reports whether the Sent folder holds a message replying
// to the given message id.
func (p *Pipeline) sentReferences(messageID string) (bool, error) {
	sent := p.deps.Cfg.IMAP.FolderSent
	inReply, err := p.deps.Mail.SearchHeader(sent, "In-Reply-To", messageID)
	if err != nil {
		return false, err
	}
	if len(inReply) > 0 {
		return true, nil
	}
	refs, err := p.deps.Mail.SearchHeader(sent, "References", messageID)
	if err != nil {
		return false, err
	}
	return len(refs) > 0, nil
}

// extractEvents asks the model for candidates. Extraction failures are
// non-fatal: the message still gets filed, just without an event.
func (p *Pipeline) extractEvents(ctx context.Context, pc *Context) {
	if !pc.Plan.ExtractEvent {
		return
	}
	candidates, err := p.deps.LLM.ExtractEvents(ctx, pc.Meta, pc.Text)
	if err != nil {
		p.deps.Log.Warn("event extraction failed",
			zap.Uint32("uid", pc.Meta.UID), zap.Error(err))
		return
	}
	pc.EventCandidates = candidates
}

func (p *Pipeline) validateEvent(pc *Context) {
	if len(pc.EventCandidates) == 0 {
		pc.EventReject = "no-candidates"
		return
	}
	loc, err := p.deps.Cfg.Location()
	if err != nil {
		loc = time.UTC
	}
	event, reason, ok := ValidateEvent(pc.EventCandidates[0], loc, p.deps.Now())
	if !ok {
		p.deps.Log.Info("event candidate rejected",
			zap.Uint32("uid", pc.Meta.UID), zap.String("reason", reason))
		pc.EventReject = reason
		return
	}
	if event.Location == "" {
		if links := mail.MeetingLinks(pc.Text); len(links) > 0 {
			event.Location = links[0]
		}
	}
	pc.ValidatedEvent = &event
}

// createCalendarEvent inserts the validated event. Failures are logged and
// swallowed: filing must not depend on the calendar collaborator.
func (p *Pipeline) createCalendarEvent(ctx context.Context, pc *Context) {
	if !pc.Plan.CreateCalendarEvent {
		return
	}
	meta := pc.Meta
	log := p.deps.Log

	existing, err := p.deps.Store.GetCalendarEventID(ctx, meta.Folder, meta.UID)
	if err != nil {
		log.Warn("loading calendar event id failed", zap.Error(err))
		return
	}
	if existing != "" {
		pc.CalendarEventID = existing
		return
	}
	if pc.ValidatedEvent == nil {
		return
	}
	if p.deps.Calendar == nil {
		log.Info("calendar not configured, skipping event creation",
			zap.Uint32("uid", meta.UID))
		return
	}

	var contextLines []string
	if meta.Subject != "" {
		contextLines = append(contextLines, "Subject: "+meta.Subject)
	}
	if meta.FromAddr != "" {
		contextLines = append(contextLines, "From: "+meta.FromAddr)
	}
	if meta.Date != "" {
		contextLines = append(contextLines, "Date: "+meta.Date)
	}
	if meta.MessageID != "" {
		contextLines = append(contextLines, "Email Message-ID: "+meta.MessageID)
	}

	eventID, err := p.deps.Calendar.CreateEvent(ctx, *pc.ValidatedEvent, strings.Join(contextLines, "\n"))
	if err != nil {
		log.Error("calendar event creation failed",
			zap.Uint32("uid", meta.UID), zap.Error(err))
		return
	}
	if err := p.deps.Store.SetCalendarEventID(ctx, meta.Folder, meta.UID, eventID); err != nil {
		log.Error("recording calendar event id failed", zap.Error(err))
		return
	}
	pc.CalendarEventID = eventID
	log.Info("calendar event created",
		zap.Uint32("uid", meta.UID), zap.String("event_id", eventID))
}

// file moves or copies the message into its target folder.
func (p *Pipeline) file(ctx context.Context, pc *Context) error {
	if !pc.Plan.FileEmail {
		return nil
	}
	cfg := p.deps.Cfg
	meta := pc.Meta
	dest := pc.FilingFolder

	if cfg.IMAP.CreateFoldersOnStartup {
		if err := p.deps.Mail.EnsureFolder(dest); err != nil {
			return fmt.Errorf("ensuring folder %s: %w", dest, err)
		}
	}

	if model.FilingMode(cfg.IMAP.FilingMode) == model.FilingCopy {
		if err := p.deps.Mail.Copy(meta.Folder, meta.UID, dest); err != nil {
			return fmt.Errorf("copying to %s: %w", dest, err)
		}
		pc.FilingStatus = store.FilingCopied
	} else {
		if err := p.deps.Mail.Move(meta.Folder, meta.UID, dest); err != nil {
			return fmt.Errorf("moving to %s: %w", dest, err)
		}
		pc.FilingStatus = store.FilingMoved
	}

	if err := p.deps.Store.SetFilingResult(ctx, meta.Folder, meta.UID, dest, pc.FilingStatus); err != nil {
		return fmt.Errorf("recording filing result: %w", err)
	}
	p.deps.Log.Info("message filed",
		zap.Uint32("uid", meta.UID),
		zap.String("dest", dest),
		zap.String("status", pc.FilingStatus))
	return nil
}

// record persists the classification outcome, completing the message.
func (p *Pipeline) record(ctx context.Context, pc *Context) error {
	if err := p.deps.Store.SetClassification(ctx, pc.Meta.Folder, pc.Meta.UID, pc.Classification, pc.Priority); err != nil {
		return fmt.Errorf("recording classification: %w", err)
	}
	return nil
}
