package reconcile

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasantoro97/postino/internal/mail"
	"github.com/lucasantoro97/postino/internal/model"
	"github.com/lucasantoro97/postino/internal/store"
)

// subjectFetchLimit bounds how many Sent messages are fetched when
// correlating a candidate by subject instead of by thread headers.
const subjectFetchLimit = 10

var replyPrefixPattern = regexp.MustCompile(`(?i)^\s*((re|fwd?|aw|r)\s*:\s*)+`)

// Reconciler clears replied messages out of the ToReply holding folder.
// It scans the Sent folder for replies correlated with each pending
// candidate, moves matched originals into the Replied folder, and records
// the move so the reply digest can report it.
type Reconciler struct {
	cfg   *model.Config
	store store.Store
	mail  mail.Gateway
	log   *zap.Logger
	now   func() time.Time
}

// New creates a reconciler over the given collaborators.
func New(cfg *model.Config, st store.Store, gw mail.Gateway, log *zap.Logger) *Reconciler {
	return &Reconciler{cfg: cfg, store: st, mail: gw, log: log, now: time.Now}
}

// Run performs one reconciliation pass. Per-candidate failures are logged
// and skipped; the candidate stays pending for the next pass.
func (r *Reconciler) Run(ctx context.Context, _ time.Time) error {
	cfg := r.cfg
	if cfg.IMAP.FolderSent == "" {
		return nil
	}
	toReplyFolder := cfg.ClassificationFolder(model.CategoryToReply)
	repliedFolder := cfg.IMAP.FolderReplied

	candidates, err := r.store.ReplyCandidates(ctx, toReplyFolder)
	if err != nil {
		return fmt.Errorf("loading reply candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	matched := make([]store.ReplyCandidate, 0, len(candidates))
	for _, c := range candidates {
		ok, err := r.correlate(c)
		if err != nil {
			r.log.Warn("sent folder scan failed",
				zap.String("message_id", c.MessageID), zap.Error(err))
			continue
		}
		if ok {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	if cfg.IMAP.CreateFoldersOnStartup {
		if err := r.mail.EnsureFolder(repliedFolder); err != nil {
			return fmt.Errorf("ensuring folder %s: %w", repliedFolder, err)
		}
	}

	for _, c := range matched {
		if err := r.moveReplied(ctx, c, toReplyFolder, repliedFolder); err != nil {
			r.log.Warn("moving replied message failed",
				zap.String("message_id", c.MessageID), zap.Error(err))
		}
	}
	return nil
}

// correlate reports whether the Sent folder holds a reply to the
// candidate: a message threading back to its message id, or one whose
// normalized subject matches and which was addressed to the original
// sender.
func (r *Reconciler) correlate(c store.ReplyCandidate) (bool, error) {
	sent := r.cfg.IMAP.FolderSent

	if c.MessageID != "" {
		inReply, err := r.mail.SearchHeader(sent, "In-Reply-To", c.MessageID)
		if err != nil {
			return false, err
		}
		if len(inReply) > 0 {
			return true, nil
		}
		refs, err := r.mail.SearchHeader(sent, "References", c.MessageID)
		if err != nil {
			return false, err
		}
		if len(refs) > 0 {
			return true, nil
		}
	}

	return r.correlateBySubject(c)
}

// correlateBySubject matches a Sent message whose subject reduces to the
// candidate's and whose recipients include the candidate's sender. This
// covers clients that drop threading headers when replying.
func (r *Reconciler) correlateBySubject(c store.ReplyCandidate) (bool, error) {
	subject := NormalizeSubject(c.Subject)
	sender := strings.ToLower(strings.TrimSpace(c.FromAddr))
	if subject == "" || sender == "" {
		return false, nil
	}

	uids, err := r.mail.SearchHeader(r.cfg.IMAP.FolderSent, "Subject", subject)
	if err != nil {
		return false, err
	}
	for i, uid := range uids {
		if i >= subjectFetchLimit {
			break
		}
		msg, err := r.mail.Fetch(r.cfg.IMAP.FolderSent, uid)
		if err != nil {
			if mail.IsNotFound(err) {
				continue
			}
			return false, err
		}
		meta, _, _ := mail.ParseMessage(msg.Raw, r.cfg.IMAP.FolderSent, uid)
		if NormalizeSubject(meta.Subject) != subject {
			continue
		}
		for _, addr := range append(meta.ToAddrs, meta.CcAddrs...) {
			if strings.ToLower(strings.TrimSpace(addr)) == sender {
				return true, nil
			}
		}
	}
	return false, nil
}

// moveReplied relocates one matched candidate out of ToReply and records
// the move. When the message cannot be located any more it is marked
// replied in state only, so it stops coming back as a candidate.
func (r *Reconciler) moveReplied(ctx context.Context, c store.ReplyCandidate, toReplyFolder, repliedFolder string) error {
	var uids []uint32
	var err error
	if c.MessageID != "" {
		uids, err = r.mail.SearchHeader(toReplyFolder, "Message-ID", c.MessageID)
	} else {
		uids, err = r.mail.SearchHeader(toReplyFolder, "Subject", NormalizeSubject(c.Subject))
	}
	if err != nil {
		return fmt.Errorf("locating message in %s: %w", toReplyFolder, err)
	}

	if len(uids) == 0 {
		r.log.Info("replied message not found in folder",
			zap.String("message_id", c.MessageID),
			zap.String("folder", toReplyFolder))
	} else if err := r.mail.Move(toReplyFolder, uids[0], repliedFolder); err != nil {
		return fmt.Errorf("moving to %s: %w", repliedFolder, err)
	}

	if err := r.store.MarkReplied(ctx, c.Folder, c.UID, repliedFolder); err != nil {
		return fmt.Errorf("marking replied: %w", err)
	}
	if err := r.store.RecordRepliedMove(ctx, store.RepliedMove{
		MessageID: c.MessageID,
		Subject:   c.Subject,
		FromAddr:  c.FromAddr,
		MovedAt:   r.now(),
	}); err != nil {
		return fmt.Errorf("recording replied move: %w", err)
	}
	r.log.Info("replied message reconciled",
		zap.String("message_id", c.MessageID),
		zap.String("dest", repliedFolder))
	return nil
}

// NormalizeSubject lowers the subject and strips stacked reply and
// forward prefixes.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	s = replyPrefixPattern.ReplaceAllString(s, "")
	return strings.ToLower(strings.TrimSpace(s))
}
