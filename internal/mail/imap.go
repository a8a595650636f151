package mail

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/lucasantoro97/postino/internal/model"
)

// IMAPGateway implements Gateway over a single authenticated IMAP session
// using go-imap v2. The agent is single-threaded, so one session with
// folder selection tracked locally is enough; the driver reconnects on
// session errors.
type IMAPGateway struct {
	host     string
	port     string
	username string
	password string
	tls      bool

	prefix     string
	autoPrefix bool

	cli      *imapclient.Client
	selected string
	log      *zap.Logger
}

// NewIMAPGateway creates a gateway from configuration. Connect must be
// called before any other operation.
func NewIMAPGateway(cfg model.IMAPConfig, log *zap.Logger) *IMAPGateway {
	return &IMAPGateway{
		host:       cfg.Host,
		port:       cfg.Port,
		username:   cfg.Username,
		password:   cfg.Password,
		tls:        cfg.TLS,
		prefix:     cfg.MailboxPrefix,
		autoPrefix: cfg.MailboxPrefix == "",
		log:        log,
	}
}

// Connect establishes the IMAP session, authenticates, and discovers the
// mailbox namespace prefix when none is configured.
func (g *IMAPGateway) Connect() error {
	addr := g.host + ":" + g.port

	var cli *imapclient.Client
	var err error
	if g.tls {
		cli, err = imapclient.DialTLS(addr, nil)
	} else {
		cli, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := cli.Login(g.username, g.password).Wait(); err != nil {
		_ = cli.Logout().Wait()
		return fmt.Errorf("authenticating %s: %w", g.username, err)
	}

	g.cli = cli
	g.selected = ""
	if g.autoPrefix {
		g.discoverPrefix()
	}
	return nil
}

// Close logs out and drops the session.
func (g *IMAPGateway) Close() error {
	if g.cli == nil {
		return nil
	}
	err := g.cli.Logout().Wait()
	g.cli = nil
	g.selected = ""
	return err
}

// discoverPrefix inspects the mailbox list for an INBOX-rooted namespace
// (Dovecot-style "INBOX.Folder" layouts) and records the prefix so every
// folder operation resolves uniformly.
func (g *IMAPGateway) discoverPrefix() {
	names, err := g.listMailboxes()
	if err != nil {
		g.log.Warn("mailbox list failed during namespace discovery", zap.Error(err))
		return
	}
	for _, sep := range []string{".", "/"} {
		for _, name := range names {
			if name != "INBOX" && strings.HasPrefix(name, "INBOX"+sep) {
				g.prefix = "INBOX" + sep
				g.log.Debug("mailbox namespace detected", zap.String("prefix", g.prefix))
				return
			}
		}
	}
}

// resolve applies the namespace prefix to non-INBOX folder names.
func (g *IMAPGateway) resolve(folder string) string {
	if folder == "" || strings.HasPrefix(strings.ToUpper(folder), "INBOX") {
		return folder
	}
	return g.prefix + folder
}

func (g *IMAPGateway) listMailboxes() ([]string, error) {
	listCmd := g.cli.List("", "*", nil)
	boxes, err := listCmd.Collect()
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}
	names := make([]string, 0, len(boxes))
	for _, box := range boxes {
		names = append(names, box.Mailbox)
	}
	return names, nil
}

// EnsureFolder creates the folder if it does not exist. Idempotent: an
// already-existing folder is not an error.
func (g *IMAPGateway) EnsureFolder(name string) error {
	resolved := g.resolve(name)
	existing, err := g.listMailboxes()
	if err != nil {
		return err
	}
	for _, box := range existing {
		if box == resolved {
			return nil
		}
	}
	if err := g.cli.Create(resolved, nil).Wait(); err != nil {
		if strings.Contains(strings.ToUpper(err.Error()), "ALREADYEXISTS") {
			return nil
		}
		return fmt.Errorf("creating mailbox %s: %w", resolved, err)
	}
	g.log.Info("mailbox created", zap.String("mailbox", resolved))
	return nil
}

// selectFolder selects the folder unless it is already selected.
func (g *IMAPGateway) selectFolder(folder string) error {
	resolved := g.resolve(folder)
	if g.selected == resolved {
		return nil
	}
	if _, err := g.cli.Select(resolved, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", resolved, err)
	}
	g.selected = resolved
	return nil
}

func (g *IMAPGateway) search(folder string, criteria *imap.SearchCriteria) ([]uint32, error) {
	if err := g.selectFolder(folder); err != nil {
		return nil, err
	}
	data, err := g.cli.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", folder, err)
	}
	imapUIDs := data.AllUIDs()
	uids := make([]uint32, 0, len(imapUIDs))
	for _, u := range imapUIDs {
		uids = append(uids, uint32(u))
	}
	return uids, nil
}

// SearchSinceUID returns UIDs strictly greater than lastUID in folder.
func (g *IMAPGateway) SearchSinceUID(folder string, lastUID uint32) ([]uint32, error) {
	var set imap.UIDSet
	set.AddRange(imap.UID(lastUID+1), 0)
	uids, err := g.search(folder, &imap.SearchCriteria{UID: []imap.UIDSet{set}})
	if err != nil {
		return nil, err
	}
	// Servers answer "UID n:*" with at least the last message even when its
	// UID is below the range start; filter it out.
	filtered := uids[:0]
	for _, u := range uids {
		if u > lastUID {
			filtered = append(filtered, u)
		}
	}
	return filtered, nil
}

// SearchSinceDate returns UIDs of messages received since the given date.
func (g *IMAPGateway) SearchSinceDate(folder string, since time.Time) ([]uint32, error) {
	return g.search(folder, &imap.SearchCriteria{Since: since})
}

// SearchAll returns every UID in folder.
func (g *IMAPGateway) SearchAll(folder string) ([]uint32, error) {
	return g.search(folder, &imap.SearchCriteria{})
}

// SearchHeader returns UIDs of messages whose named header contains value.
func (g *IMAPGateway) SearchHeader(folder, header, value string) ([]uint32, error) {
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: header, Value: value}},
	}
	return g.search(folder, criteria)
}

// Fetch retrieves the full message body (peek, so flags are untouched) and
// its flag set. Returns NotFoundError when the UID no longer exists.
func (g *IMAPGateway) Fetch(folder string, uid uint32) (*FetchedMessage, error) {
	if err := g.selectFolder(folder); err != nil {
		return nil, err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := g.cli.Fetch(imap.UIDSetNum(imap.UID(uid)), fetchOpts)

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return nil, &NotFoundError{Folder: folder, UID: uid}
	}

	buf, err := msg.Collect()
	if err != nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("collecting message %s/%d: %w", folder, uid, err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		_ = fetchCmd.Close()
		return nil, &NotFoundError{Folder: folder, UID: uid}
	}

	flags := make([]string, 0, len(buf.Flags))
	for _, f := range buf.Flags {
		flags = append(flags, string(f))
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching %s/%d: %w", folder, uid, err)
	}

	return &FetchedMessage{Raw: raw, Flags: flags}, nil
}

// Move relocates the message into dest. go-imap falls back to
// COPY+STORE+EXPUNGE when the server lacks the MOVE capability.
func (g *IMAPGateway) Move(folder string, uid uint32, dest string) error {
	if err := g.selectFolder(folder); err != nil {
		return err
	}
	if _, err := g.cli.Move(imap.UIDSetNum(imap.UID(uid)), g.resolve(dest)).Wait(); err != nil {
		return fmt.Errorf("moving %s/%d to %s: %w", folder, uid, dest, err)
	}
	return nil
}

// Copy duplicates the message into dest.
func (g *IMAPGateway) Copy(folder string, uid uint32, dest string) error {
	if err := g.selectFolder(folder); err != nil {
		return err
	}
	if _, err := g.cli.Copy(imap.UIDSetNum(imap.UID(uid)), g.resolve(dest)).Wait(); err != nil {
		return fmt.Errorf("copying %s/%d to %s: %w", folder, uid, dest, err)
	}
	return nil
}

// Append stores a raw message into folder with the given flags. The
// returned UID is 0 when the server does not support UIDPLUS.
func (g *IMAPGateway) Append(folder string, raw []byte, flags []string) (uint32, error) {
	imapFlags := make([]imap.Flag, 0, len(flags))
	for _, f := range flags {
		imapFlags = append(imapFlags, imap.Flag(f))
	}

	appendCmd := g.cli.Append(g.resolve(folder), int64(len(raw)), &imap.AppendOptions{
		Flags: imapFlags,
		Time:  time.Now(),
	})
	if _, err := appendCmd.Write(raw); err != nil {
		return 0, fmt.Errorf("writing append to %s: %w", folder, err)
	}
	if err := appendCmd.Close(); err != nil {
		return 0, fmt.Errorf("closing append to %s: %w", folder, err)
	}
	data, err := appendCmd.Wait()
	if err != nil {
		return 0, fmt.Errorf("appending to %s: %w", folder, err)
	}
	return uint32(data.UID), nil
}
