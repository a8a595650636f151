package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lucasantoro97/postino/internal/mail"
	"github.com/lucasantoro97/postino/internal/model"
	"github.com/lucasantoro97/postino/internal/store"
)

type fakeStore struct {
	store.Store

	candidates []store.ReplyCandidate
	marked     []string // message ids marked replied
	moves      []store.RepliedMove
}

func (s *fakeStore) ReplyCandidates(context.Context, string) ([]store.ReplyCandidate, error) {
	return s.candidates, nil
}

func (s *fakeStore) MarkReplied(_ context.Context, folder string, uid uint32, _ string) error {
	s.marked = append(s.marked, fmt.Sprintf("%s/%d", folder, uid))
	return nil
}

func (s *fakeStore) RecordRepliedMove(_ context.Context, mv store.RepliedMove) error {
	s.moves = append(s.moves, mv)
	return nil
}

type headerKey struct {
	folder string
	header string
	value  string
}

type fakeGateway struct {
	headerHits map[headerKey][]uint32
	messages   map[uint32][]byte // Sent folder contents for subject correlation
	moved      []string
	ensured    []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		headerHits: make(map[headerKey][]uint32),
		messages:   make(map[uint32][]byte),
	}
}

func (g *fakeGateway) EnsureFolder(name string) error {
	g.ensured = append(g.ensured, name)
	return nil
}

func (g *fakeGateway) SearchSinceUID(string, uint32) ([]uint32, error)     { return nil, nil }
func (g *fakeGateway) SearchSinceDate(string, time.Time) ([]uint32, error) { return nil, nil }
func (g *fakeGateway) SearchAll(string) ([]uint32, error)                  { return nil, nil }

func (g *fakeGateway) SearchHeader(folder, header, value string) ([]uint32, error) {
	return g.headerHits[headerKey{folder, header, value}], nil
}

func (g *fakeGateway) Fetch(folder string, uid uint32) (*mail.FetchedMessage, error) {
	raw, ok := g.messages[uid]
	if !ok {
		return nil, &mail.NotFoundError{Folder: folder, UID: uid}
	}
	return &mail.FetchedMessage{Raw: raw}, nil
}

func (g *fakeGateway) Move(folder string, uid uint32, dest string) error {
	g.moved = append(g.moved, fmt.Sprintf("%s/%d->%s", folder, uid, dest))
	return nil
}

func (g *fakeGateway) Copy(string, uint32, string) error               { return nil }
func (g *fakeGateway) Append(string, []byte, []string) (uint32, error) { return 0, nil }

func reconcileConfig() *model.Config {
	return &model.Config{
		IMAP: model.IMAPConfig{
			Username:               "me@example.com",
			FolderInbox:            "INBOX",
			FolderSent:             "Sent",
			FolderReplied:          "Replied",
			CreateFoldersOnStartup: true,
		},
		Classification: model.ClassificationConfig{
			Folders: model.DefaultClassificationFolders,
		},
	}
}

func TestRunMovesRepliedCandidate(t *testing.T) {
	st := &fakeStore{candidates: []store.ReplyCandidate{
		{Folder: "INBOX", UID: 7, MessageID: "orig@x", Subject: "Proposal", FromAddr: "a@x.com"},
	}}
	gw := newFakeGateway()
	gw.headerHits[headerKey{"Sent", "In-Reply-To", "orig@x"}] = []uint32{201}
	gw.headerHits[headerKey{"ToReply", "Message-ID", "orig@x"}] = []uint32{31}

	r := New(reconcileConfig(), st, gw, zap.NewNop())
	if err := r.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(gw.moved) != 1 || gw.moved[0] != "ToReply/31->Replied" {
		t.Errorf("moved = %v", gw.moved)
	}
	if len(st.marked) != 1 || st.marked[0] != "INBOX/7" {
		t.Errorf("marked = %v", st.marked)
	}
	if len(st.moves) != 1 || st.moves[0].MessageID != "orig@x" {
		t.Errorf("recorded moves = %v", st.moves)
	}
	if len(gw.ensured) == 0 || gw.ensured[0] != "Replied" {
		t.Errorf("ensured = %v", gw.ensured)
	}
}

func TestRunUnmatchedCandidateStaysPending(t *testing.T) {
	st := &fakeStore{candidates: []store.ReplyCandidate{
		{Folder: "INBOX", UID: 7, MessageID: "orig@x", Subject: "Proposal", FromAddr: "a@x.com"},
	}}
	gw := newFakeGateway()

	r := New(reconcileConfig(), st, gw, zap.NewNop())
	if err := r.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(gw.moved) != 0 || len(st.marked) != 0 || len(st.moves) != 0 {
		t.Error("unmatched candidate must stay untouched")
	}
}

func TestRunCorrelatesBySubjectAndRecipient(t *testing.T) {
	st := &fakeStore{candidates: []store.ReplyCandidate{
		{Folder: "INBOX", UID: 7, MessageID: "orig@x", Subject: "Proposal", FromAddr: "a@x.com"},
	}}
	gw := newFakeGateway()
	// No threading headers in Sent, but a reply with a matching subject
	// addressed to the original sender.
	gw.headerHits[headerKey{"Sent", "Subject", "proposal"}] = []uint32{301}
	gw.messages[301] = []byte("Message-ID: <reply@me>\r\n" +
		"From: me@example.com\r\n" +
		"To: a@x.com\r\n" +
		"Subject: Re: Proposal\r\n" +
		"\r\nSounds good.\r\n")
	gw.headerHits[headerKey{"ToReply", "Message-ID", "orig@x"}] = []uint32{31}

	r := New(reconcileConfig(), st, gw, zap.NewNop())
	if err := r.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(gw.moved) != 1 {
		t.Errorf("moved = %v, want subject-correlated move", gw.moved)
	}
}

func TestRunSubjectMatchWrongRecipientIgnored(t *testing.T) {
	st := &fakeStore{candidates: []store.ReplyCandidate{
		{Folder: "INBOX", UID: 7, MessageID: "orig@x", Subject: "Proposal", FromAddr: "a@x.com"},
	}}
	gw := newFakeGateway()
	gw.headerHits[headerKey{"Sent", "Subject", "proposal"}] = []uint32{301}
	gw.messages[301] = []byte("Message-ID: <reply@me>\r\n" +
		"From: me@example.com\r\n" +
		"To: b@y.com\r\n" +
		"Subject: Re: Proposal\r\n" +
		"\r\nUnrelated thread.\r\n")

	r := New(reconcileConfig(), st, gw, zap.NewNop())
	if err := r.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(gw.moved) != 0 || len(st.marked) != 0 {
		t.Error("reply to a different recipient must not match")
	}
}

func TestRunMissingMessageMarkedInStateOnly(t *testing.T) {
	st := &fakeStore{candidates: []store.ReplyCandidate{
		{Folder: "INBOX", UID: 7, MessageID: "orig@x", Subject: "Proposal", FromAddr: "a@x.com"},
	}}
	gw := newFakeGateway()
	gw.headerHits[headerKey{"Sent", "In-Reply-To", "orig@x"}] = []uint32{201}
	// Not present in ToReply any more.

	r := New(reconcileConfig(), st, gw, zap.NewNop())
	if err := r.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(gw.moved) != 0 {
		t.Errorf("moved = %v, want no physical move", gw.moved)
	}
	if len(st.marked) != 1 {
		t.Error("vanished candidate must still be marked replied")
	}
}

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Proposal", "proposal"},
		{"Re: Proposal", "proposal"},
		{"RE: FW: Re: Proposal", "proposal"},
		{"Fwd: Budget 2026", "budget 2026"},
		{"  re:   spaced  ", "spaced"},
		{"", ""},
		{"Regarding the offer", "regarding the offer"},
	}
	for _, tt := range tests {
		if got := NormalizeSubject(tt.in); got != tt.want {
			t.Errorf("NormalizeSubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
