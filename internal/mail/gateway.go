package mail

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError indicates that a message vanished between search and fetch
// (expunged or moved by another client). Callers treat it as non-fatal.
type NotFoundError struct {
	Folder string
	UID    uint32
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message %s/%d not found", e.Folder, e.UID)
}

// IsNotFound reports whether err (or any error in its chain) is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// FetchedMessage is the raw RFC 822 content and flags of one message.
type FetchedMessage struct {
	Raw   []byte
	Flags []string
}

// Gateway is the uniform interface over the mail store. Folder names are
// logical: an optional namespace prefix is applied uniformly to every
// non-INBOX folder operation by the implementation.
type Gateway interface {
	// EnsureFolder creates the folder if it does not exist. Idempotent.
	EnsureFolder(name string) error

	// SearchSinceUID returns UIDs strictly greater than lastUID in folder.
	SearchSinceUID(folder string, lastUID uint32) ([]uint32, error)

	// SearchSinceDate returns UIDs of messages received since the given date.
	SearchSinceDate(folder string, since time.Time) ([]uint32, error)

	// SearchAll returns every UID in folder.
	SearchAll(folder string) ([]uint32, error)

	// SearchHeader returns UIDs of messages whose named header contains value.
	SearchHeader(folder, header, value string) ([]uint32, error)

	// Fetch retrieves the full message and its flags without marking it read.
	Fetch(folder string, uid uint32) (*FetchedMessage, error)

	// Move relocates a message into dest.
	Move(folder string, uid uint32, dest string) error

	// Copy duplicates a message into dest, leaving the original in place.
	Copy(folder string, uid uint32, dest string) error

	// Append stores a raw message into folder with the given flags and
	// returns the new message's UID (0 when the server does not report it).
	Append(folder string, raw []byte, flags []string) (uint32, error)
}

// HasAnsweredFlag reports whether the flag set contains \Answered,
// tolerating case and backslash variations across servers.
func HasAnsweredFlag(flags []string) bool {
	for _, f := range flags {
		if strings.EqualFold(strings.TrimLeft(strings.TrimSpace(f), `\`), "answered") {
			return true
		}
	}
	return false
}
