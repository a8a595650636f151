package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/lucasantoro97/postino/internal/model"
)

// processedStatuses marks a message as done: it is excluded from polling
// retries and never re-enters the pipeline.
const processedStatuses = "('moved', 'copied', 'skipped', 'replied')"

// SQLiteStore implements the Store interface using a local SQLite database.
// The database is opened by a single process; writes are committed before
// the corresponding external action's result is trusted.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// GetLastUID returns the highest UID already observed in folder, or 0 when
// the folder has never been polled.
func (s *SQLiteStore) GetLastUID(ctx context.Context, folder string) (uint32, error) {
	var lastUID uint32
	err := s.db.GetContext(ctx, &lastUID,
		"SELECT last_uid FROM folder_state WHERE folder = ?", folder,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting last uid for %s: %w", folder, err)
	}
	return lastUID, nil
}

// SetLastUID advances the polling cursor for folder.
func (s *SQLiteStore) SetLastUID(ctx context.Context, folder string, uid uint32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folder_state (folder, last_uid) VALUES (?, ?)
		ON CONFLICT(folder) DO UPDATE SET last_uid = excluded.last_uid`,
		folder, uid,
	)
	if err != nil {
		return fmt.Errorf("setting last uid for %s: %w", folder, err)
	}
	return nil
}

// Seen reports whether the message already carries a processed filing
// status. This is the idempotency guard the pipeline consults before
// re-running a message.
func (s *SQLiteStore) Seen(ctx context.Context, folder string, uid uint32) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM messages WHERE folder = ? AND uid = ? AND filing_status IN "+processedStatuses,
		folder, uid,
	)
	if err != nil {
		return false, fmt.Errorf("checking seen %s/%d: %w", folder, uid, err)
	}
	return count > 0, nil
}

// UpsertMessageBase writes the envelope-level record for a freshly fetched
// message, preserving existing fields on conflict.
func (s *SQLiteStore) UpsertMessageBase(ctx context.Context, base MessageBase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (folder, uid, message_id, subject, from_addr, date, fingerprint, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(folder, uid) DO UPDATE SET
			message_id  = CASE WHEN excluded.message_id != '' THEN excluded.message_id ELSE messages.message_id END,
			subject     = CASE WHEN excluded.subject != '' THEN excluded.subject ELSE messages.subject END,
			from_addr   = CASE WHEN excluded.from_addr != '' THEN excluded.from_addr ELSE messages.from_addr END,
			date        = CASE WHEN excluded.date != '' THEN excluded.date ELSE messages.date END,
			fingerprint = excluded.fingerprint,
			updated_at  = excluded.updated_at`,
		base.Folder, base.UID, base.MessageID, base.Subject,
		base.FromAddr, base.Date, base.Fingerprint, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting message %s/%d: %w", base.Folder, base.UID, err)
	}
	return nil
}

// RecordAttempt increments the attempt counter and stores the last error
// for a message whose pipeline run failed.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, folder string, uid uint32, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE folder = ? AND uid = ?`,
		errMsg, time.Now().UTC(), folder, uid,
	)
	if err != nil {
		return fmt.Errorf("recording attempt %s/%d: %w", folder, uid, err)
	}
	return nil
}

// SetClassification stores the classifier output and priority score.
func (s *SQLiteStore) SetClassification(
	ctx context.Context,
	folder string,
	uid uint32,
	cls model.ClassificationResult,
	priority int,
) error {
	tags, err := json.Marshal(cls.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags for %s/%d: %w", folder, uid, err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE messages SET
			category = ?, confidence = ?, rationale = ?, tags = ?,
			reply_needed = ?, contains_event_request = ?, priority = ?, updated_at = ?
		WHERE folder = ? AND uid = ?`,
		string(cls.Category), cls.Confidence, cls.Rationale, string(tags),
		boolToInt(cls.ReplyNeeded), boolToInt(cls.ContainsEventRequest),
		priority, time.Now().UTC(), folder, uid,
	)
	if err != nil {
		return fmt.Errorf("setting classification %s/%d: %w", folder, uid, err)
	}
	return nil
}

// SetDraftUID records the UID of the reply draft appended for a message.
func (s *SQLiteStore) SetDraftUID(ctx context.Context, folder string, uid, draftUID uint32) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET draft_uid = ?, updated_at = ? WHERE folder = ? AND uid = ?",
		draftUID, time.Now().UTC(), folder, uid,
	)
	if err != nil {
		return fmt.Errorf("setting draft uid %s/%d: %w", folder, uid, err)
	}
	return nil
}

// GetDraftUID returns the recorded draft UID, or 0 when no draft exists.
func (s *SQLiteStore) GetDraftUID(ctx context.Context, folder string, uid uint32) (uint32, error) {
	var draftUID uint32
	err := s.db.GetContext(ctx, &draftUID,
		"SELECT draft_uid FROM messages WHERE folder = ? AND uid = ?", folder, uid,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting draft uid %s/%d: %w", folder, uid, err)
	}
	return draftUID, nil
}

// SetCalendarEventID records the external event id created for a message.
func (s *SQLiteStore) SetCalendarEventID(ctx context.Context, folder string, uid uint32, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET calendar_event_id = ?, updated_at = ? WHERE folder = ? AND uid = ?",
		eventID, time.Now().UTC(), folder, uid,
	)
	if err != nil {
		return fmt.Errorf("setting calendar event id %s/%d: %w", folder, uid, err)
	}
	return nil
}

// GetCalendarEventID returns the recorded calendar event id, or "" when no
// event was created for the message.
func (s *SQLiteStore) GetCalendarEventID(ctx context.Context, folder string, uid uint32) (string, error) {
	var eventID string
	err := s.db.GetContext(ctx, &eventID,
		"SELECT calendar_event_id FROM messages WHERE folder = ? AND uid = ?", folder, uid,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting calendar event id %s/%d: %w", folder, uid, err)
	}
	return eventID, nil
}

// SetFilingResult records the outcome of the filing step. Once a processed
// status is written the message is excluded from future polls and retries.
func (s *SQLiteStore) SetFilingResult(ctx context.Context, folder string, uid uint32, filingFolder, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET filing_folder = ?, filing_status = ?, updated_at = ? WHERE folder = ? AND uid = ?",
		filingFolder, status, time.Now().UTC(), folder, uid,
	)
	if err != nil {
		return fmt.Errorf("setting filing result %s/%d: %w", folder, uid, err)
	}
	return nil
}

// RetryableUIDs returns UIDs of messages that failed at least once, are not
// yet filed, and have not been touched since olderThan.
func (s *SQLiteStore) RetryableUIDs(ctx context.Context, folder string, olderThan time.Time, limit int) ([]uint32, error) {
	var uids []uint32
	err := s.db.SelectContext(ctx, &uids, `
		SELECT uid FROM messages
		WHERE folder = ? AND attempts > 0
		  AND filing_status NOT IN `+processedStatuses+`
		  AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?`,
		folder, olderThan.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying retryable uids for %s: %w", folder, err)
	}
	return uids, nil
}

const summaryColumns = `
	folder, uid, message_id, subject, from_addr, date,
	category, confidence, priority, filing_folder, draft_uid, calendar_event_id`

// RecentMessages returns all message records updated since the given time,
// highest priority first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, since time.Time) ([]MessageSummary, error) {
	return s.querySummaries(ctx, `
		SELECT `+summaryColumns+` FROM messages
		WHERE updated_at >= ?
		ORDER BY priority DESC, updated_at DESC`,
		since.UTC(),
	)
}

// RecentCategoryCounts returns per-category message counts since the given
// time, largest first.
func (s *SQLiteStore) RecentCategoryCounts(ctx context.Context, since time.Time) ([]CategoryCount, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT CASE WHEN category = '' THEN 'Unknown' ELSE category END AS category, COUNT(*) AS cnt
		FROM messages
		WHERE updated_at >= ?
		GROUP BY category
		ORDER BY cnt DESC, category ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying category counts: %w", err)
	}
	defer rows.Close()

	var counts []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning category count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// RecentCalendarMessages returns messages that produced a calendar event
// since the given time.
func (s *SQLiteStore) RecentCalendarMessages(ctx context.Context, since time.Time) ([]MessageSummary, error) {
	return s.querySummaries(ctx, `
		SELECT `+summaryColumns+` FROM messages
		WHERE updated_at >= ? AND calendar_event_id != ''
		ORDER BY updated_at DESC`,
		since.UTC(),
	)
}

// RecentDraftMessages returns messages that produced a reply draft since
// the given time.
func (s *SQLiteStore) RecentDraftMessages(ctx context.Context, since time.Time) ([]MessageSummary, error) {
	return s.querySummaries(ctx, `
		SELECT `+summaryColumns+` FROM messages
		WHERE updated_at >= ? AND draft_uid != 0
		ORDER BY updated_at DESC`,
		since.UTC(),
	)
}

// PendingReplyMessages returns messages flagged as needing a reply for
// which no draft exists yet.
func (s *SQLiteStore) PendingReplyMessages(ctx context.Context) ([]MessageSummary, error) {
	return s.querySummaries(ctx, `
		SELECT `+summaryColumns+` FROM messages
		WHERE reply_needed = 1 AND draft_uid = 0
		ORDER BY priority DESC, updated_at DESC`,
	)
}

// ReplyCandidates returns messages filed into filingFolder that still await
// a human reply and carry a Message-ID to correlate against.
func (s *SQLiteStore) ReplyCandidates(ctx context.Context, filingFolder string) ([]ReplyCandidate, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT folder, uid, message_id, subject, from_addr FROM messages
		WHERE reply_needed = 1 AND message_id != '' AND filing_folder = ?
		ORDER BY updated_at DESC`,
		filingFolder,
	)
	if err != nil {
		return nil, fmt.Errorf("querying reply candidates: %w", err)
	}
	defer rows.Close()

	var candidates []ReplyCandidate
	for rows.Next() {
		var c ReplyCandidate
		if err := rows.Scan(&c.Folder, &c.UID, &c.MessageID, &c.Subject, &c.FromAddr); err != nil {
			return nil, fmt.Errorf("scanning reply candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// MarkReplied clears the reply expectation for a message and records its
// move into the Replied folder.
func (s *SQLiteStore) MarkReplied(ctx context.Context, folder string, uid uint32, repliedFolder string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET reply_needed = 0, filing_folder = ?, filing_status = ?, updated_at = ?
		WHERE folder = ? AND uid = ?`,
		repliedFolder, FilingReplied, time.Now().UTC(), folder, uid,
	)
	if err != nil {
		return fmt.Errorf("marking replied %s/%d: %w", folder, uid, err)
	}
	return nil
}

// RecordRepliedMove appends one reconciliation event to the move log.
func (s *SQLiteStore) RecordRepliedMove(ctx context.Context, mv RepliedMove) error {
	movedAt := mv.MovedAt
	if movedAt.IsZero() {
		movedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replied_moves (id, message_id, subject, from_addr, moved_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), mv.MessageID, mv.Subject, mv.FromAddr, movedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording replied move: %w", err)
	}
	return nil
}

// RepliedMovesSince returns reconciliation events recorded since the given
// time, newest first.
func (s *SQLiteStore) RepliedMovesSince(ctx context.Context, since time.Time) ([]RepliedMove, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT message_id, subject, from_addr, moved_at FROM replied_moves
		WHERE moved_at >= ?
		ORDER BY moved_at DESC`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying replied moves: %w", err)
	}
	defer rows.Close()

	var moves []RepliedMove
	for rows.Next() {
		var mv RepliedMove
		if err := rows.Scan(&mv.MessageID, &mv.Subject, &mv.FromAddr, &mv.MovedAt); err != nil {
			return nil, fmt.Errorf("scanning replied move: %w", err)
		}
		moves = append(moves, mv)
	}
	return moves, rows.Err()
}

// HasRun reports whether a successful run is recorded for (task, bucket).
// Failed runs do not count: a task that failed may retry within its bucket.
func (s *SQLiteStore) HasRun(ctx context.Context, task, bucket string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM task_runs WHERE task_name = ? AND bucket = ? AND status = ?",
		task, bucket, RunSuccess,
	)
	if err != nil {
		return false, fmt.Errorf("checking task run %s/%s: %w", task, bucket, err)
	}
	return count > 0, nil
}

// RecordRun stores the outcome of one task execution. The (task, bucket)
// primary key means a later success overwrites an earlier failure, and at
// most one success can ever exist per bucket.
func (s *SQLiteStore) RecordRun(ctx context.Context, task, bucket, status string, executedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (task_name, bucket, status, executed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_name, bucket) DO UPDATE SET
			status = excluded.status, executed_at = excluded.executed_at`,
		task, bucket, status, executedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording task run %s/%s: %w", task, bucket, err)
	}
	return nil
}

// querySummaries runs a query selecting summaryColumns and scans the rows.
func (s *SQLiteStore) querySummaries(ctx context.Context, query string, args ...interface{}) ([]MessageSummary, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var summaries []MessageSummary
	for rows.Next() {
		var m MessageSummary
		err := rows.Scan(
			&m.Folder, &m.UID, &m.MessageID, &m.Subject, &m.FromAddr, &m.Date,
			&m.Category, &m.Confidence, &m.Priority,
			&m.FilingFolder, &m.DraftUID, &m.CalendarEventID,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		summaries = append(summaries, m)
	}
	return summaries, rows.Err()
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
