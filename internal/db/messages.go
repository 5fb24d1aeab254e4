package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

// ErrBodyNotCached is returned when the message row exists but its body was never fetched.
var ErrBodyNotCached = errors.New("message body not cached")

const messageColumns = `
	e.account_id,
	e.folder_id,
	f.name AS folder_name,
	e.uid,
	e.subject,
	e.sender,
	e.to_addresses,
	e.cc_addresses,
	e.date_received,
	e.flags,
	e.message_id,
	e.in_reply_to,
	e.references_list,
	e.gm_thread_id,
	e.body_text,
	e.body_html`

const insertMetadataColumns = `account_id, folder_id, uid, subject, sender, to_addresses, cc_addresses,
	date_received, flags, message_id, in_reply_to, references_list, gm_thread_id`

const updateMetadata = `
	subject = excluded.subject,
	sender = excluded.sender,
	to_addresses = excluded.to_addresses,
	cc_addresses = excluded.cc_addresses,
	date_received = excluded.date_received,
	flags = excluded.flags,
	message_id = excluded.message_id,
	in_reply_to = excluded.in_reply_to,
	references_list = excluded.references_list,
	gm_thread_id = excluded.gm_thread_id`

// upsertWithoutBody never touches body columns, so list fetches keep cached bodies.
const upsertWithoutBody = `
	INSERT INTO emails (` + insertMetadataColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (account_id, folder_id, uid) DO UPDATE SET` + updateMetadata

// upsertWithBody overwrites whichever body parts are supplied.
const upsertWithBody = `
	INSERT INTO emails (` + insertMetadataColumns + `, body_text, body_html)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (account_id, folder_id, uid) DO UPDATE SET` + updateMetadata + `,
	body_text = COALESCE(excluded.body_text, emails.body_text),
	body_html = COALESCE(excluded.body_html, emails.body_html)`

// upsertMetadataOnly stores an empty body for new rows but keeps an existing one.
const upsertMetadataOnly = `
	INSERT INTO emails (` + insertMetadataColumns + `, body_text, body_html)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (account_id, folder_id, uid) DO UPDATE SET` + updateMetadata

type messageRow struct {
	AccountID    int64          `db:"account_id"`
	FolderID     int64          `db:"folder_id"`
	FolderName   string         `db:"folder_name"`
	UID          int64          `db:"uid"`
	Subject      string         `db:"subject"`
	Sender       string         `db:"sender"`
	ToAddresses  string         `db:"to_addresses"`
	CcAddresses  string         `db:"cc_addresses"`
	DateReceived time.Time      `db:"date_received"`
	Flags        string         `db:"flags"`
	MessageID    string         `db:"message_id"`
	InReplyTo    string         `db:"in_reply_to"`
	References   string         `db:"references_list"`
	GmThreadID   string         `db:"gm_thread_id"`
	BodyText     sql.NullString `db:"body_text"`
	BodyHTML     sql.NullString `db:"body_html"`
}

func (r *messageRow) toModel() *models.Message {
	msg := &models.Message{
		AccountID:  r.AccountID,
		FolderID:   r.FolderID,
		Folder:     r.FolderName,
		UID:        uint32(r.UID),
		Subject:    r.Subject,
		Sender:     r.Sender,
		To:         decodeList(r.ToAddresses),
		Cc:         decodeList(r.CcAddresses),
		Date:       r.DateReceived,
		Flags:      decodeList(r.Flags),
		MessageID:  r.MessageID,
		InReplyTo:  r.InReplyTo,
		References: decodeList(r.References),
		GmThreadID: r.GmThreadID,
	}
	if r.BodyText.Valid {
		msg.BodyText = &r.BodyText.String
	}
	if r.BodyHTML.Valid {
		msg.BodyHTML = &r.BodyHTML.String
	}
	return msg
}

// UpsertMessage inserts or updates a message by (account_id, folder_id, uid).
// Nil body pointers leave a cached body untouched. Non-empty bodies overwrite it.
// Bodies supplied but empty are stored for new rows only.
func UpsertMessage(ctx context.Context, database *DB, msg *models.Message) error {
	return upsertMessage(ctx, database.DB, msg)
}

// UpsertMessages stores a batch in one transaction.
func UpsertMessages(ctx context.Context, database *DB, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := database.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, msg := range messages {
		if err := upsertMessage(ctx, tx, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

func upsertMessage(ctx context.Context, ext sqlx.ExtContext, msg *models.Message) error {
	args := []interface{}{
		msg.AccountID,
		msg.FolderID,
		int64(msg.UID),
		msg.Subject,
		msg.Sender,
		encodeList(msg.To),
		encodeList(msg.Cc),
		msg.Date.UTC().Truncate(time.Second),
		encodeList(models.UnionFlags(msg.Flags, nil)),
		msg.MessageID,
		msg.InReplyTo,
		encodeList(msg.References),
		msg.GmThreadID,
	}

	var query string
	switch {
	case msg.BodyText == nil && msg.BodyHTML == nil:
		query = upsertWithoutBody
	case hasContent(msg.BodyText) || hasContent(msg.BodyHTML):
		query = upsertWithBody
		args = append(args, nullable(msg.BodyText), nullable(msg.BodyHTML))
	default:
		query = upsertMetadataOnly
		args = append(args, nullable(msg.BodyText), nullable(msg.BodyHTML))
	}

	if _, err := ext.ExecContext(ctx, ext.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to upsert message %d: %w", msg.UID, err)
	}
	return nil
}

// GetMessagesPage returns cached messages of a folder, newest first.
func GetMessagesPage(ctx context.Context, database *DB, accountID, folderID int64, limit, offset int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	if offset < 0 {
		offset = 0
	}

	var rows []messageRow
	err := database.SelectContext(ctx, &rows, database.Rebind(`
		SELECT`+messageColumns+`
		FROM emails e
		JOIN folders f ON f.id = e.folder_id
		WHERE e.account_id = ? AND e.folder_id = ?
		ORDER BY e.date_received DESC, e.uid DESC
		LIMIT ? OFFSET ?
	`), accountID, folderID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	messages := make([]*models.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toModel())
	}
	return messages, nil
}

// GetMessage returns one cached message.
func GetMessage(ctx context.Context, database *DB, accountID, folderID int64, uid uint32) (*models.Message, error) {
	var row messageRow
	err := database.GetContext(ctx, &row, database.Rebind(`
		SELECT`+messageColumns+`
		FROM emails e
		JOIN folders f ON f.id = e.folder_id
		WHERE e.account_id = ? AND e.folder_id = ? AND e.uid = ?
	`), accountID, folderID, int64(uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return row.toModel(), nil
}

// GetMessageBody returns the cached body with headers rebuilt from cached metadata.
// Attachments are not cached.
func GetMessageBody(ctx context.Context, database *DB, accountID, folderID int64, uid uint32) (*models.MessageBody, error) {
	msg, err := GetMessage(ctx, database, accountID, folderID, uid)
	if err != nil {
		return nil, err
	}
	if msg.BodyText == nil && msg.BodyHTML == nil {
		return nil, ErrBodyNotCached
	}

	body := &models.MessageBody{
		Headers: map[string]string{
			"From":       msg.Sender,
			"Subject":    msg.Subject,
			"Message-ID": msg.MessageID,
		},
	}
	if msg.BodyText != nil {
		body.Text = *msg.BodyText
	}
	if msg.BodyHTML != nil {
		body.HTML = *msg.BodyHTML
	}
	if len(msg.To) > 0 {
		body.Headers["To"] = strings.Join(msg.To, ", ")
	}
	if len(msg.Cc) > 0 {
		body.Headers["Cc"] = strings.Join(msg.Cc, ", ")
	}
	if !msg.Date.IsZero() {
		body.Headers["Date"] = msg.Date.Format(time.RFC1123Z)
	}
	if msg.InReplyTo != "" {
		body.Headers["In-Reply-To"] = msg.InReplyTo
	}
	return body, nil
}

// GetFlags returns the cached flags of a message.
func GetFlags(ctx context.Context, database *DB, accountID, folderID int64, uid uint32) ([]string, error) {
	var raw string
	err := database.GetContext(ctx, &raw, database.Rebind(
		`SELECT flags FROM emails WHERE account_id = ? AND folder_id = ? AND uid = ?`,
	), accountID, folderID, int64(uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get flags: %w", err)
	}
	return decodeList(raw), nil
}

// SetFlags replaces the cached flags of a message.
func SetFlags(ctx context.Context, database *DB, accountID, folderID int64, uid uint32, flags []string) error {
	return setFlags(ctx, database.DB, accountID, folderID, uid, flags)
}

func setFlags(ctx context.Context, ext sqlx.ExtContext, accountID, folderID int64, uid uint32, flags []string) error {
	result, err := ext.ExecContext(ctx, ext.Rebind(
		`UPDATE emails SET flags = ? WHERE account_id = ? AND folder_id = ? AND uid = ?`,
	), encodeList(models.UnionFlags(flags, nil)), accountID, folderID, int64(uid))
	if err != nil {
		return fmt.Errorf("failed to set flags: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// UpdateFlags rewrites the flags of each cached message with fn in one transaction.
// UIDs that are not cached are skipped.
func UpdateFlags(ctx context.Context, database *DB, accountID, folderID int64, uids []uint32, fn func([]string) []string) error {
	tx, err := database.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, uid := range uids {
		var raw string
		err := tx.GetContext(ctx, &raw, tx.Rebind(
			`SELECT flags FROM emails WHERE account_id = ? AND folder_id = ? AND uid = ?`+database.dialect.lockForUpdate,
		), accountID, folderID, int64(uid))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read flags: %w", err)
		}
		if err := setFlags(ctx, tx, accountID, folderID, uid, fn(decodeList(raw))); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flags: %w", err)
	}
	return nil
}

// MoveMessages reassigns cached messages to another folder. Rows already cached
// under the same UIDs in the target are stale and get replaced.
func MoveMessages(ctx context.Context, database *DB, accountID, fromFolderID, toFolderID int64, uids []uint32) error {
	if len(uids) == 0 || fromFolderID == toFolderID {
		return nil
	}

	tx, err := database.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := toInt64s(uids)

	query, args, err := sqlx.In(`DELETE FROM emails WHERE account_id = ? AND folder_id = ? AND uid IN (?)`, accountID, toFolderID, ids)
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to clear target rows: %w", err)
	}

	query, args, err = sqlx.In(`UPDATE emails SET folder_id = ? WHERE account_id = ? AND folder_id = ? AND uid IN (?)`, toFolderID, accountID, fromFolderID, ids)
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to move messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit move: %w", err)
	}
	return nil
}

// DeleteMessages removes cached messages from a folder.
func DeleteMessages(ctx context.Context, database *DB, accountID, folderID int64, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM emails WHERE account_id = ? AND folder_id = ? AND uid IN (?)`, accountID, folderID, toInt64s(uids))
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}
	if _, err := database.ExecContext(ctx, database.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// CountMessages returns the number of cached messages in a folder.
func CountMessages(ctx context.Context, database *DB, accountID, folderID int64) (int, error) {
	var count int
	err := database.GetContext(ctx, &count, database.Rebind(
		`SELECT COUNT(*) FROM emails WHERE account_id = ? AND folder_id = ?`,
	), accountID, folderID)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func encodeList(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeList(raw string) []string {
	var values []string
	if raw == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(raw), &values); err != nil || values == nil {
		return []string{}
	}
	return values
}

func hasContent(s *string) bool {
	return s != nil && *s != ""
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func toInt64s(uids []uint32) []int64 {
	result := make([]int64, len(uids))
	for i, uid := range uids {
		result[i] = int64(uid)
	}
	return result
}

