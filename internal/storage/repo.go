package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

func (s *Store) UpsertUser(ctx context.Context, u User) error {
	q := s.sql.Insert("users").
		Columns("id", "email", "first_name", "last_name", "profile_image_url", "password_hash").
		Values(u.ID, u.Email, u.FirstName, u.LastName, u.ProfileImageURL, u.PasswordHash).
		Suffix("ON CONFLICT(id) DO UPDATE SET email=excluded.email, first_name=excluded.first_name, last_name=excluded.last_name, profile_image_url=excluded.profile_image_url, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert user query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, sq.Eq{"id": id})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, sq.Eq{"email": email})
}

func (s *Store) getUser(ctx context.Context, where sq.Sqlizer) (User, error) {
	q := s.sql.Select("id", "email", "first_name", "last_name", "profile_image_url", "password_hash", "created_at", "updated_at").
		From("users").
		Where(where)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build user query: %w", err)
	}

	var u User
	var email, first, last, image, pwHash sql.NullString
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&u.ID, &email, &first, &last, &image, &pwHash, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	u.Email = nullableString(email)
	u.FirstName = nullableString(first)
	u.LastName = nullableString(last)
	u.ProfileImageURL = nullableString(image)
	u.PasswordHash = nullableString(pwHash)
	return u, nil
}

func (s *Store) CreateBot(ctx context.Context, b Bot) (int64, error) {
	if !ValidPlatform(b.Platform) {
		return 0, fmt.Errorf("platform %q: %w", b.Platform, ErrUnknownPlatform)
	}
	if b.ConfigJSON == "" || !json.Valid([]byte(b.ConfigJSON)) {
		b.ConfigJSON = "{}"
	}
	q := s.sql.Insert("bots").
		Columns("user_id", "platform", "name", "enc_token", "webhook_url", "is_active", "config_json").
		Values(b.UserID, b.Platform, b.Name, b.EncToken, b.WebhookURL, b.IsActive, b.ConfigJSON).
		Suffix("RETURNING id")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build create bot query: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("create bot: %w", err)
	}
	return id, nil
}

var ErrUnknownPlatform = errors.New("unknown platform")

const botColumns = "id, user_id, platform, name, enc_token, webhook_url, is_active, config_json, created_at, updated_at"

func (s *Store) GetBot(ctx context.Context, id int64) (Bot, error) {
	return s.getBot(ctx, sq.Eq{"id": id})
}

func (s *Store) GetUserBot(ctx context.Context, userID string, id int64) (Bot, error) {
	return s.getBot(ctx, sq.Eq{"id": id, "user_id": userID})
}

func (s *Store) getBot(ctx context.Context, where sq.Sqlizer) (Bot, error) {
	q := s.sql.Select(botColumns).From("bots").Where(where)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Bot{}, fmt.Errorf("build bot query: %w", err)
	}
	b, err := scanBot(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Bot{}, ErrNotFound
		}
		return Bot{}, fmt.Errorf("get bot: %w", err)
	}
	return b, nil
}

func (s *Store) ListBots(ctx context.Context, userID string) ([]Bot, error) {
	q := s.sql.Select(botColumns).From("bots").Where(sq.Eq{"user_id": userID}).OrderBy("created_at ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list bots query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	out := make([]Bot, 0)
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bot rows: %w", err)
	}
	return out, nil
}

func (s *Store) UserBotIDs(ctx context.Context, userID string) ([]int64, error) {
	q := s.sql.Select("id").From("bots").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build bot ids query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list bot ids: %w", err)
	}
	defer rows.Close()

	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan bot id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bot ids: %w", err)
	}
	return out, nil
}

// BotUpdate carries a partial bot update; nil fields are left untouched.
type BotUpdate struct {
	Name       *string
	Platform   *string
	EncToken   *string
	WebhookURL *string
	IsActive   *bool
	ConfigJSON *string
}

func (s *Store) UpdateBot(ctx context.Context, userID string, id int64, upd BotUpdate) (Bot, error) {
	q := s.sql.Update("bots").Where(sq.Eq{"id": id, "user_id": userID})
	changed := false
	if upd.Name != nil {
		q = q.Set("name", *upd.Name)
		changed = true
	}
	if upd.Platform != nil {
		if !ValidPlatform(*upd.Platform) {
			return Bot{}, fmt.Errorf("platform %q: %w", *upd.Platform, ErrUnknownPlatform)
		}
		q = q.Set("platform", *upd.Platform)
		changed = true
	}
	if upd.EncToken != nil {
		q = q.Set("enc_token", *upd.EncToken)
		changed = true
	}
	if upd.WebhookURL != nil {
		q = q.Set("webhook_url", *upd.WebhookURL)
		changed = true
	}
	if upd.IsActive != nil {
		q = q.Set("is_active", *upd.IsActive)
		changed = true
	}
	if upd.ConfigJSON != nil {
		cfg := *upd.ConfigJSON
		if cfg == "" || !json.Valid([]byte(cfg)) {
			cfg = "{}"
		}
		q = q.Set("config_json", cfg)
		changed = true
	}
	if !changed {
		return s.GetUserBot(ctx, userID, id)
	}
	q = q.Set("updated_at", nowExpr(s.driver))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Bot{}, fmt.Errorf("build update bot query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return Bot{}, fmt.Errorf("update bot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Bot{}, ErrNotFound
	}
	return s.GetUserBot(ctx, userID, id)
}

// DeleteBot removes a bot and, in the same transaction, every message log
// referencing it. Cascade is the chosen dangling-reference policy: orphan
// log rows never survive a bot deletion.
func (s *Store) DeleteBot(ctx context.Context, userID string, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete bot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	delLogs := s.sql.Delete("message_logs").Where(sq.Eq{"bot_id": id})
	sqlStr, args, err := delLogs.ToSql()
	if err != nil {
		return fmt.Errorf("build delete logs query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete bot logs: %w", err)
	}

	delBot := s.sql.Delete("bots").Where(sq.Eq{"id": id, "user_id": userID})
	sqlStr, args, err = delBot.ToSql()
	if err != nil {
		return fmt.Errorf("build delete bot query: %w", err)
	}
	res, err := tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete bot tx: %w", err)
	}
	return nil
}

func (s *Store) CreateKnowledgeFile(ctx context.Context, f KnowledgeFile) (int64, error) {
	q := s.sql.Insert("knowledge_files").
		Columns("user_id", "file_name", "original_name", "file_path", "file_size", "mime_type", "is_processed").
		Values(f.UserID, f.FileName, f.OriginalName, f.FilePath, f.FileSize, f.MimeType, f.IsProcessed).
		Suffix("RETURNING id")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build create file query: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("create knowledge file: %w", err)
	}
	return id, nil
}

const fileColumns = "id, user_id, file_name, original_name, file_path, file_size, mime_type, is_processed, created_at"

func (s *Store) ListKnowledgeFiles(ctx context.Context, userID string) ([]KnowledgeFile, error) {
	q := s.sql.Select(fileColumns).
		From("knowledge_files").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list files query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list knowledge files: %w", err)
	}
	defer rows.Close()

	out := make([]KnowledgeFile, 0)
	for rows.Next() {
		var f KnowledgeFile
		if err := rows.Scan(&f.ID, &f.UserID, &f.FileName, &f.OriginalName, &f.FilePath, &f.FileSize, &f.MimeType, &f.IsProcessed, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file rows: %w", err)
	}
	return out, nil
}

func (s *Store) GetUserKnowledgeFile(ctx context.Context, userID string, id int64) (KnowledgeFile, error) {
	q := s.sql.Select(fileColumns).From("knowledge_files").Where(sq.Eq{"id": id, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return KnowledgeFile{}, fmt.Errorf("build file query: %w", err)
	}
	var f KnowledgeFile
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&f.ID, &f.UserID, &f.FileName, &f.OriginalName, &f.FilePath, &f.FileSize, &f.MimeType, &f.IsProcessed, &f.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return KnowledgeFile{}, ErrNotFound
		}
		return KnowledgeFile{}, fmt.Errorf("get knowledge file: %w", err)
	}
	return f, nil
}

func (s *Store) DeleteKnowledgeFile(ctx context.Context, userID string, id int64) error {
	q := s.sql.Delete("knowledge_files").Where(sq.Eq{"id": id, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete file query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete knowledge file: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessageLogs appends the given log rows in one transaction. The batch
// is all-or-nothing: a failed insert rolls back every sibling row from the
// same webhook delivery.
func (s *Store) InsertMessageLogs(ctx context.Context, logs []MessageLog) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert logs tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, l := range logs {
		q := s.sql.Insert("message_logs").
			Columns("bot_id", "platform", "message_id", "sender_id", "message_text", "response_text", "response_time", "is_auto_response").
			Values(l.BotID, l.Platform, l.MessageID, l.SenderID, l.MessageText, l.ResponseText, l.ResponseTimeMs, l.IsAutoResponse)
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build insert log query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("insert message log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert logs tx: %w", err)
	}
	return nil
}

func (s *Store) CountMessagesForBots(ctx context.Context, botIDs []int64) (int64, error) {
	if len(botIDs) == 0 {
		return 0, nil
	}
	q := s.sql.Select("COUNT(*)").From("message_logs").Where(sq.Eq{"bot_id": botIDs})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count messages query: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *Store) CountActiveBots(ctx context.Context, userID string) (int64, error) {
	q := s.sql.Select("COUNT(*)").From("bots").Where(sq.Eq{"user_id": userID, "is_active": true})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count active bots query: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active bots: %w", err)
	}
	return n, nil
}

// AvgResponseMs averages response_time over rows that have one. NULL rows do
// not contribute; zero rows yields 0.
func (s *Store) AvgResponseMs(ctx context.Context, botIDs []int64) (float64, error) {
	if len(botIDs) == 0 {
		return 0, nil
	}
	q := s.sql.Select("COALESCE(AVG(response_time), 0)").
		From("message_logs").
		Where(sq.Eq{"bot_id": botIDs})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build avg response query: %w", err)
	}
	var avg float64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("avg response time: %w", err)
	}
	return avg, nil
}

// RecentMessageLogs returns the newest rows across all given bots in one
// globally ordered query, so a disproportionately active bot cannot push
// genuinely recent rows from another bot out of the window.
func (s *Store) RecentMessageLogs(ctx context.Context, botIDs []int64, limit uint64) ([]MessageLog, error) {
	if len(botIDs) == 0 {
		return []MessageLog{}, nil
	}
	q := s.sql.Select("id", "bot_id", "platform", "message_id", "sender_id", "message_text", "response_text", "response_time", "is_auto_response", "created_at").
		From("message_logs").
		Where(sq.Eq{"bot_id": botIDs}).
		OrderBy("created_at DESC", "id DESC").
		Limit(limit)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent logs query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	defer rows.Close()

	out := make([]MessageLog, 0)
	for rows.Next() {
		var l MessageLog
		var msgID, senderID, msgText, respText sql.NullString
		var respTime sql.NullInt64
		if err := rows.Scan(&l.ID, &l.BotID, &l.Platform, &msgID, &senderID, &msgText, &respText, &respTime, &l.IsAutoResponse, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		l.MessageID = nullableString(msgID)
		l.SenderID = nullableString(senderID)
		l.MessageText = nullableString(msgText)
		l.ResponseText = nullableString(respText)
		if respTime.Valid {
			v := respTime.Int64
			l.ResponseTimeMs = &v
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(r rowScanner) (Bot, error) {
	var b Bot
	var encToken, webhookURL sql.NullString
	if err := r.Scan(
		&b.ID, &b.UserID, &b.Platform, &b.Name, &encToken, &webhookURL, &b.IsActive, &b.ConfigJSON, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return Bot{}, err
	}
	b.EncToken = nullableString(encToken)
	b.WebhookURL = nullableString(webhookURL)
	return b, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
