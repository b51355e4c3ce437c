package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lacheln1/unoa-server/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db             *sql.DB
	conversationMu sync.Mutex // serializes conversation writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS plans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL,
		title TEXT NOT NULL UNIQUE,
		price INTEGER NOT NULL,
		optional_contract_discount INTEGER,
		premier_contract_discount INTEGER,
		popularity_rank INTEGER,
		age_group TEXT,
		data TEXT,
		post_exhaustion_data_speed TEXT,
		tethering TEXT,
		tethering_and_sharing TEXT,
		voice_call TEXT,
		voice_call_first_des TEXT,
		sms TEXT,
		basic_benefit TEXT,
		premium_benefit TEXT,
		media_benefit TEXT,
		smart_device TEXT,
		signature_family_discount TEXT,
		description TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_plans_category ON plans(category);

	CREATE TABLE IF NOT EXISTS benefits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		level TEXT NOT NULL,
		brand TEXT NOT NULL,
		benefit TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		session_id TEXT PRIMARY KEY,
		first_ip TEXT NOT NULL,
		first_agent TEXT NOT NULL,
		last_ip TEXT NOT NULL,
		last_agent TEXT NOT NULL,
		last_access_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES conversations(session_id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		recommended_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// AppendExchange atomically upserts the conversation record and appends one
// user/assistant pair. The whole append runs in a single transaction so
// concurrent appends for the same session interleave at pair granularity.
func (s *SQLiteStore) AppendExchange(ctx context.Context, sessionID string, access domain.AccessInfo, userMsg, assistantMsg domain.Message) error {
	s.conversationMu.Lock()
	defer s.conversationMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back append transaction", "error", rbErr)
		}
	}()

	now := time.Now()

	// First-seen fields are set on insert only; conflicts refresh
	// last-access fields exclusively.
	upsert := `
	INSERT INTO conversations (session_id, first_ip, first_agent, last_ip, last_agent, last_access_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		last_ip = excluded.last_ip,
		last_agent = excluded.last_agent,
		last_access_at = excluded.last_access_at,
		updated_at = excluded.updated_at`

	if _, err := tx.ExecContext(ctx, upsert,
		sessionID, access.IP, access.UserAgent,
		access.IP, access.UserAgent, now.Unix(), now.Unix(), now.Unix(),
	); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	insert := `INSERT INTO messages (session_id, role, content, recommended_json, created_at) VALUES (?, ?, ?, ?, ?)`
	for _, msg := range []domain.Message{userMsg, assistantMsg} {
		var recommended interface{}
		if len(msg.RecommendedPlans) > 0 {
			data, err := json.Marshal(msg.RecommendedPlans)
			if err != nil {
				return fmt.Errorf("marshal recommended plans: %w", err)
			}
			recommended = string(data)
		}

		ts := msg.Timestamp
		if ts.IsZero() {
			ts = now
		}

		if _, err := tx.ExecContext(ctx, insert,
			sessionID, msg.Role, msg.Content, recommended, ts.Unix(),
		); err != nil {
			return fmt.Errorf("insert %s message: %w", msg.Role, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append transaction: %w", err)
	}
	return nil
}

// LoadHistory returns the ordered message log for a session. A session with
// no record yields an empty slice, not an error.
func (s *SQLiteStore) LoadHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	query := `
		SELECT role, content, recommended_json, created_at
		FROM messages WHERE session_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return messages, nil
}

// GetConversation returns the full record including metadata, or nil when
// no record exists.
func (s *SQLiteStore) GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	query := `
		SELECT first_ip, first_agent, last_ip, last_agent,
		       last_access_at, created_at, updated_at
		FROM conversations WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var meta domain.ConversationMeta
	var lastAccess, createdAt, updatedAt int64

	err := row.Scan(
		&meta.FirstSeenIP, &meta.FirstSeenAgent,
		&meta.LastAccessIP, &meta.LastAccessAgent,
		&lastAccess, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	meta.LastAccessAt = time.Unix(lastAccess, 0)
	meta.CreatedAt = time.Unix(createdAt, 0)
	meta.UpdatedAt = time.Unix(updatedAt, 0)

	messages, err := s.LoadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &domain.Conversation{
		SessionID: sessionID,
		Messages:  messages,
		Meta:      meta,
	}, nil
}

// ResetConversation deletes the record and its messages entirely.
func (s *SQLiteStore) ResetConversation(ctx context.Context, sessionID string) error {
	s.conversationMu.Lock()
	defer s.conversationMu.Unlock()

	// Messages are deleted explicitly rather than relying on foreign-key
	// cascades, which SQLite only honors with foreign_keys=ON.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back reset transaction", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset transaction: %w", err)
	}
	return nil
}

// CountConversations returns the total number of conversation records.
func (s *SQLiteStore) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return count, nil
}

// CountActiveSince returns the number of conversations touched after the
// given time.
func (s *SQLiteStore) CountActiveSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM conversations WHERE updated_at >= ?`
	if err := s.db.QueryRowContext(ctx, query, since.Unix()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active conversations: %w", err)
	}
	return count, nil
}

const planColumns = `id, category, title, price, optional_contract_discount,
	premier_contract_discount, popularity_rank, age_group, data,
	post_exhaustion_data_speed, tethering, tethering_and_sharing,
	voice_call, voice_call_first_des, sms, basic_benefit, premium_benefit,
	media_benefit, smart_device, signature_family_discount, description,
	created_at, updated_at`

// AllPlans returns every plan in the catalog.
func (s *SQLiteStore) AllPlans(ctx context.Context) ([]*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans ORDER BY id`
	return s.queryPlans(ctx, query)
}

// PlanTitles returns every plan title.
func (s *SQLiteStore) PlanTitles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT title FROM plans ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query plan titles: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close plan title rows", "error", closeErr)
		}
	}()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("scan plan title: %w", err)
		}
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan titles: %w", err)
	}
	return titles, nil
}

// PlansByTitles returns the plans whose titles are in the given set.
func (s *SQLiteStore) PlansByTitles(ctx context.Context, titles []string) ([]*domain.Plan, error) {
	if len(titles) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(titles))
	placeholders = placeholders[:len(placeholders)-1]
	query := `SELECT ` + planColumns + ` FROM plans WHERE title IN (` + placeholders + `) ORDER BY id`

	args := make([]interface{}, len(titles))
	for i, t := range titles {
		args[i] = t
	}
	return s.queryPlans(ctx, query, args...)
}

// RandomPlan returns one random plan from the given categories.
func (s *SQLiteStore) RandomPlan(ctx context.Context, categories []string) (*domain.Plan, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("no categories given")
	}

	placeholders := strings.Repeat("?,", len(categories))
	placeholders = placeholders[:len(placeholders)-1]
	query := `SELECT ` + planColumns + ` FROM plans WHERE category IN (` + placeholders + `) ORDER BY RANDOM() LIMIT 1`

	args := make([]interface{}, len(categories))
	for i, c := range categories {
		args[i] = c
	}

	plans, err := s.queryPlans(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, nil
	}
	return plans[0], nil
}

func (s *SQLiteStore) queryPlans(ctx context.Context, query string, args ...interface{}) ([]*domain.Plan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close plan rows", "error", closeErr)
		}
	}()

	var plans []*domain.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

func scanPlan(rows *sql.Rows) (*domain.Plan, error) {
	var plan domain.Plan
	var optionalDiscount, premierDiscount, popularityRank sql.NullInt64
	var ageGroup, data, postExhaustion, tethering, tetheringSharing sql.NullString
	var voiceCall, voiceCallFirst, smsTerms, description sql.NullString
	var basicBenefit, premiumBenefit, mediaBenefit, smartDevice, familyDiscount sql.NullString
	var createdAt, updatedAt int64

	if err := rows.Scan(
		&plan.ID, &plan.Category, &plan.Title, &plan.Price,
		&optionalDiscount, &premierDiscount, &popularityRank,
		&ageGroup, &data, &postExhaustion, &tethering, &tetheringSharing,
		&voiceCall, &voiceCallFirst, &smsTerms,
		&basicBenefit, &premiumBenefit, &mediaBenefit, &smartDevice, &familyDiscount,
		&description, &createdAt, &updatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan plan row: %w", err)
	}

	plan.OptionalContractDiscount = int(optionalDiscount.Int64)
	plan.PremierContractDiscount = int(premierDiscount.Int64)
	plan.PopularityRank = int(popularityRank.Int64)
	plan.AgeGroup = ageGroup.String
	plan.Data = data.String
	plan.PostExhaustionDataSpeed = postExhaustion.String
	plan.Tethering = tethering.String
	plan.TetheringAndSharing = tetheringSharing.String
	plan.VoiceCall = voiceCall.String
	plan.VoiceCallFirstDes = voiceCallFirst.String
	plan.SMS = smsTerms.String
	plan.Description = description.String
	plan.CreatedAt = time.Unix(createdAt, 0)
	plan.UpdatedAt = time.Unix(updatedAt, 0)

	var err error
	if plan.BasicBenefit, err = decodeStringList(basicBenefit); err != nil {
		return nil, fmt.Errorf("decode basic_benefit: %w", err)
	}
	if plan.PremiumBenefit, err = decodeStringList(premiumBenefit); err != nil {
		return nil, fmt.Errorf("decode premium_benefit: %w", err)
	}
	if plan.MediaBenefit, err = decodeStringList(mediaBenefit); err != nil {
		return nil, fmt.Errorf("decode media_benefit: %w", err)
	}
	if plan.SmartDevice, err = decodeStringList(smartDevice); err != nil {
		return nil, fmt.Errorf("decode smart_device: %w", err)
	}
	if plan.SignatureFamilyDiscount, err = decodeStringList(familyDiscount); err != nil {
		return nil, fmt.Errorf("decode signature_family_discount: %w", err)
	}

	return &plan, nil
}

func decodeStringList(value sql.NullString) ([]string, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(value.String), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func encodeStringList(list []string) (interface{}, error) {
	if len(list) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// AllBenefits returns every membership/loyalty benefit record.
func (s *SQLiteStore) AllBenefits(ctx context.Context) ([]*domain.Benefit, error) {
	query := `SELECT id, type, level, brand, benefit, category FROM benefits ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query benefits: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close benefit rows", "error", closeErr)
		}
	}()

	var benefits []*domain.Benefit
	for rows.Next() {
		var b domain.Benefit
		if err := rows.Scan(&b.ID, &b.Type, &b.Level, &b.Brand, &b.Benefit, &b.Category); err != nil {
			return nil, fmt.Errorf("scan benefit row: %w", err)
		}
		benefits = append(benefits, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate benefits: %w", err)
	}
	return benefits, nil
}

// SeedPlans replaces the plan catalog with the given records.
func (s *SQLiteStore) SeedPlans(ctx context.Context, plans []*domain.Plan) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back seed transaction", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM plans`); err != nil {
		return 0, fmt.Errorf("clear plans: %w", err)
	}

	insert := `
	INSERT INTO plans (category, title, price, optional_contract_discount,
		premier_contract_discount, popularity_rank, age_group, data,
		post_exhaustion_data_speed, tethering, tethering_and_sharing,
		voice_call, voice_call_first_des, sms, basic_benefit, premium_benefit,
		media_benefit, smart_device, signature_family_discount, description,
		created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().Unix()
	var inserted int64
	for _, plan := range plans {
		basic, err := encodeStringList(plan.BasicBenefit)
		if err != nil {
			return 0, fmt.Errorf("encode basic_benefit for %q: %w", plan.Title, err)
		}
		premium, err := encodeStringList(plan.PremiumBenefit)
		if err != nil {
			return 0, fmt.Errorf("encode premium_benefit for %q: %w", plan.Title, err)
		}
		media, err := encodeStringList(plan.MediaBenefit)
		if err != nil {
			return 0, fmt.Errorf("encode media_benefit for %q: %w", plan.Title, err)
		}
		smart, err := encodeStringList(plan.SmartDevice)
		if err != nil {
			return 0, fmt.Errorf("encode smart_device for %q: %w", plan.Title, err)
		}
		family, err := encodeStringList(plan.SignatureFamilyDiscount)
		if err != nil {
			return 0, fmt.Errorf("encode signature_family_discount for %q: %w", plan.Title, err)
		}

		if _, err := tx.ExecContext(ctx, insert,
			plan.Category, plan.Title, plan.Price,
			nullableInt(plan.OptionalContractDiscount), nullableInt(plan.PremierContractDiscount),
			nullableInt(plan.PopularityRank), nullableString(plan.AgeGroup),
			nullableString(plan.Data), nullableString(plan.PostExhaustionDataSpeed),
			nullableString(plan.Tethering), nullableString(plan.TetheringAndSharing),
			nullableString(plan.VoiceCall), nullableString(plan.VoiceCallFirstDes),
			nullableString(plan.SMS), basic, premium, media, smart, family,
			nullableString(plan.Description), now, now,
		); err != nil {
			return 0, fmt.Errorf("insert plan %q: %w", plan.Title, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed transaction: %w", err)
	}
	return inserted, nil
}

// SeedBenefits replaces the benefit records with the given set.
func (s *SQLiteStore) SeedBenefits(ctx context.Context, benefits []*domain.Benefit) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin benefit seed transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back benefit seed transaction", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM benefits`); err != nil {
		return 0, fmt.Errorf("clear benefits: %w", err)
	}

	insert := `INSERT INTO benefits (type, level, brand, benefit, category) VALUES (?, ?, ?, ?, ?)`
	var inserted int64
	for _, b := range benefits {
		if _, err := tx.ExecContext(ctx, insert, b.Type, b.Level, b.Brand, b.Benefit, b.Category); err != nil {
			return 0, fmt.Errorf("insert benefit %q/%q: %w", b.Brand, b.Benefit, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit benefit seed transaction: %w", err)
	}
	return inserted, nil
}

func scanMessage(rows *sql.Rows) (domain.Message, error) {
	var msg domain.Message
	var recommended sql.NullString
	var createdAt int64

	if err := rows.Scan(&msg.Role, &msg.Content, &recommended, &createdAt); err != nil {
		return domain.Message{}, fmt.Errorf("scan message row: %w", err)
	}

	msg.Timestamp = time.Unix(createdAt, 0)
	if recommended.Valid && recommended.String != "" {
		if err := json.Unmarshal([]byte(recommended.String), &msg.RecommendedPlans); err != nil {
			return domain.Message{}, fmt.Errorf("decode recommended plans: %w", err)
		}
	}
	return msg, nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
