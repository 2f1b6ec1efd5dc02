package profilemem

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/mnemos/memory"
	"github.com/hrygo/mnemos/memory/extract"
)

func init() {
	memory.MustRegister(memory.DomainProfile, "sqlite", func(cfg memory.Config) (memory.Provider, error) {
		return NewSQLite(cfg)
	})
}

// SQLite profile support is best-effort for development and single-user
// instances; concurrent writers go through a single connection.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS user_fact (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	category TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	confidence REAL NOT NULL,
	source TEXT NOT NULL,
	sensitive INTEGER NOT NULL DEFAULT 0,
	created_ts INTEGER NOT NULL,
	updated_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_fact_user ON user_fact (user_id, updated_ts DESC);

CREATE TABLE IF NOT EXISTS user_preferences (
	user_id TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS behavior_pattern (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	payload TEXT,
	confirmed INTEGER,
	updated_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_behavior_pattern_user ON behavior_pattern (user_id, updated_ts DESC);

CREATE TABLE IF NOT EXISTS extraction_ack (
	id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	confirmed INTEGER NOT NULL,
	acked_ts INTEGER NOT NULL,
	PRIMARY KEY (user_id, id)
);
`

// SQLiteProvider is the durable profile provider backed by modernc sqlite.
type SQLiteProvider struct {
	memory.Lifecycle

	db       *sql.DB
	dsn      string
	pipeline *extract.Pipeline
	logger   *slog.Logger
	metrics  memory.Metrics
}

// NewSQLite creates a sqlite-backed profile provider from cfg.DSN.
// The schema is created on Initialize.
func NewSQLite(cfg memory.Config) (*SQLiteProvider, error) {
	if cfg.DSN == "" {
		return nil, errors.New("dsn required for sqlite profile provider")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rules := extract.Default()
	if path := cfg.Options["rules_file"]; path != "" {
		loaded, err := extract.LoadRules(path)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	return &SQLiteProvider{
		dsn:      cfg.DSN,
		pipeline: extract.NewPipeline(rules),
		logger:   logger.With("provider", "profile/sqlite"),
		metrics:  cfg.Metrics,
	}, nil
}

// Initialize opens the database and applies the schema. Idempotent.
func (p *SQLiteProvider) Initialize(ctx context.Context) error {
	if !p.Start() {
		return nil
	}

	// WAL journal mode prevents writer/reader locking issues; a single
	// connection is optimal for modernc sqlite with WAL.
	db, err := sql.Open("sqlite", p.dsn+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return errors.Wrapf(err, "failed to open db with dsn: %s", p.dsn)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "failed to apply profile schema")
	}
	p.db = db
	p.logger.Info("sqlite profile provider initialized", "dsn", p.dsn)
	return nil
}

// Shutdown closes the database. Idempotent and safe without Initialize.
func (p *SQLiteProvider) Shutdown(ctx context.Context) error {
	if !p.Stop() {
		return nil
	}
	if p.db == nil {
		return nil
	}
	return errors.Wrap(p.db.Close(), "failed to close sqlite db")
}

func (p *SQLiteProvider) HealthCheck(ctx context.Context) (*memory.Health, error) {
	start := time.Now()
	if !p.Ready() {
		return &memory.Health{Status: memory.HealthUnhealthy, Latency: time.Since(start)}, nil
	}
	if err := p.db.PingContext(ctx); err != nil {
		return &memory.Health{
			Status:  memory.HealthUnhealthy,
			Latency: time.Since(start),
			Details: map[string]string{"error": err.Error()},
		}, nil
	}
	return &memory.Health{Status: memory.HealthHealthy, Latency: time.Since(start)}, nil
}

func (p *SQLiteProvider) observe(op string, start time.Time, err error) {
	if p.metrics != nil {
		p.metrics.ObserveOp(memory.DomainProfile, op, time.Since(start), err)
	}
}

func (p *SQLiteProvider) AddFact(ctx context.Context, userID string, fact *memory.UserFact) (id string, err error) {
	start := time.Now()
	defer func() { p.observe("add_fact", start, err) }()
	if err = p.Guard(); err != nil {
		return "", err
	}

	now := time.Now()
	id = uuid.New().String()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO user_fact (id, user_id, category, key, value, confidence, source, sensitive, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, fact.Category, fact.Key, fact.Value, fact.Confidence, fact.Source,
		boolToInt(fact.Sensitive), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to insert fact")
	}
	return id, nil
}

func (p *SQLiteProvider) UpdateFact(ctx context.Context, userID, factID string, patch *memory.FactPatch) (err error) {
	start := time.Now()
	defer func() { p.observe("update_fact", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}

	fact, err := p.getFact(ctx, userID, factID)
	if err != nil {
		return err
	}
	applyFactPatch(fact, patch)
	updated := bump(fact.UpdatedAt)

	_, err = p.db.ExecContext(ctx, `
		UPDATE user_fact SET category = ?, key = ?, value = ?, confidence = ?, source = ?, sensitive = ?, updated_ts = ?
		WHERE id = ? AND user_id = ?`,
		fact.Category, fact.Key, fact.Value, fact.Confidence, fact.Source,
		boolToInt(fact.Sensitive), updated.UnixNano(), factID, userID,
	)
	return errors.Wrap(err, "failed to update fact")
}

func (p *SQLiteProvider) DeleteFact(ctx context.Context, userID, factID string) (err error) {
	start := time.Now()
	defer func() { p.observe("delete_fact", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `DELETE FROM user_fact WHERE id = ? AND user_id = ?`, factID, userID)
	return errors.Wrap(err, "failed to delete fact")
}

func (p *SQLiteProvider) GetFacts(ctx context.Context, userID string, category memory.FactCategory) ([]*memory.UserFact, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}

	where, args := []string{"user_id = ?"}, []any{userID}
	if category != "" {
		where, args = append(where, "category = ?"), append(args, category)
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, category, key, value, confidence, source, sensitive, created_ts, updated_ts
		FROM user_fact WHERE `+strings.Join(where, " AND ")+` ORDER BY updated_ts DESC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list facts")
	}
	defer rows.Close()

	var facts []*memory.UserFact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

func (p *SQLiteProvider) SearchFacts(ctx context.Context, userID, query string) ([]*memory.UserFact, error) {
	facts, err := p.GetFacts(ctx, userID, "")
	if err != nil {
		return nil, err
	}

	// Term matching happens here rather than in SQL so the AND-of-terms
	// containment semantics stay identical across implementations.
	terms := strings.Fields(strings.ToLower(query))
	matched := facts[:0]
	for _, f := range facts {
		if matchesAllTerms(f, terms) {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

func (p *SQLiteProvider) GetPreferences(ctx context.Context, userID string) (memory.Preferences, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}

	var payload string
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM user_preferences WHERE user_id = ?`, userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.DefaultPreferences(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read preferences")
	}

	var prefs memory.Preferences
	if err := json.Unmarshal([]byte(payload), &prefs); err != nil {
		return nil, errors.Wrap(err, "failed to decode preferences")
	}
	return prefs, nil
}

func (p *SQLiteProvider) UpdatePreferences(ctx context.Context, userID string, patch memory.Preferences) (memory.Preferences, error) {
	current, err := p.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	merged := mergePreferences(current, patch)
	if err := p.writePreferences(ctx, userID, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func (p *SQLiteProvider) ResetPreferences(ctx context.Context, userID string) error {
	if err := p.Guard(); err != nil {
		return err
	}
	return p.writePreferences(ctx, userID, memory.DefaultPreferences())
}

func (p *SQLiteProvider) writePreferences(ctx context.Context, userID string, prefs memory.Preferences) error {
	payload, err := json.Marshal(prefs)
	if err != nil {
		return errors.Wrap(err, "failed to encode preferences")
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, payload) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET payload = excluded.payload`,
		userID, string(payload))
	return errors.Wrap(err, "failed to write preferences")
}

func (p *SQLiteProvider) AddPattern(ctx context.Context, userID string, pattern *memory.BehaviorPattern) (id string, err error) {
	start := time.Now()
	defer func() { p.observe("add_pattern", start, err) }()
	if err = p.Guard(); err != nil {
		return "", err
	}

	payload, err := json.Marshal(pattern.Payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode pattern payload")
	}
	id = uuid.New().String()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO behavior_pattern (id, user_id, type, description, payload, confirmed, updated_ts)
		VALUES (?, ?, ?, ?, ?, NULL, ?)`,
		id, userID, pattern.Type, pattern.Description, string(payload), time.Now().UnixNano())
	if err != nil {
		return "", errors.Wrap(err, "failed to insert pattern")
	}
	return id, nil
}

func (p *SQLiteProvider) GetPatterns(ctx context.Context, userID string) ([]*memory.BehaviorPattern, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, type, description, payload, confirmed, updated_ts
		FROM behavior_pattern WHERE user_id = ? ORDER BY updated_ts DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list patterns")
	}
	defer rows.Close()

	var patterns []*memory.BehaviorPattern
	for rows.Next() {
		pat, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pat)
	}
	return patterns, rows.Err()
}

func (p *SQLiteProvider) UpdatePattern(ctx context.Context, userID, patternID string, patch *memory.PatternPatch) (err error) {
	start := time.Now()
	defer func() { p.observe("update_pattern", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}

	pat, err := p.getPattern(ctx, userID, patternID)
	if err != nil {
		return err
	}
	if patch.Type != nil {
		pat.Type = *patch.Type
	}
	if patch.Description != nil {
		pat.Description = *patch.Description
	}
	if patch.Payload != nil {
		pat.Payload = patch.Payload
	}
	payload, err := json.Marshal(pat.Payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode pattern payload")
	}

	_, err = p.db.ExecContext(ctx, `
		UPDATE behavior_pattern SET type = ?, description = ?, payload = ?, updated_ts = ?
		WHERE id = ? AND user_id = ?`,
		pat.Type, pat.Description, string(payload), bump(pat.UpdatedAt).UnixNano(), patternID, userID)
	return errors.Wrap(err, "failed to update pattern")
}

func (p *SQLiteProvider) DeletePattern(ctx context.Context, userID, patternID string) (err error) {
	start := time.Now()
	defer func() { p.observe("delete_pattern", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `DELETE FROM behavior_pattern WHERE id = ? AND user_id = ?`, patternID, userID)
	return errors.Wrap(err, "failed to delete pattern")
}

func (p *SQLiteProvider) ConfirmPattern(ctx context.Context, userID, patternID string, confirmed bool) (err error) {
	start := time.Now()
	defer func() { p.observe("confirm_pattern", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}

	pat, err := p.getPattern(ctx, userID, patternID)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		UPDATE behavior_pattern SET confirmed = ?, updated_ts = ? WHERE id = ? AND user_id = ?`,
		boolToInt(confirmed), bump(pat.UpdatedAt).UnixNano(), patternID, userID)
	return errors.Wrap(err, "failed to confirm pattern")
}

func (p *SQLiteProvider) ExtractFromConversation(ctx context.Context, userID string, messages []memory.Message) (*memory.Extraction, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}
	facts := p.pipeline.Run(messages)
	if facts == nil {
		facts = []*memory.UserFact{}
	}
	return &memory.Extraction{
		ID:           shortuuid.New(),
		NewFacts:     facts,
		UpdatedFacts: []*memory.UserFact{},
		NewPatterns:  []*memory.BehaviorPattern{},
	}, nil
}

func (p *SQLiteProvider) ConfirmExtraction(ctx context.Context, userID, extractionID string, confirmed bool) error {
	if err := p.Guard(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO extraction_ack (id, user_id, confirmed, acked_ts) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, id) DO UPDATE SET confirmed = excluded.confirmed, acked_ts = excluded.acked_ts`,
		extractionID, userID, boolToInt(confirmed), time.Now().UnixNano())
	return errors.Wrap(err, "failed to record extraction ack")
}

func (p *SQLiteProvider) ExportProfile(ctx context.Context, userID string) (*memory.ProfileSnapshot, error) {
	facts, err := p.GetFacts(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	prefs, err := p.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	patterns, err := p.GetPatterns(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &memory.ProfileSnapshot{Facts: facts, Preferences: prefs, Patterns: patterns}, nil
}

func (p *SQLiteProvider) getFact(ctx context.Context, userID, factID string) (*memory.UserFact, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, category, key, value, confidence, source, sensitive, created_ts, updated_ts
		FROM user_fact WHERE id = ? AND user_id = ?`, factID, userID)
	fact, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	return fact, err
}

func (p *SQLiteProvider) getPattern(ctx context.Context, userID, patternID string) (*memory.BehaviorPattern, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, type, description, payload, confirmed, updated_ts
		FROM behavior_pattern WHERE id = ? AND user_id = ?`, patternID, userID)
	pat, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	return pat, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (*memory.UserFact, error) {
	var fact memory.UserFact
	var sensitive int
	var createdTs, updatedTs int64
	err := row.Scan(&fact.ID, &fact.Category, &fact.Key, &fact.Value,
		&fact.Confidence, &fact.Source, &sensitive, &createdTs, &updatedTs)
	if err != nil {
		return nil, err
	}
	fact.Sensitive = sensitive != 0
	fact.CreatedAt = time.Unix(0, createdTs)
	fact.UpdatedAt = time.Unix(0, updatedTs)
	return &fact, nil
}

func scanPattern(row rowScanner) (*memory.BehaviorPattern, error) {
	var pat memory.BehaviorPattern
	var payload sql.NullString
	var confirmed sql.NullInt64
	var updatedTs int64
	err := row.Scan(&pat.ID, &pat.Type, &pat.Description, &payload, &confirmed, &updatedTs)
	if err != nil {
		return nil, err
	}
	if payload.Valid && payload.String != "" && payload.String != "null" {
		if err := json.Unmarshal([]byte(payload.String), &pat.Payload); err != nil {
			return nil, errors.Wrap(err, "failed to decode pattern payload")
		}
	}
	if confirmed.Valid {
		v := confirmed.Int64 != 0
		pat.Confirmed = &v
	}
	pat.UpdatedAt = time.Unix(0, updatedTs)
	return &pat, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ memory.ProfileProvider = (*SQLiteProvider)(nil)
