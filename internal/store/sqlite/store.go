// Package sqlite provides the sqlite-backed store used in single-node
// deployments. Timestamps are stored as fixed-width UTC text and config
// maps as JSON.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"area-engine/internal/common/errors"
	"area-engine/internal/models"
	"area-engine/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS rules (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	action_type     TEXT NOT NULL,
	action_config   TEXT NOT NULL DEFAULT '{}',
	reaction_type   TEXT NOT NULL,
	reaction_config TEXT NOT NULL DEFAULT '{}',
	last_triggered  TEXT,
	enabled         INTEGER NOT NULL DEFAULT 1,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled);

CREATE TABLE IF NOT EXISTS credentials (
	user_id       TEXT NOT NULL,
	provider      TEXT NOT NULL,
	access_token  TEXT NOT NULL,
	refresh_token TEXT,
	expires_at    TEXT,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (user_id, provider)
);
`

// Store is a sqlite-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the sqlite database at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.ConnectionError("failed to open sqlite database", err)
	}

	// sqlite tolerates exactly one writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.InternalError("failed to migrate sqlite schema", err)
	}

	return &Store{db: db}, nil
}

// timeLayout is fixed-width so the SQL text comparison in
// UpdateWatermark matches chronological order. RFC3339Nano drops
// trailing zeros, which sorts "05Z" after "05.5Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

func encodeConfig(m map[string]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// CreateRule inserts a new rule.
func (s *Store) CreateRule(ctx context.Context, rule *models.Rule) error {
	actionConfig, err := encodeConfig(rule.ActionConfig)
	if err != nil {
		return errors.InternalError("failed to encode action config", err)
	}
	reactionConfig, err := encodeConfig(rule.ReactionConfig)
	if err != nil {
		return errors.InternalError("failed to encode reaction config", err)
	}

	var lastTriggered sql.NullString
	if rule.LastTriggered != nil {
		lastTriggered = sql.NullString{String: encodeTime(*rule.LastTriggered), Valid: true}
	}

	now := encodeTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, user_id, action_type, action_config, reaction_type, reaction_config, last_triggered, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.UserID, rule.ActionType, actionConfig, rule.ReactionType, reactionConfig,
		lastTriggered, rule.Enabled, now, now,
	)
	if err != nil {
		return errors.InternalError("failed to insert rule", err)
	}
	return nil
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, action_type, action_config, reaction_type, reaction_config, last_triggered, enabled, created_at, updated_at
		FROM rules WHERE id = ?`, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError(fmt.Sprintf("rule %s", id))
	}
	if err != nil {
		return nil, errors.InternalError("failed to read rule", err)
	}
	return rule, nil
}

// ListEnabledRules returns every enabled rule.
func (s *Store) ListEnabledRules(ctx context.Context) ([]*models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, action_type, action_config, reaction_type, reaction_config, last_triggered, enabled, created_at, updated_at
		FROM rules WHERE enabled = 1 ORDER BY created_at`)
	if err != nil {
		return nil, errors.InternalError("failed to list rules", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.InternalError("failed to scan rule", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpdateWatermark sets last_triggered = max(current, ts) in a single
// statement so the stored watermark never decreases.
func (s *Store) UpdateWatermark(ctx context.Context, id string, ts time.Time) error {
	encoded := encodeTime(ts)
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET
			last_triggered = CASE
				WHEN last_triggered IS NULL OR last_triggered < ? THEN ?
				ELSE last_triggered
			END,
			updated_at = ?
		WHERE id = ?`,
		encoded, encoded, encodeTime(time.Now()), id,
	)
	if err != nil {
		return errors.InternalError("failed to update watermark", err)
	}
	return requireRowAffected(res, id)
}

// SetRuleEnabled flips a rule's enabled flag.
func (s *Store) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, encodeTime(time.Now()), id,
	)
	if err != nil {
		return errors.InternalError("failed to update rule", err)
	}
	return requireRowAffected(res, id)
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return errors.InternalError("failed to delete rule", err)
	}
	return requireRowAffected(res, id)
}

// GetCredential returns the active credential for (userID, provider).
func (s *Store) GetCredential(ctx context.Context, userID, provider string) (*models.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, provider, access_token, refresh_token, expires_at, updated_at
		FROM credentials WHERE user_id = ? AND provider = ?`, userID, provider)

	var cred models.Credential
	var refreshToken, expiresAt sql.NullString
	var updatedAt string

	err := row.Scan(&cred.UserID, &cred.Provider, &cred.AccessToken, &refreshToken, &expiresAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError(fmt.Sprintf("credential %s/%s", userID, provider))
	}
	if err != nil {
		return nil, errors.InternalError("failed to read credential", err)
	}

	cred.RefreshToken = refreshToken.String
	if expiresAt.Valid {
		t, err := decodeTime(expiresAt.String)
		if err != nil {
			return nil, errors.InternalError("corrupt expires_at", err)
		}
		cred.ExpiresAt = &t
	}
	if t, err := decodeTime(updatedAt); err == nil {
		cred.UpdatedAt = t
	}

	return &cred, nil
}

// SaveCredential upserts the credential for its (userID, provider) pair.
func (s *Store) SaveCredential(ctx context.Context, cred *models.Credential) error {
	var expiresAt sql.NullString
	if cred.ExpiresAt != nil {
		expiresAt = sql.NullString{String: encodeTime(*cred.ExpiresAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, provider, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		cred.UserID, cred.Provider, cred.AccessToken,
		sql.NullString{String: cred.RefreshToken, Valid: cred.RefreshToken != ""},
		expiresAt, encodeTime(time.Now()),
	)
	if err != nil {
		return errors.InternalError("failed to save credential", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health pings the database.
func (s *Store) Health() error {
	if err := s.db.Ping(); err != nil {
		return errors.ConnectionError("sqlite ping failed", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*models.Rule, error) {
	var rule models.Rule
	var actionConfig, reactionConfig, createdAt, updatedAt string
	var lastTriggered sql.NullString

	err := row.Scan(&rule.ID, &rule.UserID, &rule.ActionType, &actionConfig,
		&rule.ReactionType, &reactionConfig, &lastTriggered, &rule.Enabled,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(actionConfig), &rule.ActionConfig); err != nil {
		return nil, fmt.Errorf("corrupt action config: %w", err)
	}
	if err := json.Unmarshal([]byte(reactionConfig), &rule.ReactionConfig); err != nil {
		return nil, fmt.Errorf("corrupt reaction config: %w", err)
	}

	if lastTriggered.Valid {
		t, err := decodeTime(lastTriggered.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt last_triggered: %w", err)
		}
		rule.LastTriggered = &t
	}

	if t, err := decodeTime(createdAt); err == nil {
		rule.CreatedAt = t
	}
	if t, err := decodeTime(updatedAt); err == nil {
		rule.UpdatedAt = t
	}

	return &rule, nil
}

func requireRowAffected(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.InternalError("failed to check affected rows", err)
	}
	if affected == 0 {
		return errors.NotFoundError(fmt.Sprintf("rule %s", id))
	}
	return nil
}

var _ store.Store = (*Store)(nil)
