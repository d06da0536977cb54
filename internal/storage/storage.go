// Package storage persists keyrace state in a local SQLite database.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Setting keys shared by the credential store and preferences.
const (
	SettingGitHubToken     = "github_token"
	SettingGitHubUsername  = "github_username"
	SettingOnlyShowFollows = "only_show_follows"

	settingLeaderboardCache = "leaderboard_cache"
)

// Store wraps SQLite access for counters, settings and history.
type Store struct {
	db *sql.DB
}

// CountersRecord is the persisted snapshot of today's counters.
type CountersRecord struct {
	Date            string // YYYY-MM-DD of the day the counters belong to
	Total           int64
	Minutes         []int64
	Keys            []int64
	Retained        []int64   // trailing minute values carried over from the previous day
	RetainedClearAt time.Time // zero when no carried-over window is pending
	UpdatedAt       time.Time
}

// DayTotal is the keystroke total for one calendar day.
type DayTotal struct {
	Date       string
	Keystrokes int64
}

// Preferences holds user-facing toggles.
type Preferences struct {
	OnlyShowFollows bool
}

// Open opens or creates the SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	// The database holds the GitHub token.
	if err := os.Chmod(path, 0o600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to restrict database permissions: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS daily_counters (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			date TEXT NOT NULL,
			total INTEGER NOT NULL,
			minutes TEXT NOT NULL,
			keys TEXT NOT NULL,
			retained TEXT NOT NULL,
			retained_clear_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS daily_totals (
			date TEXT PRIMARY KEY,
			keystrokes INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetSetting returns the value for key, or "" when it was never set.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting inserts or replaces the value for key.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetPreferences returns the stored preferences, defaulting every toggle to off.
func (s *Store) GetPreferences() Preferences {
	value, err := s.GetSetting(SettingOnlyShowFollows)
	if err != nil {
		return Preferences{}
	}
	return Preferences{OnlyShowFollows: value == "true"}
}

// SetOnlyShowFollows stores the "only show people I follow" preference.
func (s *Store) SetOnlyShowFollows(enabled bool) error {
	return s.SetSetting(SettingOnlyShowFollows, boolToString(enabled))
}

// LoadCounters returns the persisted counters snapshot. ok is false when none was ever saved.
// Fields that fail to parse are replaced by zeros.
func (s *Store) LoadCounters() (rec CountersRecord, ok bool, err error) {
	var minutes, keys, retained, clearAt, updatedAt string
	err = s.db.QueryRow(`SELECT date, total, minutes, keys, retained, retained_clear_at, updated_at
		FROM daily_counters WHERE id = 1`).Scan(&rec.Date, &rec.Total, &minutes, &keys, &retained, &clearAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CountersRecord{}, false, nil
	}
	if err != nil {
		return CountersRecord{}, false, err
	}

	rec.Minutes = decodeCounts(minutes)
	rec.Keys = decodeCounts(keys)
	rec.Retained = decodeCounts(retained)
	rec.RetainedClearAt = parseTime(clearAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, true, nil
}

// SaveCounters replaces the counters snapshot and records the day's total in the history table.
func (s *Store) SaveCounters(rec CountersRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.Exec(`INSERT INTO daily_counters (id, date, total, minutes, keys, retained, retained_clear_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			total = excluded.total,
			minutes = excluded.minutes,
			keys = excluded.keys,
			retained = excluded.retained,
			retained_clear_at = excluded.retained_clear_at,
			updated_at = excluded.updated_at`,
		rec.Date,
		rec.Total,
		encodeCounts(rec.Minutes),
		encodeCounts(rec.Keys),
		encodeCounts(rec.Retained),
		formatTime(rec.RetainedClearAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return err
	}

	if rec.Date != "" {
		_, err = tx.Exec(`INSERT INTO daily_totals (date, keystrokes) VALUES (?, ?)
			ON CONFLICT(date) DO UPDATE SET keystrokes = excluded.keystrokes`, rec.Date, rec.Total)
		if err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

// GetHistoricalTotals returns one entry per day for the days ending at end, oldest first.
// Days without data are reported with zero keystrokes.
func (s *Store) GetHistoricalTotals(end time.Time, days int) ([]DayTotal, error) {
	if days <= 0 {
		return nil, nil
	}
	start := end.AddDate(0, 0, -(days - 1))
	rows, err := s.db.Query(`SELECT date, keystrokes FROM daily_totals WHERE date >= ? AND date <= ?`,
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDate := make(map[string]int64)
	for rows.Next() {
		var date string
		var keystrokes int64
		if err := rows.Scan(&date, &keystrokes); err != nil {
			return nil, err
		}
		byDate[date] = keystrokes
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]DayTotal, 0, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		result = append(result, DayTotal{Date: date, Keystrokes: byDate[date]})
	}
	return result, nil
}

// SaveLeaderboard stores the last accepted leaderboard payload.
func (s *Store) SaveLeaderboard(data []byte) error {
	return s.SetSetting(settingLeaderboardCache, string(data))
}

// LoadLeaderboard returns the cached leaderboard payload, or nil when none is stored.
func (s *Store) LoadLeaderboard() ([]byte, error) {
	value, err := s.GetSetting(settingLeaderboardCache)
	if err != nil || value == "" {
		return nil, err
	}
	return []byte(value), nil
}

// encodeCounts joins counts as comma-separated decimals.
func encodeCounts(counts []int64) string {
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return strings.Join(parts, ",")
}

// decodeCounts parses a comma-separated list; unparseable or negative entries become zero.
func decodeCounts(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	counts := make([]int64, len(parts))
	for i, p := range parts {
		v, err := parseInt(strings.TrimSpace(p))
		if err != nil || v < 0 {
			continue
		}
		counts[i] = v
	}
	return counts
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
