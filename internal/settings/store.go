package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNoUser = errors.New("user id must not be empty")

// Store persists one voice settings row per user in SQLite.
type Store struct {
	db       *sql.DB
	defaults Voice
	log      *slog.Logger
	clock    func() time.Time
}

// OpenStore opens (and creates if needed) the settings database at path.
func OpenStore(ctx context.Context, path string, defaults Voice, log *slog.Logger) (*Store, error) {
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("default voice: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, defaults: defaults, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS voice_settings (
    user_id TEXT PRIMARY KEY,
    voice_setting TEXT NOT NULL,
    speed_setting REAL NOT NULL,
    pitch_setting REAL NOT NULL,
    updated_at TEXT NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Defaults returns the triple served for users without a saved row.
func (s *Store) Defaults() Voice {
	return s.defaults
}

// Load returns the user's saved voice, or the defaults when none is stored.
func (s *Store) Load(ctx context.Context, userID string) (Voice, error) {
	v, _, err := s.Read(ctx, userID)
	return v, err
}

// Read is Load plus the time the row was last saved; the zero time when the
// defaults are served.
func (s *Store) Read(ctx context.Context, userID string) (Voice, time.Time, error) {
	if userID == "" {
		return Voice{}, time.Time{}, ErrNoUser
	}
	var doc Document
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT voice_setting, speed_setting, pitch_setting, updated_at FROM voice_settings WHERE user_id = ?`, userID).
		Scan(&doc.VoiceSetting, &doc.SpeedSetting, &doc.PitchSetting, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaults, time.Time{}, nil
	}
	if err != nil {
		return Voice{}, time.Time{}, fmt.Errorf("load voice settings for %s: %w", userID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return Voice{}, time.Time{}, fmt.Errorf("load voice settings for %s: bad updated_at %q", userID, updated)
	}
	return doc.Voice(), ts, nil
}

// Save overwrites the user's voice settings.
func (s *Store) Save(ctx context.Context, userID string, v Voice) error {
	if userID == "" {
		return ErrNoUser
	}
	if err := v.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voice_settings(user_id, voice_setting, speed_setting, pitch_setting, updated_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   voice_setting=excluded.voice_setting,
		   speed_setting=excluded.speed_setting,
		   pitch_setting=excluded.pitch_setting,
		   updated_at=excluded.updated_at`,
		userID, v.VoiceID, v.Rate, v.Pitch, s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save voice settings for %s: %w", userID, err)
	}
	s.log.Debug("voice settings saved", slog.String("user_id", userID), slog.String("voice", v.VoiceID))
	return nil
}
