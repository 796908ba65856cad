package storage

import (
	"context"
	"database/sql"
)

// UserSetting is the per-user configuration the sweeper needs: which
// timezone "yesterday" means for that user.
type UserSetting struct {
	UserID   string
	Timezone string
}

// UpsertUserTimezone stores the user's IANA timezone name.
func (s *Store) UpsertUserTimezone(ctx context.Context, userID, tz string) error {
	if tz == "" {
		tz = "UTC"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, timezone) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET timezone = excluded.timezone`,
		userID, tz)
	return err
}

// ListUserSettings returns every stored settings row.
func (s *Store) ListUserSettings(ctx context.Context) ([]UserSetting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, timezone FROM user_settings ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSettings(rows)
}

// ListUserTimezones returns one entry per task owner, falling back to UTC
// for users who never stored a timezone. The roll-forward sweep iterates
// this so a user without a settings row is still swept.
func (s *Store) ListUserTimezones(ctx context.Context) ([]UserSetting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT t.user_id, COALESCE(u.timezone, 'UTC')
		 FROM tasks t LEFT JOIN user_settings u ON u.user_id = t.user_id
		 ORDER BY t.user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSettings(rows)
}

func collectSettings(rows *sql.Rows) ([]UserSetting, error) {
	out := []UserSetting{}
	for rows.Next() {
		var us UserSetting
		if err := rows.Scan(&us.UserID, &us.Timezone); err != nil {
			return nil, err
		}
		out = append(out, us)
	}
	return out, rows.Err()
}
