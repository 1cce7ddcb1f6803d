package session

import "time"

// RefreshSession is one persisted refresh token, i.e. one logged-in device.
type RefreshSession struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	RefreshToken string    `db:"refresh_token"`
	UserAgent    string    `db:"user_agent"`
	IPAddress    string    `db:"ip_address"`
	Device       string    `db:"device"`
	LastUsedAt   time.Time `db:"last_used_at"`
	ExpiresAt    time.Time `db:"expires_at"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *RefreshSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// View is what clients see of a session; the token value is never exposed.
type View struct {
	ID         int64     `json:"id"`
	UserAgent  string    `json:"userAgent"`
	IPAddress  string    `json:"ipAddress"`
	Device     string    `json:"device"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *RefreshSession) View() View {
	return View{
		ID:         s.ID,
		UserAgent:  s.UserAgent,
		IPAddress:  s.IPAddress,
		Device:     s.Device,
		LastUsedAt: s.LastUsedAt,
		ExpiresAt:  s.ExpiresAt,
		CreatedAt:  s.CreatedAt,
	}
}
