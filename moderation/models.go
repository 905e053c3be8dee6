package moderation

import (
	"fmt"
	"strconv"
	"time"
)

// User identifies a member of the external membership system. Only the
// ID is required; the username, when known, makes audit output readable.
type User struct {
	ID       int64
	Username string
}

func (u User) String() string {
	if u.Username == "" {
		return strconv.FormatInt(u.ID, 10)
	}

	return fmt.Sprintf("%s (ID %d)", u.Username, u.ID)
}

// Warning is immutable once appended to a user's sequence; the sequence
// itself is append-only except for a full clear.
type Warning struct {
	ID          int64     `json:"id"`
	Reason      string    `json:"reason"`
	ModeratorID int64     `json:"moderator_id"`
	IssuedAt    time.Time `json:"issued_at"`
}

// TempBan is a ban scheduled for automatic reversal; the expiry
// scheduler removes it after a successful unban, or after discovering
// the target is no longer banned.
type TempBan struct {
	UserID      int64     `json:"user_id"`
	UnbanAt     time.Time `json:"unban_at"`
	Reason      string    `json:"reason"`
	ModeratorID int64     `json:"moderator_id"`
}

func (t TempBan) Expired(now time.Time) bool {
	return !t.UnbanAt.After(now)
}
