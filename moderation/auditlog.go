package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardbot-gg/guardbot/common"
)

// ModAction describes a moderation action kind the way it shows up in
// the audit log.
type ModAction struct {
	Prefix string
	Emoji  string
	Color  int

	Footer string
}

func (m ModAction) String() string {
	str := m.Emoji + m.Prefix
	if m.Footer != "" {
		str += " (" + m.Footer + ")"
	}

	return str
}

var (
	MAKick           = ModAction{Prefix: "Kicked", Emoji: "👢", Color: 0xf2a013}
	MABanned         = ModAction{Prefix: "Banned", Emoji: "🔨", Color: 0xd64848}
	MAUnbanned       = ModAction{Prefix: "Unbanned", Emoji: "🔓", Color: 0x62c65f}
	MATimeoutAdded   = ModAction{Prefix: "Timed out", Emoji: "⏱", Color: 0x9b59b6}
	MATimeoutRemoved = ModAction{Prefix: "Timeout removed from", Emoji: "⏱", Color: 0x62c65f}
	MAWarned         = ModAction{Prefix: "Warned", Emoji: "⚠", Color: 0xfca253}
	MAClearWarnings  = ModAction{Prefix: "Cleared warnings of", Emoji: "👌", Color: 0x62c65f}
	MABlocked        = ModAction{Prefix: "Blocked", Emoji: "🚫", Color: 0xd64848}
	MAUnblocked      = ModAction{Prefix: "Unblocked", Emoji: "✅", Color: 0x62c65f}
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityNotice
	SeverityCritical
)

// Entry is one audit record delivered to a guild's configured
// destination.
type Entry struct {
	ID          int64
	Action      ModAction
	Description string
	Severity    Severity
	TargetID    int64
	ModeratorID int64
	Timestamp   time.Time
}

// AuditRecorder is the sink the executor and scheduler hand outcomes
// to. Implementations are best-effort by contract: a failed or missing
// destination never blocks or reverts the action that produced the
// entry.
type AuditRecorder interface {
	Record(ctx context.Context, guildID int64, entry Entry)
}

// AuditLog delivers entries to each guild's configured action channel
// through the gateway.
type AuditLog struct {
	gateway Gateway
	configs *GuildConfigCache
	log     *logrus.Entry
}

func NewAuditLog(gateway Gateway, configs *GuildConfigCache) *AuditLog {
	return &AuditLog{
		gateway: gateway,
		configs: configs,
		log:     common.GetPluginLogger("auditlog"),
	}
}

func (l *AuditLog) Record(ctx context.Context, guildID int64, entry Entry) {
	conf, err := l.configs.Get(ctx, guildID)
	if err != nil {
		l.log.WithError(err).WithField("guild", guildID).Error("failed fetching config for audit entry")
		return
	}

	if conf.ActionChannel == 0 {
		// no destination configured for this guild
		return
	}

	if entry.ID == 0 {
		entry.ID = common.GenID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	err = l.gateway.SendChannelMessage(ctx, conf.ActionChannel, formatEntry(entry))
	if err != nil {
		l.log.WithError(err).WithField("guild", guildID).Error("failed delivering audit log entry")
	}
}

func formatEntry(e Entry) string {
	return fmt.Sprintf("**%s%s** <@%d> *(ID %d)*\n📄**Reason:** %s\n**Entry ID:** %d",
		e.Action.Emoji, e.Action.Prefix, e.TargetID, e.TargetID, e.Description, e.ID)
}
