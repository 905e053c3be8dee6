package moderation

import (
	"context"
	"strings"
	"text/template"
	"time"

	"emperror.dev/errors"
	"github.com/sirupsen/logrus"

	"github.com/guardbot-gg/guardbot/common"
)

// Gateway is the external membership system the executor acts against.
// Implementations map the system's failure modes onto the error
// sentinels in this package.
type Gateway interface {
	SendDM(ctx context.Context, userID int64, message string) error
	Kick(ctx context.Context, guildID, userID int64, reason string) error
	Ban(ctx context.Context, guildID, userID int64, reason string, deleteMessageDays int) error
	Unban(ctx context.Context, guildID, userID int64, reason string) error
	Timeout(ctx context.Context, guildID, userID int64, until *time.Time, reason string) error
	SendChannelMessage(ctx context.Context, channelID int64, content string) error
}

const (
	MaxTimeoutDuration     = 40320 * time.Minute
	MinTimeoutDuration     = time.Minute
	DefaultTimeoutDuration = 10 * time.Minute

	DefaultDMMessage = "You have been {{.ModAction}}\n**Reason:** {{.Reason}}"
)

// HierarchyCheck carries the rank data the hierarchy guard compares
// for one destructive action.
type HierarchyCheck struct {
	Actor   Ranked
	Target  Ranked
	BotRank int
}

// ActionRequest describes a single moderation action. Transient,
// constructed per invocation, never persisted.
type ActionRequest struct {
	GuildID int64
	Actor   User
	Target  User

	// Hierarchy, when set, is run through the hierarchy guard before
	// the notify phase; a denied verdict resolves the request as
	// PermissionDenied with no side effects.
	Hierarchy *HierarchyCheck

	Action   ModAction
	Severity Severity
	Reason   string
	Duration time.Duration

	// DMMessage is the notification template; empty means the target
	// is not notified.
	DMMessage string

	// Silent marks automatic actions: no notification is attempted and
	// the presentation layer is told to suppress its own ack.
	Silent bool

	// SkipAudit drops the record phase, for action kinds the guild
	// opted out of logging.
	SkipAudit bool

	// Perform applies the action against the external membership
	// system.
	Perform func(ctx context.Context) error
}

// ActionOutcome is the single explicit resolution every request gets.
type ActionOutcome struct {
	Success  bool
	Notified bool

	FailureKind FailureKind
	Err         error

	AuditDescription string

	// SuppressNotification tells the presentation layer not to emit
	// its own acknowledgement for this action.
	SuppressNotification bool
}

// Executor runs the three-phase action protocol: notify (best-effort),
// perform, record (best-effort). It never retries; retry policy belongs
// to the caller.
type Executor struct {
	gateway Gateway
	audit   AuditRecorder
	cache   *StateCache
	configs *GuildConfigCache
	self    User
	log     *logrus.Entry
}

func NewExecutor(gateway Gateway, audit AuditRecorder, cache *StateCache, configs *GuildConfigCache, self User) *Executor {
	return &Executor{
		gateway: gateway,
		audit:   audit,
		cache:   cache,
		configs: configs,
		self:    self,
		log:     common.GetPluginLogger("executor"),
	}
}

// Self returns the identity the executor acts as, used as the actor of
// automatic actions.
func (x *Executor) Self() User {
	return x.self
}

// Execute runs req through notify -> perform -> record. The outcome is
// returned to the caller regardless of how the record phase went; a
// failed perform is never silently swallowed.
func (x *Executor) Execute(ctx context.Context, req *ActionRequest) *ActionOutcome {
	out := &ActionOutcome{SuppressNotification: req.Silent}

	if req.Perform == nil {
		out.Err = errors.WithMessage(ErrValidation, "action request without a perform step")
		out.FailureKind = FailureValidation
		return out
	}

	if req.Hierarchy != nil {
		if v := CanModerate(req.Hierarchy.Actor, req.Hierarchy.Target, req.Hierarchy.BotRank); !v.Allowed {
			out.Err = errors.WithMessage(ErrPermissionDenied, v.Reason)
			out.FailureKind = FailurePermissionDenied
			return out
		}
	}

	// Notify. Delivery failure (target has DMs disabled, etc.) is
	// recorded but never aborts the action.
	if req.DMMessage != "" && !req.Silent {
		body, err := renderDM(req)
		if err == nil && strings.TrimSpace(body) != "" {
			err = x.gateway.SendDM(ctx, req.Target.ID, body)
		}

		if err != nil {
			x.log.WithError(err).WithField("guild", req.GuildID).Warn("failed notifying target")
		} else {
			out.Notified = true
		}
	}

	// Perform.
	if err := req.Perform(ctx); err != nil {
		out.Err = err
		out.FailureKind = Classify(err)
		return out
	}
	out.Success = true

	x.log.WithField("guild", req.GuildID).Infof("MODERATION: %s %s %s cause %q",
		req.Actor.String(), req.Action.Prefix, req.Target.String(), req.Reason)

	// Record, best effort.
	desc := req.Reason
	if desc == "" {
		desc = "(no reason specified)"
	}
	if req.DMMessage != "" && !req.Silent && !out.Notified {
		desc += " (could not notify the target)"
	}
	out.AuditDescription = desc

	if !req.SkipAudit {
		x.audit.Record(ctx, req.GuildID, Entry{
			Action:      req.Action,
			Description: desc,
			Severity:    req.Severity,
			TargetID:    req.Target.ID,
			ModeratorID: req.Actor.ID,
			Timestamp:   time.Now(),
		})
	}

	return out
}

func renderDM(req *ActionRequest) (string, error) {
	tmpl, err := template.New("dm").Parse(req.DMMessage)
	if err != nil {
		return "", errors.WithMessage(err, "parse dm template")
	}

	humanDuration := "permanently"
	if req.Duration > 0 {
		humanDuration = common.HumanizeDuration(req.Duration)
	}

	data := map[string]interface{}{
		"ModAction":     req.Action.String(),
		"Reason":        req.Reason,
		"Author":        req.Actor.String(),
		"Guild":         req.GuildID,
		"Duration":      req.Duration,
		"HumanDuration": humanDuration,
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.WithMessage(err, "execute dm template")
	}

	return buf.String(), nil
}

// fullReason prepends the actor's name unless the action was triggered
// automatically.
func (x *Executor) fullReason(actor User, reason string) string {
	if actor.ID == x.self.ID {
		return reason
	}

	return actor.String() + ": " + reason
}

func validationFailure(silent bool, msg string) *ActionOutcome {
	return &ActionOutcome{
		Err:                  errors.WithMessage(ErrValidation, msg),
		FailureKind:          FailureValidation,
		SuppressNotification: silent,
	}
}

// ParseActionDuration turns a user supplied duration string like
// "1day3h" or "10m" into the duration the punishment helpers take.
// Failures are validation errors, rejected before any side effect.
func ParseActionDuration(str string) (time.Duration, error) {
	d, err := common.ParseDuration(str)
	if err != nil {
		return 0, errors.WithMessage(ErrValidation, err.Error())
	}
	if d < 0 {
		return 0, errors.WithMessage(ErrValidation, "duration cannot be negative")
	}

	return d, nil
}

func orDefaultDM(msg string) string {
	if msg == "" {
		return DefaultDMMessage
	}

	return msg
}

// KickUser kicks target, notifying them first and recording the
// outcome in the guild's audit log. ranks, when non-nil, is checked
// against the role hierarchy before anything happens; a nil ranks means
// the caller had no member to resolve ranks from.
func (x *Executor) KickUser(ctx context.Context, guildID int64, actor, target User, ranks *HierarchyCheck, reason string) (*ActionOutcome, error) {
	conf, err := x.configs.Get(ctx, guildID)
	if err != nil {
		return nil, common.ErrWithCaller(err)
	}

	lockPunish(guildID, target.ID)
	defer unlockPunish(guildID, target.ID)

	return x.Execute(ctx, &ActionRequest{
		GuildID:   guildID,
		Actor:     actor,
		Target:    target,
		Hierarchy: ranks,
		Action:    MAKick,
		Severity:  SeverityCritical,
		Reason:    reason,
		DMMessage: orDefaultDM(conf.KickMessage),
		SkipAudit: !conf.LogKicks,
		Perform: func(ctx context.Context) error {
			return x.gateway.Kick(ctx, guildID, target.ID, x.fullReason(actor, reason))
		},
	}), nil
}

// BanUser bans target permanently.
func (x *Executor) BanUser(ctx context.Context, guildID int64, actor, target User, ranks *HierarchyCheck, reason string) (*ActionOutcome, error) {
	return x.BanUserWithDuration(ctx, guildID, actor, target, ranks, reason, 0, -1)
}

// BanUserWithDuration bans target; a positive duration registers a
// tempban entry the expiry scheduler will lift. deleteMessageDays < 0
// means the guild default.
func (x *Executor) BanUserWithDuration(ctx context.Context, guildID int64, actor, target User, ranks *HierarchyCheck, reason string, duration time.Duration, deleteMessageDays int) (*ActionOutcome, error) {
	conf, err := x.configs.Get(ctx, guildID)
	if err != nil {
		return nil, common.ErrWithCaller(err)
	}

	if duration < 0 {
		return validationFailure(false, "ban duration cannot be negative"), nil
	}

	if deleteMessageDays < 0 {
		deleteMessageDays = conf.DefaultBanDeleteDays
	}
	if deleteMessageDays > 7 {
		deleteMessageDays = 7
	}

	lockPunish(guildID, target.ID)
	defer unlockPunish(guildID, target.ID)

	action := MABanned
	if duration > 0 {
		action.Footer = "Expires after: " + common.HumanizeDuration(duration)
	}

	out := x.Execute(ctx, &ActionRequest{
		GuildID:   guildID,
		Actor:     actor,
		Target:    target,
		Hierarchy: ranks,
		Action:    action,
		Severity:  SeverityCritical,
		Reason:    reason,
		Duration:  duration,
		DMMessage: orDefaultDM(conf.BanMessage),
		SkipAudit: !conf.LogBans,
		Perform: func(ctx context.Context) error {
			return x.gateway.Ban(ctx, guildID, target.ID, x.fullReason(actor, reason), deleteMessageDays)
		},
	})
	if !out.Success {
		return out, nil
	}

	if duration > 0 {
		err = x.cache.SetTempBan(ctx, guildID, TempBan{
			UserID:      target.ID,
			UnbanAt:     time.Now().Add(duration),
			Reason:      reason,
			ModeratorID: actor.ID,
		})
		if err != nil {
			return out, errors.WithMessage(err, "ban: failed registering tempban")
		}
	} else {
		// a permanent ban invalidates any scheduled reversal
		_, err = x.cache.RemoveTempBan(ctx, guildID, target.ID)
		common.LogIgnoreError(err, "failed clearing stale tempban", map[string]interface{}{"guild": guildID})
	}

	return out, nil
}

// UnbanUser lifts target's ban and removes any tempban entry. notBanned
// reports the reconciliation case: the target wasn't banned in the
// first place, which is an expected state, not an error.
func (x *Executor) UnbanUser(ctx context.Context, guildID int64, actor, target User, reason string) (notBanned bool, out *ActionOutcome, err error) {
	conf, err := x.configs.Get(ctx, guildID)
	if err != nil {
		return false, nil, common.ErrWithCaller(err)
	}

	lockPunish(guildID, target.ID)
	defer unlockPunish(guildID, target.ID)

	out = x.Execute(ctx, &ActionRequest{
		GuildID:   guildID,
		Actor:     actor,
		Target:    target,
		Action:    MAUnbanned,
		Severity:  SeverityInfo,
		Reason:    reason,
		Silent:    true,
		SkipAudit: !conf.LogUnbans,
		Perform: func(ctx context.Context) error {
			return x.gateway.Unban(ctx, guildID, target.ID, x.fullReason(actor, reason))
		},
	})

	notBanned = out.FailureKind == FailureNotFound

	if out.Success || notBanned {
		_, rmErr := x.cache.RemoveTempBan(ctx, guildID, target.ID)
		common.LogIgnoreError(rmErr, "failed removing tempban entry", map[string]interface{}{"guild": guildID})
	}

	return notBanned, out, nil
}

// TimeoutUser times target out for duration; 0 means the guild default.
func (x *Executor) TimeoutUser(ctx context.Context, guildID int64, actor, target User, ranks *HierarchyCheck, reason string, duration time.Duration) (*ActionOutcome, error) {
	conf, err := x.configs.Get(ctx, guildID)
	if err != nil {
		return nil, common.ErrWithCaller(err)
	}

	if duration == 0 {
		duration = conf.DefaultTimeoutDuration
	}
	if duration < MinTimeoutDuration || duration > MaxTimeoutDuration {
		return validationFailure(false, "timeout duration out of range"), nil
	}

	lockPunish(guildID, target.ID)
	defer unlockPunish(guildID, target.ID)

	action := MATimeoutAdded
	action.Footer = "Expires after: " + common.HumanizeDuration(duration)

	until := time.Now().Add(duration)

	return x.Execute(ctx, &ActionRequest{
		GuildID:   guildID,
		Actor:     actor,
		Target:    target,
		Hierarchy: ranks,
		Action:    action,
		Severity:  SeverityNotice,
		Reason:    reason,
		Duration:  duration,
		DMMessage: orDefaultDM(conf.TimeoutMessage),
		SkipAudit: !conf.LogTimeouts,
		Perform: func(ctx context.Context) error {
			return x.gateway.Timeout(ctx, guildID, target.ID, &until, x.fullReason(actor, reason))
		},
	}), nil
}

// RemoveTimeout clears target's timeout.
func (x *Executor) RemoveTimeout(ctx context.Context, guildID int64, actor, target User, reason string) (*ActionOutcome, error) {
	conf, err := x.configs.Get(ctx, guildID)
	if err != nil {
		return nil, common.ErrWithCaller(err)
	}

	return x.Execute(ctx, &ActionRequest{
		GuildID:   guildID,
		Actor:     actor,
		Target:    target,
		Action:    MATimeoutRemoved,
		Severity:  SeverityInfo,
		Reason:    reason,
		SkipAudit: !conf.LogTimeouts,
		Perform: func(ctx context.Context) error {
			return x.gateway.Timeout(ctx, guildID, target.ID, nil, x.fullReason(actor, reason))
		},
	}), nil
}

// WarnUser appends a warning to target's sequence and notifies them.
func (x *Executor) WarnUser(ctx context.Context, guildID int64, actor, target User, message string) (*ActionOutcome, error) {
	conf, err := x.configs.Get(ctx, guildID)
	if err != nil {
		return nil, common.ErrWithCaller(err)
	}

	return x.Execute(ctx, &ActionRequest{
		GuildID:   guildID,
		Actor:     actor,
		Target:    target,
		Action:    MAWarned,
		Severity:  SeverityNotice,
		Reason:    message,
		DMMessage: orDefaultDM(conf.WarnMessage),
		SkipAudit: !conf.LogWarns,
		Perform: func(ctx context.Context) error {
			_, err := x.cache.AddWarning(ctx, guildID, target.ID, Warning{
				Reason:      message,
				ModeratorID: actor.ID,
			})
			return err
		},
	}), nil
}
