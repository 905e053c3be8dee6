package moderation

import (
	"context"
	"strings"
	"testing"
	"time"

	"emperror.dev/errors"
)

func TestExecuteRequiresPerform(t *testing.T) {
	x, _ := newTestExecutor(newFakeStore(), newFakeGateway(), &captureRecorder{})

	out := x.Execute(context.Background(), &ActionRequest{GuildID: 1})
	if out.Success {
		t.Error("request without a perform step succeeded")
	}
	if out.FailureKind != FailureValidation {
		t.Errorf("failure kind = %v, expected validation", out.FailureKind)
	}
}

func TestExecutePerformFailureSkipsRecord(t *testing.T) {
	rec := &captureRecorder{}
	x, _ := newTestExecutor(newFakeStore(), newFakeGateway(), rec)

	out := x.Execute(context.Background(), &ActionRequest{
		GuildID: 1,
		Actor:   User{ID: 5},
		Target:  User{ID: 100},
		Action:  MAKick,
		Perform: func(ctx context.Context) error {
			return errors.WithMessage(ErrPermissionDenied, "missing kick permission")
		},
	})

	if out.Success {
		t.Error("outcome marked success despite failed perform")
	}
	if out.FailureKind != FailurePermissionDenied {
		t.Errorf("failure kind = %v, expected permission_denied", out.FailureKind)
	}
	if out.Err == nil {
		t.Error("outcome carries no error")
	}
	if entries := rec.all(); len(entries) != 0 {
		t.Errorf("failed action produced %d audit entries", len(entries))
	}
}

func TestExecuteDMFailureDoesNotAbort(t *testing.T) {
	rec := &captureRecorder{}
	gw := newFakeGateway()
	gw.dmErr = errors.New("cannot send messages to this user")
	x, _ := newTestExecutor(newFakeStore(), gw, rec)

	performed := false
	out := x.Execute(context.Background(), &ActionRequest{
		GuildID:   1,
		Actor:     User{ID: 5, Username: "mod"},
		Target:    User{ID: 100},
		Action:    MAKick,
		Reason:    "spamming",
		DMMessage: DefaultDMMessage,
		Perform: func(ctx context.Context) error {
			performed = true
			return nil
		},
	})

	if !performed {
		t.Fatal("perform never ran")
	}
	if !out.Success {
		t.Error("outcome not marked success")
	}
	if out.Notified {
		t.Error("outcome marked notified despite DM failure")
	}

	entries := rec.all()
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, expected 1", len(entries))
	}
	if !strings.Contains(entries[0].Description, "could not notify the target") {
		t.Errorf("audit description %q missing the notification note", entries[0].Description)
	}
}

func TestExecuteNotifiesBeforePerform(t *testing.T) {
	gw := newFakeGateway()
	x, _ := newTestExecutor(newFakeStore(), gw, &captureRecorder{})

	out := x.Execute(context.Background(), &ActionRequest{
		GuildID:   1,
		Actor:     User{ID: 5, Username: "mod"},
		Target:    User{ID: 100},
		Action:    MABanned,
		Reason:    "raid",
		DMMessage: DefaultDMMessage,
		Perform: func(ctx context.Context) error {
			if len(gw.dms) != 1 {
				t.Error("perform ran before the notification was sent")
			}
			return nil
		},
	})

	if !out.Success || !out.Notified {
		t.Errorf("outcome = %+v, expected success and notified", out)
	}
	if len(gw.dms) != 1 {
		t.Fatalf("got %d DMs, expected 1", len(gw.dms))
	}
	if !strings.Contains(gw.dms[0], "🔨Banned") || !strings.Contains(gw.dms[0], "raid") {
		t.Errorf("rendered DM %q missing action or reason", gw.dms[0])
	}
}

func TestExecuteSilentSuppressesNotification(t *testing.T) {
	gw := newFakeGateway()
	x, _ := newTestExecutor(newFakeStore(), gw, &captureRecorder{})

	out := x.Execute(context.Background(), &ActionRequest{
		GuildID:   1,
		Actor:     User{ID: 1},
		Target:    User{ID: 100},
		Action:    MAUnbanned,
		DMMessage: DefaultDMMessage,
		Silent:    true,
		Perform:   func(ctx context.Context) error { return nil },
	})

	if len(gw.dms) != 0 {
		t.Errorf("silent action sent %d DMs", len(gw.dms))
	}
	if !out.SuppressNotification {
		t.Error("silent action doesn't suppress the presentation ack")
	}
}

func TestKickUser(t *testing.T) {
	rec := &captureRecorder{}
	gw := newFakeGateway()
	x, _ := newTestExecutor(newFakeStore(), gw, rec)

	out, err := x.KickUser(context.Background(), 1, User{ID: 5, Username: "mod"}, User{ID: 100}, nil, "spamming")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("kick failed: %v", out.Err)
	}
	if len(gw.kicked) != 1 || gw.kicked[0] != 100 {
		t.Errorf("kicked = %v, expected [100]", gw.kicked)
	}

	entries := rec.all()
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, expected 1", len(entries))
	}
	if entries[0].Action.Prefix != "Kicked" {
		t.Errorf("audit action = %q", entries[0].Action.Prefix)
	}
	if entries[0].TargetID != 100 || entries[0].ModeratorID != 5 {
		t.Errorf("audit entry = %+v", entries[0])
	}
}

func TestKickUserDeniedByHierarchy(t *testing.T) {
	rec := &captureRecorder{}
	gw := newFakeGateway()
	x, _ := newTestExecutor(newFakeStore(), gw, rec)

	ranks := &HierarchyCheck{
		Actor:   Ranked{ID: 5, Rank: 1, Resolved: true},
		Target:  Ranked{ID: 100, Rank: 50, Resolved: true},
		BotRank: 60,
	}

	out, err := x.KickUser(context.Background(), 1, User{ID: 5}, User{ID: 100}, ranks, "overreach")
	if err != nil {
		t.Fatal(err)
	}
	if out.Success {
		t.Error("kick of a higher ranked target succeeded")
	}
	if out.FailureKind != FailurePermissionDenied {
		t.Errorf("failure kind = %v, expected permission_denied", out.FailureKind)
	}
	if len(gw.kicked) != 0 {
		t.Error("denied kick still hit the gateway")
	}
	if len(gw.dms) != 0 {
		t.Error("denied kick still notified the target")
	}
	if entries := rec.all(); len(entries) != 0 {
		t.Errorf("denied kick produced %d audit entries", len(entries))
	}
}

func TestBanUserDeniedByHierarchy(t *testing.T) {
	gw := newFakeGateway()
	x, cache := newTestExecutor(newFakeStore(), gw, &captureRecorder{})

	ranks := &HierarchyCheck{
		Actor:   Ranked{ID: 5, Rank: 10, Resolved: true},
		Target:  Ranked{ID: 100, Rank: 10, Resolved: true},
		BotRank: 60,
	}

	out, err := x.BanUserWithDuration(context.Background(), 1, User{ID: 5}, User{ID: 100}, ranks, "equal rank", time.Hour, -1)
	if err != nil {
		t.Fatal(err)
	}
	if out.FailureKind != FailurePermissionDenied {
		t.Errorf("failure kind = %v, expected permission_denied", out.FailureKind)
	}
	if len(gw.banned) != 0 {
		t.Error("denied ban still hit the gateway")
	}
	if bans := cache.TempBans(1); len(bans) != 0 {
		t.Errorf("denied ban registered tempban %v", bans)
	}
}

func TestTimeoutUserAllowedByHierarchy(t *testing.T) {
	gw := newFakeGateway()
	x, _ := newTestExecutor(newFakeStore(), gw, &captureRecorder{})

	ranks := &HierarchyCheck{
		Actor:   Ranked{ID: 5, Rank: 50, Resolved: true},
		Target:  Ranked{ID: 100, Rank: 10, Resolved: true},
		BotRank: 60,
	}

	out, err := x.TimeoutUser(context.Background(), 1, User{ID: 5}, User{ID: 100}, ranks, "cooldown", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("timeout of a lower ranked target denied: %v", out.Err)
	}
	if len(gw.timeouts) != 1 {
		t.Errorf("timeouts = %v, expected one call", gw.timeouts)
	}
}

func TestKickUserRespectsLogOptOut(t *testing.T) {
	store := newFakeStore()
	store.configs[1] = &GuildConfig{GuildID: 1, LogKicks: false, DefaultTimeoutDuration: DefaultTimeoutDuration}

	rec := &captureRecorder{}
	x, _ := newTestExecutor(store, newFakeGateway(), rec)

	out, err := x.KickUser(context.Background(), 1, User{ID: 5}, User{ID: 100}, nil, "spam")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("kick failed: %v", out.Err)
	}
	if entries := rec.all(); len(entries) != 0 {
		t.Errorf("opted-out action kind still produced %d audit entries", len(entries))
	}
}

func TestBanUserWithDuration(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	x, cache := newTestExecutor(store, gw, &captureRecorder{})

	out, err := x.BanUserWithDuration(context.Background(), 1, User{ID: 5}, User{ID: 100}, nil, "raid", time.Hour, -1)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("ban failed: %v", out.Err)
	}
	if len(gw.banned) != 1 || gw.banned[0] != 100 {
		t.Errorf("banned = %v, expected [100]", gw.banned)
	}

	bans := cache.TempBans(1)
	if len(bans) != 1 {
		t.Fatalf("got %d tempbans, expected 1", len(bans))
	}
	tb := bans[100]
	if tb.UserID != 100 || tb.Reason != "raid" || tb.ModeratorID != 5 {
		t.Errorf("tempban = %+v", tb)
	}
	if tb.Expired(time.Now()) {
		t.Error("fresh one hour tempban already expired")
	}
	if stored := store.tempBans(1); len(stored) != 1 {
		t.Errorf("store tempbans = %v", stored)
	}
}

func TestBanUserNegativeDuration(t *testing.T) {
	gw := newFakeGateway()
	x, _ := newTestExecutor(newFakeStore(), gw, &captureRecorder{})

	out, err := x.BanUserWithDuration(context.Background(), 1, User{ID: 5}, User{ID: 100}, nil, "x", -time.Hour, -1)
	if err != nil {
		t.Fatal(err)
	}
	if out.FailureKind != FailureValidation {
		t.Errorf("failure kind = %v, expected validation", out.FailureKind)
	}
	if len(gw.banned) != 0 {
		t.Error("validation failure still hit the gateway")
	}
}

func TestPermanentBanClearsTempban(t *testing.T) {
	store := newFakeStore()
	x, cache := newTestExecutor(store, newFakeGateway(), &captureRecorder{})
	ctx := context.Background()

	err := cache.SetTempBan(ctx, 1, TempBan{UserID: 100, UnbanAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}

	out, err := x.BanUser(ctx, 1, User{ID: 5}, User{ID: 100}, nil, "escalated")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("ban failed: %v", out.Err)
	}
	if bans := cache.TempBans(1); len(bans) != 0 {
		t.Errorf("permanent ban left tempban entry %v", bans)
	}
}

func TestUnbanUser(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	rec := &captureRecorder{}
	x, cache := newTestExecutor(store, gw, rec)
	ctx := context.Background()

	err := cache.SetTempBan(ctx, 1, TempBan{UserID: 100, UnbanAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}

	notBanned, out, err := x.UnbanUser(ctx, 1, User{ID: 5}, User{ID: 100}, "appeal accepted")
	if err != nil {
		t.Fatal(err)
	}
	if notBanned {
		t.Error("unban of a banned user reported notBanned")
	}
	if !out.Success {
		t.Fatalf("unban failed: %v", out.Err)
	}
	if len(gw.unbanned) != 1 || gw.unbanned[0] != 100 {
		t.Errorf("unbanned = %v, expected [100]", gw.unbanned)
	}
	if bans := cache.TempBans(1); len(bans) != 0 {
		t.Errorf("unban left tempban entry %v", bans)
	}
	if entries := rec.all(); len(entries) != 1 {
		t.Errorf("got %d audit entries, expected 1", len(entries))
	}
}

func TestUnbanUserNotBanned(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	gw.unbanErr = errors.WithMessage(ErrNotFound, "unknown ban")
	rec := &captureRecorder{}
	x, cache := newTestExecutor(store, gw, rec)
	ctx := context.Background()

	err := cache.SetTempBan(ctx, 1, TempBan{UserID: 100, UnbanAt: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatal(err)
	}

	notBanned, out, err := x.UnbanUser(ctx, 1, User{ID: 1}, User{ID: 100}, "Tempban expired")
	if err != nil {
		t.Fatal(err)
	}
	if !notBanned {
		t.Error("expected notBanned for an already lifted ban")
	}
	if out.Success {
		t.Error("outcome marked success despite the gateway 404")
	}
	// the stale entry is reconciled away regardless
	if bans := cache.TempBans(1); len(bans) != 0 {
		t.Errorf("reconciliation left tempban entry %v", bans)
	}
	if entries := rec.all(); len(entries) != 0 {
		t.Errorf("reconciliation produced %d audit entries", len(entries))
	}
}

func TestTimeoutUser(t *testing.T) {
	gw := newFakeGateway()
	x, _ := newTestExecutor(newFakeStore(), gw, &captureRecorder{})

	out, err := x.TimeoutUser(context.Background(), 1, User{ID: 5}, User{ID: 100}, nil, "cooldown", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("timeout failed: %v", out.Err)
	}
	if len(gw.timeouts) != 1 || gw.timeouts[0] == nil {
		t.Fatalf("timeouts = %v", gw.timeouts)
	}

	until := *gw.timeouts[0]
	if d := time.Until(until); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("timeout until %v, expected roughly an hour out", until)
	}
}

func TestTimeoutUserDurationValidation(t *testing.T) {
	gw := newFakeGateway()
	x, _ := newTestExecutor(newFakeStore(), gw, &captureRecorder{})
	ctx := context.Background()

	for _, d := range []time.Duration{time.Second, MaxTimeoutDuration + time.Minute} {
		out, err := x.TimeoutUser(ctx, 1, User{ID: 5}, User{ID: 100}, nil, "x", d)
		if err != nil {
			t.Fatal(err)
		}
		if out.FailureKind != FailureValidation {
			t.Errorf("duration %v: failure kind = %v, expected validation", d, out.FailureKind)
		}
	}

	if len(gw.timeouts) != 0 {
		t.Error("out of range durations still hit the gateway")
	}

	// zero means the guild default
	out, err := x.TimeoutUser(ctx, 1, User{ID: 5}, User{ID: 100}, nil, "x", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("default duration timeout failed: %v", out.Err)
	}
}

func TestRemoveTimeout(t *testing.T) {
	gw := newFakeGateway()
	x, _ := newTestExecutor(newFakeStore(), gw, &captureRecorder{})

	out, err := x.RemoveTimeout(context.Background(), 1, User{ID: 5}, User{ID: 100}, "appealed")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("remove timeout failed: %v", out.Err)
	}
	if len(gw.timeouts) != 1 || gw.timeouts[0] != nil {
		t.Errorf("timeouts = %v, expected one nil entry", gw.timeouts)
	}
}

func TestWarnUser(t *testing.T) {
	rec := &captureRecorder{}
	x, cache := newTestExecutor(newFakeStore(), newFakeGateway(), rec)

	out, err := x.WarnUser(context.Background(), 1, User{ID: 5}, User{ID: 100}, "watch the language")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("warn failed: %v", out.Err)
	}

	warnings := cache.Warnings(1, 100)
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, expected 1", len(warnings))
	}
	if warnings[0].Reason != "watch the language" || warnings[0].ModeratorID != 5 {
		t.Errorf("warning = %+v", warnings[0])
	}
	if entries := rec.all(); len(entries) != 1 {
		t.Errorf("got %d audit entries, expected 1", len(entries))
	}
}

func TestRenderDMTemplateData(t *testing.T) {
	gw := newFakeGateway()
	x, _ := newTestExecutor(newFakeStore(), gw, &captureRecorder{})

	out := x.Execute(context.Background(), &ActionRequest{
		GuildID:   1,
		Actor:     User{ID: 5, Username: "mod"},
		Target:    User{ID: 100},
		Action:    MABanned,
		Reason:    "raid",
		Duration:  27 * time.Hour,
		DMMessage: "{{.ModAction}} from guild {{.Guild}} by {{.Author}} for {{.HumanDuration}}",
		Perform:   func(ctx context.Context) error { return nil },
	})

	if !out.Notified {
		t.Fatalf("notification not delivered: %+v", out)
	}
	if len(gw.dms) != 1 {
		t.Fatalf("got %d DMs, expected 1", len(gw.dms))
	}

	want := "🔨Banned from guild 1 by mod (ID 5) for 1 day 3 hours"
	if gw.dms[0] != want {
		t.Errorf("rendered DM %q, expected %q", gw.dms[0], want)
	}
}

func TestParseActionDuration(t *testing.T) {
	d, err := ParseActionDuration("1day3h")
	if err != nil {
		t.Fatal(err)
	}
	if d != 27*time.Hour {
		t.Errorf("got %v, expected 27h", d)
	}

	_, err = ParseActionDuration("10bananas")
	if err == nil {
		t.Fatal("expected an error for an unparseable duration")
	}
	if !errors.Is(err, ErrValidation) {
		t.Errorf("error %v is not a validation error", err)
	}
	if Classify(err) != FailureValidation {
		t.Errorf("Classify(%v) = %v, expected validation", err, Classify(err))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind FailureKind
	}{
		{nil, FailureNone},
		{ErrPermissionDenied, FailurePermissionDenied},
		{errors.WithMessage(ErrPermissionDenied, "wrapped"), FailurePermissionDenied},
		{ErrNotFound, FailureNotFound},
		{errors.WithMessage(ErrNotFound, "wrapped"), FailureNotFound},
		{ErrValidation, FailureValidation},
		{errors.New("connection reset"), FailureTransient},
	}

	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.kind {
			t.Errorf("Classify(%v) = %v, expected %v", tc.err, got, tc.kind)
		}
	}
}
