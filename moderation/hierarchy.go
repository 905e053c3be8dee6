package moderation

// Ranked describes an actor or target as the hierarchy guard sees them.
// Rank is an externally supplied total order (highest-role value within
// the guild). Resolved is false when the subject could not be resolved
// to a current member, in which case no rank exists to compare against
// and the rank checks do not apply.
type Ranked struct {
	ID           int64
	Rank         int
	IsOwner      bool
	IsSuperAdmin bool
	Resolved     bool
}

// Verdict is the guard's decision; Reason is set only on denial.
type Verdict struct {
	Allowed bool
	Reason  string
}

func denied(reason string) Verdict {
	return Verdict{Reason: reason}
}

// CanModerate reports whether actor may perform a destructive action on
// target within a guild. botRank is the acting system's own highest
// rank; the system cannot act on someone it does not outrank. The guard
// performs no I/O and is fully deterministic.
func CanModerate(actor, target Ranked, botRank int) Verdict {
	if !target.Resolved {
		// Not currently a member; nothing to rank against.
		return Verdict{Allowed: true}
	}

	if target.IsOwner && !actor.IsOwner && !actor.IsSuperAdmin {
		return denied("target is the guild owner")
	}

	if !actor.IsOwner && target.Rank >= actor.Rank {
		return denied("target is ranked equal to or above you")
	}

	if target.Rank >= botRank {
		return denied("target is ranked equal to or above the bot")
	}

	return Verdict{Allowed: true}
}
