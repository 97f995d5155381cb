package resend

// Decision is the outcome of checking a message's original destination
// against the configured resend queue.
type Decision int

const (
	// Unverifiable: the message came through a topic subscription, its queue is unknown.
	Unverifiable Decision = iota
	// Match: the original queue is the resend queue.
	Match
	// Reject: the queues differ and force is off. The whole batch must roll back.
	Reject
	// ForcedOverride: the queues differ but force is on. Proceed with a warning.
	ForcedOverride
)

func (d Decision) String() string {
	switch d {
	case Unverifiable:
		return "unverifiable"
	case Match:
		return "match"
	case Reject:
		return "reject"
	case ForcedOverride:
		return "forced-override"
	}
	return "unknown"
}

// Proceed reports whether the message may be resent
func (d Decision) Proceed() bool {
	return d != Reject
}

// Validate compares queue names exactly (case-sensitive). original is nil
// when the original queue cannot be determined.
func Validate(original *string, target string, forced bool) Decision {
	if original == nil {
		return Unverifiable
	}
	if *original == target {
		return Match
	}
	if forced {
		return ForcedOverride
	}
	return Reject
}
