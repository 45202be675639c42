package limiter

// Kind names one of the window algorithms.
type Kind string

// Algorithm kinds
const (
	KindFixedWindow   Kind = "fixed"
	KindSlidingWindow Kind = "sliding"
	KindAtomicWindow  Kind = "atomic"
)

// Valid algorithm kinds
var validKinds = map[Kind]bool{
	KindFixedWindow:   true,
	KindSlidingWindow: true,
	KindAtomicWindow:  true,
}

// ParseKind converts a config string to a Kind. Unknown values are kept as-is
// and rejected later by Policy.Validate.
func ParseKind(s string) Kind {
	return Kind(s)
}

// DefaultKeyPrefix namespaces every key the engine writes.
const DefaultKeyPrefix = "ratelimit"
