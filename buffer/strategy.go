package buffer

// Strategy defines when pending updates are flushed to the backend.
type Strategy int

const (
	// Immediate dispatches every update as it arrives, bypassing the
	// pending store entirely. This is the default and performs no
	// coalescing; it matches the behavior of running without a buffer.
	Immediate Strategy = iota
	// Interval drains the pending store on a fixed timer.
	Interval
	// Threshold drains the pending store once it holds a configured
	// number of distinct identities. A deadline timer still runs so a
	// quiet-but-nonempty store is flushed eventually.
	Threshold
)

func (s Strategy) String() string {
	switch s {
	case Immediate:
		return "Immediate"
	case Interval:
		return "Interval"
	case Threshold:
		return "Threshold"
	default:
		return "Unknown"
	}
}
