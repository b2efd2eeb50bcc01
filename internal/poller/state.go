package poller

import "fmt"

// State is a step of the reconnect loop.
type State int32

const (
	Scanning State = iota
	Connecting
	Polling
	Resending
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "SCANNING"
	case Connecting:
		return "CONNECTING"
	case Polling:
		return "POLLING"
	case Resending:
		return "RESENDING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
