package poller

import "github.com/srg/vitalpoll/internal/vitals"

// Session is the state carried across connections: the last IR extremes the device reported.
// It lives for the whole process and is owned by the poller goroutine.
type Session struct {
	MaxIR float32
	MinIR float32

	haveIR bool
}

// Record stores v if f is one of the IR fields.
func (s *Session) Record(f vitals.Field, v float32) {
	switch f.UUID {
	case vitals.MaxIR.UUID:
		s.MaxIR = v
	case vitals.MinIR.UUID:
		s.MinIR = v
	default:
		return
	}
	s.haveIR = true
}

// Valid reports whether at least one IR value was read since start.
func (s Session) Valid() bool {
	return s.haveIR
}
