package session

import "time"

// Ticker is the part of time.Ticker the session uses, so tests can drive
// ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// tickC returns nil for a disarmed ticker; receiving from it blocks forever.
func tickC(t Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}
