package client

import "time"

// ReconnectPolicy decides how long to wait before reconnect attempt n (0-based)
// after an unexpected close. Retries are unbounded.
type ReconnectPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedDelay waits the same duration before every attempt.
type FixedDelay time.Duration

func (d FixedDelay) Delay(int) time.Duration { return time.Duration(d) }

// DefaultReconnectDelay is used when Config.Reconnect is nil.
const DefaultReconnectDelay = FixedDelay(3 * time.Second)

// CappedBackoff doubles the delay after each failed attempt, starting at Min
// and never exceeding Max. It spreads out reconnects after a broad outage.
type CappedBackoff struct {
	Min time.Duration
	Max time.Duration
}

func (b CappedBackoff) Delay(attempt int) time.Duration {
	d := b.Min
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
