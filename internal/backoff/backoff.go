// Package backoff computes retry delays.
package backoff

import "time"

// Policy is an exponential backoff: Base * Factor^(attempt-1), capped at Max
type Policy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// Transcription is the default policy between transcription attempts: 1s, 2s, 4s, 8s
var Transcription = Policy{Base: time.Second, Factor: 2, Max: 8 * time.Second}

// Upload is the default policy between upload attempts
var Upload = Policy{Base: 2 * time.Second, Factor: 2, Max: 5 * time.Minute}

// Delay returns the wait after the given failed attempt (1-based)
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 2
	}
	d := float64(p.Base)
	for i := 1; i < attempt; i++ {
		d *= factor
		if p.Max > 0 && d >= float64(p.Max) {
			return p.Max
		}
	}
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}
