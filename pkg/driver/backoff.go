// pkg/driver/backoff.go
package driver

import "time"

// delay returns the wait before the given retry. attempt counts completed
// attempts, so the first retry passes 1.
func (p BackoffPolicy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.Delay
	if p.Kind == BackoffExponential {
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= p.MaxDelay {
				d = p.MaxDelay
				break
			}
		}
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
