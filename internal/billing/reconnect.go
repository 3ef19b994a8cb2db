package billing

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy controls what happens after the billing service
// disconnects or setup fails. The zero value never reconnects.
type ReconnectPolicy struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime bounds the whole reconnect sequence. Zero means no bound.
	MaxElapsedTime time.Duration
	// MaxRetries bounds the number of attempts. Zero means no bound.
	MaxRetries uint64
}

// DefaultReconnectPolicy returns an enabled policy with a 1s initial interval
// capped at one minute.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:         true,
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		MaxElapsedTime:  15 * time.Minute,
	}
}

func (p ReconnectPolicy) newBackOff() backoff.BackOff {
	if !p.Enabled {
		return &backoff.StopBackOff{}
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = p.MaxElapsedTime
	b.Reset()

	if p.MaxRetries > 0 {
		return backoff.WithMaxRetries(b, p.MaxRetries)
	}
	return b
}
