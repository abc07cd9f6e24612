package resilience

import "time"

// Policy bounds retries and the per-operation circuit breaker for
// outbound calls (LLM, embeddings, vector search).
type Policy struct {
	Attempts   int
	Backoff    time.Duration
	BackoffCap time.Duration
	Multiplier float64

	BreakerEnabled       bool
	BreakerMinRequests   uint32
	BreakerFailureRatio  float64
	BreakerOpenFor       time.Duration
	BreakerHalfOpenCalls uint32
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		Backoff:    200 * time.Millisecond,
		BackoffCap: 2 * time.Second,
		Multiplier: 2.0,

		BreakerEnabled:       true,
		BreakerMinRequests:   10,
		BreakerFailureRatio:  0.5,
		BreakerOpenFor:       30 * time.Second,
		BreakerHalfOpenCalls: 2,
	}
}

func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = def.Backoff
	}
	if p.BackoffCap < p.Backoff {
		p.BackoffCap = p.Backoff
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = def.Multiplier
	}
	if p.BreakerMinRequests == 0 {
		p.BreakerMinRequests = def.BreakerMinRequests
	}
	if p.BreakerFailureRatio <= 0 || p.BreakerFailureRatio > 1 {
		p.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if p.BreakerOpenFor <= 0 {
		p.BreakerOpenFor = def.BreakerOpenFor
	}
	if p.BreakerHalfOpenCalls == 0 {
		p.BreakerHalfOpenCalls = def.BreakerHalfOpenCalls
	}
	return p
}
