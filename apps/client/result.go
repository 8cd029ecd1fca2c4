package client

import (
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Kind tells what a download attempt observed.
type Kind int

const (
	// Processing means the payment is not confirmed yet: try again later.
	Processing Kind = iota + 1
	// Ready means the document was downloaded.
	Ready
	// Failed is terminal: the payment was rejected, or the request cannot succeed.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Processing:
		return "processing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Result is the outcome of one download attempt.
type Result struct {
	Kind     Kind
	TranID   string
	Filename string // Ready only
	Content  []byte // Ready only
	Err      error  // Failed only
}

func (r Result) IsTerminal() bool { return r.Kind == Ready || r.Kind == Failed }

var filenamePattern = regexp.MustCompile(`filename="([^"]+)"`)

// ParseFilename extracts the quoted filename of a Content-Disposition header.
func ParseFilename(header string) (string, bool) {
	m := filenamePattern.FindStringSubmatch(header)
	if m == nil {
		return "", false
	}
	return m[1], true
}

type BackoffOptions struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // randomization factor, 0 for none
	MaxAttempts  int
}

var DefaultBackoffOptions = BackoffOptions{
	InitialDelay: time.Second,
	MaxDelay:     10 * time.Second,
	Multiplier:   2,
	Jitter:       0.2,
	MaxAttempts:  8,
}

// Backoff is a bounded exponential retry policy. It implements backoff.BackOff.
// Not safe for concurrent use.
type Backoff struct {
	maxAttempts int
	attempt     int
	exp         *backoff.ExponentialBackOff
}

var _ backoff.BackOff = (*Backoff)(nil)

func NewBackoff(opts BackoffOptions) *Backoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.InitialDelay
	exp.MaxInterval = opts.MaxDelay
	exp.Multiplier = opts.Multiplier
	exp.RandomizationFactor = opts.Jitter
	exp.Reset()
	return &Backoff{maxAttempts: opts.MaxAttempts, attempt: 1, exp: exp}
}

// Attempt returns the 1-based number of the current attempt.
func (b *Backoff) Attempt() int { return b.attempt }

func (b *Backoff) MaxAttempts() int { return b.maxAttempts }

// ShouldRetry reports whether another attempt should follow res.
// Terminal results are never retried.
func (b *Backoff) ShouldRetry(res Result) bool {
	return res.Kind == Processing && b.attempt < b.maxAttempts
}

// NextDelay moves to the next attempt and returns how long to wait before it,
// or backoff.Stop once the attempts are exhausted.
func (b *Backoff) NextDelay() time.Duration {
	if b.attempt >= b.maxAttempts {
		return backoff.Stop
	}
	b.attempt++
	return b.exp.NextBackOff()
}

func (b *Backoff) NextBackOff() time.Duration { return b.NextDelay() }

func (b *Backoff) Reset() {
	b.attempt = 1
	b.exp.Reset()
}
