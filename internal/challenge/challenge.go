// Package challenge keeps pending one-time codes keyed by phone number.
// Entries expire lazily: the read that finds an expired entry evicts it.
package challenge

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 5 * time.Minute

// Store issues and verifies one-time codes. At most one code is live per
// phone; issuing again overwrites it.
type Store interface {
	Issue(ctx context.Context, phone string) (string, error)
	Verify(ctx context.Context, phone, code string) (bool, error)
}

type options struct {
	ttl       time.Duration
	singleUse bool
	now       func() time.Time
	generate  func() (string, error)
}

type Option func(*options)

func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithSingleUse makes a successful Verify consume the code.
func WithSingleUse() Option { return func(o *options) { o.singleUse = true } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithGenerator overrides the code generator.
func WithGenerator(gen func() (string, error)) Option { return func(o *options) { o.generate = gen } }

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, now: time.Now, generate: NewCode}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

var codeSpan = big.NewInt(900000)

// NewCode returns a uniformly random 6-digit code in [100000, 999999].
func NewCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", 100000+n.Int64()), nil
}

func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
