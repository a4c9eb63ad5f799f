package misp

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"misp-controlplane/pkg/sequence"
)

// Policy holds the pure license key rules: format, validity window and expiry.
type Policy struct {
	format   sequence.KeyFormat
	pattern  *regexp.Regexp
	validity time.Duration
	gen      sequence.Generator
}

func NewPolicy(format sequence.KeyFormat, validity time.Duration, gen sequence.Generator) *Policy {
	return &Policy{
		format:   format,
		pattern:  format.Pattern(),
		validity: validity,
		gen:      gen,
	}
}

// GenerateKey draws a key from the generator. Values outside the key pattern are rejected
// so that every issued key also passes IsPatternValid.
func (p *Policy) GenerateKey(ctx context.Context) (string, error) {
	key, err := p.gen.Next(ctx, sequence.KindLicenseKey)
	if err != nil {
		return "", err
	}
	if !p.IsPatternValid(key) {
		return "", fmt.Errorf("generated license key does not match %s", p.pattern)
	}
	return key, nil
}

func (p *Policy) ComputeExpiry(issuedAt time.Time) time.Time {
	return issuedAt.Add(p.validity)
}

func (p *Policy) IsPatternValid(key string) bool {
	return p.pattern.MatchString(key)
}

// IsExpired reports now >= ExpiresAt.
func (p *Policy) IsExpired(key *LicenseKey, now time.Time) bool {
	return !now.Before(key.ExpiresAt)
}

func (p *Policy) Validity() time.Duration {
	return p.validity
}
