package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"

	"misp-controlplane/pkg/config"
	"misp-controlplane/pkg/gen"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(New),
)

type Kind string

const (
	KindMisp       Kind = "misp"
	KindLicenseKey Kind = "license_key"
)

//go:generate mockgen -destination=mock/generator.go -package=mock misp-controlplane/pkg/sequence Generator

// Generator produces identifiers for MISP accounts and license key values.
type Generator interface {
	Next(ctx context.Context, kind Kind) (string, error)
}

// Unambiguous upper-case alphabet: no 0/O, 1/I.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// KeyFormat describes license key values: an optional literal prefix followed
// by Length characters of the key alphabet.
type KeyFormat struct {
	Prefix string
	Length int
}

func FormatFromConfig(cfg *config.Config) KeyFormat {
	return KeyFormat{Prefix: cfg.License.KeyPrefix, Length: cfg.License.KeyLength}
}

// Pattern compiles the regular expression every generated key matches.
func (f KeyFormat) Pattern() *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s[A-HJ-NP-Z2-9]{%d}$", regexp.QuoteMeta(f.Prefix), f.Length))
}

// Random returns a fresh key value in this format from crypto/rand.
func (f KeyFormat) Random() (string, error) {
	body, err := randomAlphaNumeric(f.Length)
	if err != nil {
		return "", err
	}
	return f.Prefix + body, nil
}

type Params struct {
	fx.In

	Config *config.Config
	Node   *gen.SnowflakeNode `optional:"true"`
	Redis  *redis.Client      `optional:"true"`
}

// New selects the backend named by MISP.ID_GENERATOR.
func New(p Params) (Generator, error) {
	format := FormatFromConfig(p.Config)
	switch p.Config.Misp.IDGenerator {
	case "redis":
		if p.Redis == nil {
			return nil, fmt.Errorf("sequence: redis generator selected but no redis client provided")
		}
		return NewRedisGenerator(p.Redis, format), nil
	case "snowflake", "":
		if p.Node == nil {
			return nil, fmt.Errorf("sequence: snowflake generator selected but no node provided")
		}
		return NewNodeGenerator(p.Node, format), nil
	default:
		return nil, fmt.Errorf("sequence: unknown id generator %q", p.Config.Misp.IDGenerator)
	}
}

func randomAlphaNumeric(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range b {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[num.Int64()]
	}
	return string(b), nil
}

func unknownKind(kind Kind) error {
	return fmt.Errorf("sequence: unknown kind %q", kind)
}
