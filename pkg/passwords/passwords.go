// Package passwords validates stored credential hashes and produces the
// credentials the reconciler assigns to accounts: random usable ones for new
// accounts and unusable markers for accounts that must not log in.
package passwords

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// UnusablePrefix marks a credential that can never match a password
const UnusablePrefix = "!"

const (
	unusableSuffixLength = 40
	randomSecretLength   = 32
	randomAlphabet       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrEmptyHash      = errors.New("password hash is empty")
	ErrUnusableHash   = errors.New("password hash is marked unusable")
	ErrUnknownScheme  = errors.New("password hash does not match any known scheme")
	ErrSchemeDisabled = errors.New("password hash scheme is not enabled")
	ErrMalformedHash  = errors.New("password hash is malformed")
)

// Default work factor ceilings for caller-supplied hashes
const (
	DefaultMaxBcryptCost  = 14
	DefaultMaxCryptRounds = 1000000
)

// Limits bounds the work factor a hash may declare. Validating a hash never
// runs a key derivation above these ceilings.
type Limits struct {
	MaxBcryptCost  int
	MaxCryptRounds int
}

// Scheme recognizes and structurally validates one hash format
type Scheme interface {
	Name() string
	Prefixes() []string
	Validate(hash string, limits Limits) error
}

// registry holds every scheme this package knows, keyed by name
var registry = map[string]Scheme{}

func register(s Scheme) {
	registry[s.Name()] = s
}

// KnownSchemes returns the names of all implemented schemes, sorted
func KnownSchemes() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validator accepts hashes of the enabled schemes only
type Validator struct {
	enabled    map[string]Scheme
	bcryptCost int
	limits     Limits
}

// Option adjusts a Validator
type Option func(*Validator)

// WithMaxBcryptCost rejects bcrypt hashes above cost
func WithMaxBcryptCost(cost int) Option {
	return func(v *Validator) {
		v.limits.MaxBcryptCost = cost
	}
}

// WithMaxCryptRounds rejects sha256/sha512 crypt hashes above rounds
func WithMaxCryptRounds(rounds int) Option {
	return func(v *Validator) {
		v.limits.MaxCryptRounds = rounds
	}
}

// NewValidator enables the named schemes. bcryptCost is used for the
// credentials this package generates.
func NewValidator(schemes []string, bcryptCost int, opts ...Option) (*Validator, error) {
	if len(schemes) == 0 {
		return nil, fmt.Errorf("at least one password scheme must be enabled")
	}
	enabled := make(map[string]Scheme, len(schemes))
	for _, name := range schemes {
		s, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown password scheme %q, known: %s", name, strings.Join(KnownSchemes(), ", "))
		}
		enabled[name] = s
	}
	v := &Validator{
		enabled:    enabled,
		bcryptCost: bcryptCost,
		limits: Limits{
			MaxBcryptCost:  DefaultMaxBcryptCost,
			MaxCryptRounds: DefaultMaxCryptRounds,
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.limits.MaxBcryptCost < bcryptCost {
		v.limits.MaxBcryptCost = bcryptCost
	}
	return v, nil
}

// Schemes returns the enabled scheme names, sorted
func (v *Validator) Schemes() []string {
	names := make([]string, 0, len(v.enabled))
	for name := range v.enabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Identify returns the scheme hash belongs to, enabled or not
func Identify(hash string) (Scheme, error) {
	for _, s := range registry {
		for _, prefix := range s.Prefixes() {
			if strings.HasPrefix(hash, prefix) {
				return s, nil
			}
		}
	}
	return nil, ErrUnknownScheme
}

// Validate reports whether hash is a usable, well-formed hash of an enabled scheme
func (v *Validator) Validate(hash string) error {
	if hash == "" {
		return ErrEmptyHash
	}
	if !IsUsable(hash) {
		return ErrUnusableHash
	}

	s, err := Identify(hash)
	if err != nil {
		return err
	}
	if _, ok := v.enabled[s.Name()]; !ok {
		return fmt.Errorf("%w: %s", ErrSchemeDisabled, s.Name())
	}
	if err := s.Validate(hash, v.limits); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedHash, s.Name(), err)
	}
	return nil
}

// IsUsable reports whether hash could ever match a password
func IsUsable(hash string) bool {
	return hash != "" && !strings.HasPrefix(hash, UnusablePrefix)
}

// IsUsable is IsUsable as a method, so the validator satisfies hash-handling interfaces
func (v *Validator) IsUsable(hash string) bool {
	return IsUsable(hash)
}

// Unusable returns a fresh unusable credential
func (v *Validator) Unusable() (string, error) {
	suffix, err := randomString(unusableSuffixLength)
	if err != nil {
		return "", err
	}
	return UnusablePrefix + suffix, nil
}

// RandomUsable returns a bcrypt hash of a random secret nobody knows.
// The account stays eligible for self-service password reset.
func (v *Validator) RandomUsable() (string, error) {
	secret, err := randomString(randomSecretLength)
	if err != nil {
		return "", err
	}
	return v.Hash(secret)
}

// Hash hashes password with bcrypt at the configured cost
func (v *Validator) Hash(password string) (string, error) {
	return hashBcrypt(password, v.bcryptCost)
}

func randomString(n int) (string, error) {
	max := big.NewInt(int64(len(randomAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		b.WriteByte(randomAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
