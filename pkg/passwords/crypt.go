package passwords

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"
)

// cryptAlphabet is the base64 ordering used by the Unix crypt family
const cryptAlphabet = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// checkKey is hashed against a stored setting to check that the hash
// round-trips through the algorithm.
const checkKey = "manageusers-check"

// unixCryptScheme covers the $id$[rounds=N$]salt$digest family
type unixCryptScheme struct {
	name      string
	prefix    string
	digestLen int
	crypter   func() crypt.Crypter
}

func init() {
	register(unixCryptScheme{name: "sha512_crypt", prefix: sha512_crypt.MagicPrefix, digestLen: 86, crypter: sha512_crypt.New})
	register(unixCryptScheme{name: "sha256_crypt", prefix: sha256_crypt.MagicPrefix, digestLen: 43, crypter: sha256_crypt.New})
	register(unixCryptScheme{name: "md5_crypt", prefix: md5_crypt.MagicPrefix, digestLen: 22, crypter: md5_crypt.New})
}

func (s unixCryptScheme) Name() string {
	return s.name
}

func (s unixCryptScheme) Prefixes() []string {
	return []string{s.prefix}
}

func (s unixCryptScheme) Validate(hash string, limits Limits) error {
	idx := strings.LastIndex(hash, "$")
	if idx < len(s.prefix) {
		return fmt.Errorf("missing salt")
	}
	setting, digest := hash[:idx], hash[idx+1:]

	if len(digest) != s.digestLen {
		return fmt.Errorf("expected %d digest characters, got %d", s.digestLen, len(digest))
	}
	if !inAlphabet(digest, cryptAlphabet) {
		return fmt.Errorf("digest contains invalid characters")
	}

	salt := setting[strings.LastIndex(setting, "$")+1:]
	if salt == "" || strings.HasPrefix(salt, "rounds=") {
		return fmt.Errorf("missing salt")
	}
	if strings.ContainsAny(salt, ": \t\n") {
		return fmt.Errorf("salt contains invalid characters")
	}

	if rounds, ok, err := cryptRounds(setting); err != nil {
		return err
	} else if ok && rounds > limits.MaxCryptRounds {
		return fmt.Errorf("%d rounds exceed the allowed maximum %d", rounds, limits.MaxCryptRounds)
	}

	// Regenerating from the setting normalizes oversized salts and
	// out-of-range rounds; any difference means the stored hash could
	// never have been produced by the algorithm.
	generated, err := s.crypter().Generate([]byte(checkKey), []byte(setting))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(generated, setting+"$") || len(generated) != len(hash) {
		return fmt.Errorf("salt or rounds out of range")
	}
	return nil
}

// cryptRounds extracts the rounds=N parameter of a $id$rounds=N$salt setting
func cryptRounds(setting string) (int, bool, error) {
	parts := strings.Split(setting, "$")
	if len(parts) < 3 || !strings.HasPrefix(parts[2], "rounds=") {
		return 0, false, nil
	}
	rounds, err := strconv.Atoi(strings.TrimPrefix(parts[2], "rounds="))
	if err != nil || rounds < 0 {
		return 0, false, fmt.Errorf("invalid rounds parameter %q", parts[2])
	}
	return rounds, true, nil
}

func inAlphabet(s, alphabet string) bool {
	for _, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}
