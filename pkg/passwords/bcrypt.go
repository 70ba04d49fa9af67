package passwords

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const bcryptHashLength = 60

// bcryptAlphabet is bcrypt's own base64 ordering
const bcryptAlphabet = "./ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

type bcryptScheme struct{}

func init() {
	register(bcryptScheme{})
}

func (bcryptScheme) Name() string {
	return "bcrypt"
}

func (bcryptScheme) Prefixes() []string {
	return []string{"$2a$", "$2b$", "$2y$"}
}

func (bcryptScheme) Validate(hash string, limits Limits) error {
	if len(hash) != bcryptHashLength {
		return fmt.Errorf("expected %d characters, got %d", bcryptHashLength, len(hash))
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return err
	}
	if cost > limits.MaxBcryptCost {
		return fmt.Errorf("cost %d exceeds the allowed maximum %d", cost, limits.MaxBcryptCost)
	}
	// $2b$NN$ is followed by 22 salt and 31 digest characters
	if !inAlphabet(hash[7:], bcryptAlphabet) {
		return fmt.Errorf("salt or digest contains invalid characters")
	}
	return nil
}

func hashBcrypt(password string, cost int) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(out), nil
}
