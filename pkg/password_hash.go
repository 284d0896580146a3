package pkg

import "golang.org/x/crypto/bcrypt"

const SecretHashCost = 12

// HashSecret produces the bcrypt hash stored in TM_OPERATOR_TOKEN_HASH.
func HashSecret(secret string, cost int) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	return string(bytes), err
}

func CheckSecretHash(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
