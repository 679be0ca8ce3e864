package pwdauth

import "golang.org/x/crypto/bcrypt"

// Hasher allows password hashing to be customized.
type Hasher interface {
	Generate(password []byte) ([]byte, error)
	Compare(hashedPassword, password []byte) error
}

// DefaultHasher uses bcrypt at its default cost.
var DefaultHasher Hasher = bcryptHasher{cost: bcrypt.DefaultCost}

// TestHasher uses the minimum bcrypt cost, for tests that hash many
// passwords.
var TestHasher Hasher = bcryptHasher{cost: bcrypt.MinCost}

type bcryptHasher struct {
	cost int
}

func (h bcryptHasher) Generate(password []byte) ([]byte, error) {
	return bcrypt.GenerateFromPassword(password, h.cost)
}

func (bcryptHasher) Compare(hashedPassword, password []byte) error {
	return bcrypt.CompareHashAndPassword(hashedPassword, password)
}
