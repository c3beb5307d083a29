// password хэширует и проверяет пароли пользователей.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost — стоимость bcrypt по умолчанию для users-service.
const DefaultCost = 10

// ErrInvalidCost — стоимость вне допустимых для bcrypt границ.
var ErrInvalidCost = errors.New("invalid bcrypt cost")

// Bcrypt — хэшер паролей на bcrypt с фиксированной стоимостью.
// Безопасен для конкурентного использования.
type Bcrypt struct {
	cost int
}

// NewBcrypt проверяет cost; 0 означает DefaultCost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = DefaultCost
	}

	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("password.NewBcrypt: %d: %w", cost, ErrInvalidCost)
	}

	return &Bcrypt{cost: cost}, nil
}

// Hash возвращает соленый bcrypt-хэш. Пароли длиннее 72 байт bcrypt отвергает.
func (b *Bcrypt) Hash(plain string) (string, error) {
	const op = "password.Bcrypt.Hash"

	h, err := bcrypt.GenerateFromPassword([]byte(plain), b.cost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(h), nil
}

// Verify сравнивает пароль с хэшем за постоянное время.
// Битый хэш трактуется как несовпадение.
func (b *Bcrypt) Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
