// Package validation содержит функции валидации входных данных.
package validation

import "net/mail"

// IsValidEmail проверяет, что строка является корректным email-адресом.
func IsValidEmail(email string) bool {
	if email == "" {
		return false
	}

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}

	// ParseAddress допускает формы с отображаемым именем, нам нужен голый адрес.
	return addr.Address == email
}
