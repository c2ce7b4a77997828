// Package model содержит доменные сущности библиотечного сервиса.
package model

import "time"

// User представляет зарегистрированного пользователя библиотеки.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	IsStaff      bool
	CreatedAt    time.Time
}

// BookCover описывает тип обложки книги.
type BookCover string

const (
	BookCoverHard BookCover = "HARD"
	BookCoverSoft BookCover = "SOFT"
)

// Book описывает книгу каталога и количество доступных экземпляров.
type Book struct {
	ID            int64
	Title         string
	Author        string
	Cover         BookCover
	Inventory     int32
	DailyFeeCents int64
}

// PayStatus описывает статус оплаты выдачи или платежа.
type PayStatus string

const (
	PayStatusPending PayStatus = "PENDING"
	PayStatusPaid    PayStatus = "PAID"
)

// Borrowing описывает выдачу одного экземпляра книги пользователю.
type Borrowing struct {
	ID                 int64
	UserID             int64
	BookID             int64
	BorrowDate         time.Time
	ExpectedReturnDate time.Time
	ActualReturnDate   *time.Time
	PayStatus          PayStatus
}

// Returned сообщает, была ли книга уже возвращена.
func (b *Borrowing) Returned() bool {
	return b.ActualReturnDate != nil
}

// PaymentType описывает тип платежа: обычная оплата выдачи или штраф за просрочку.
type PaymentType string

const (
	PaymentTypePayment PaymentType = "PAYMENT"
	PaymentTypeFine    PaymentType = "FINE"
)

// Payment описывает запись о попытке оплаты, связанную с выдачей.
type Payment struct {
	ID              int64
	BorrowingID     int64
	Status          PayStatus
	Type            PaymentType
	SessionID       string
	SessionURL      string
	MoneyToPayCents int64
	CreatedAt       time.Time
}

// UserProfile связывает email аккаунта с идентификатором чата в Telegram.
// Связь необязательная: отсутствие профиля — нормальное состояние.
type UserProfile struct {
	ID             int64
	Email          string
	TelegramChatID *int64
}
