// Package service реализует бизнес-логику библиотечного сервиса:
// жизненный цикл выдачи книги, начисление штрафов и сверку платежей.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/library-system/internal/model"
	"github.com/mmeshcher/library-system/internal/payment"
	"github.com/mmeshcher/library-system/internal/repository"
	"github.com/mmeshcher/library-system/internal/telegram"
	"github.com/mmeshcher/library-system/internal/validation"
)

// FineMultiplier — множитель штрафа за каждый день просрочки.
const FineMultiplier = 2

// ErrExpectedReturnDate возвращается, если при создании выдачи не указана ожидаемая дата возврата.
var (
	ErrExpectedReturnDate = errors.New("expected return date must be provided")
	// ErrGatewayUnavailable возвращается, если платёжная система недоступна:
	// локальные изменения уже зафиксированы, создание сессии можно повторить.
	ErrGatewayUnavailable = errors.New("payment system unavailable")
	// ErrNoPaymentDue возвращается при попытке создать платёж, по которому нечего платить.
	ErrNoPaymentDue = errors.New("nothing to pay for this borrowing")
	// ErrSessionNotPaid возвращается, если платёжная система ещё не подтвердила оплату сессии.
	ErrSessionNotPaid = errors.New("session is not paid")
	// ErrInvalidBook возвращается при некорректных данных книги.
	ErrInvalidBook = errors.New("invalid book data")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)

	CreateBook(ctx context.Context, b *model.Book) (int64, error)
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	ListBooks(ctx context.Context) ([]model.Book, error)
	UpdateBook(ctx context.Context, b *model.Book) error
	DeleteBook(ctx context.Context, id int64) error

	CreateBorrowing(ctx context.Context, userID, bookID int64, expectedReturn time.Time) (*model.Borrowing, *model.Book, error)
	GetBorrowing(ctx context.Context, id int64) (*model.Borrowing, error)
	ListBorrowings(ctx context.Context, filter repository.BorrowingFilter) ([]model.Borrowing, error)
	ReturnBorrowing(ctx context.Context, id int64, returnedAt time.Time) (*model.Borrowing, *model.Book, error)

	CreatePayment(ctx context.Context, p *model.Payment) (int64, error)
	GetPayment(ctx context.Context, id int64) (*model.Payment, error)
	GetPaymentBySession(ctx context.Context, sessionID string) (*model.Payment, error)
	ListPayments(ctx context.Context, userID *int64) ([]model.Payment, error)
	MarkPaymentPaid(ctx context.Context, sessionID string) (*model.Payment, bool, error)
	CancelPayment(ctx context.Context, sessionID string) (*model.Payment, bool, error)

	GetOverdueBorrowings(ctx context.Context, now time.Time) ([]repository.OverdueBorrowing, error)
	LinkProfile(ctx context.Context, email string, chatID int64) error
	GetChatIDByEmail(ctx context.Context, email string) (int64, error)
}

// PaymentGateway описывает контракт платёжной системы: создание checkout-сессии
// и запрос её состояния. Вызовы считаются медленными и ненадёжными.
type PaymentGateway interface {
	CreateSession(ctx context.Context, amountCents int64, description string) (*payment.Session, error)
	GetSession(ctx context.Context, sessionID string) (*payment.SessionStatus, error)
}

// Notifier описывает контракт отправки уведомлений во внешний чат.
// Отправка — best-effort: ошибки логируются и никогда не прерывают операцию.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Service содержит бизнес-логику библиотечного сервиса.
type Service struct {
	repo     Repository
	gateway  PaymentGateway
	notifier Notifier
	logger   *zap.Logger
}

// NewService создаёт новый сервис. Платёжная система и нотификатор опциональны:
// без них соответствующие шаги пропускаются.
func NewService(repo Repository, gateway PaymentGateway, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его данные.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// CreateBook добавляет книгу в каталог.
func (s *Service) CreateBook(ctx context.Context, b *model.Book) (int64, error) {
	if b.Cover != model.BookCoverHard && b.Cover != model.BookCoverSoft {
		return 0, fmt.Errorf("%w: unknown cover %q", ErrInvalidBook, b.Cover)
	}
	if b.Inventory < 0 || b.DailyFeeCents < 0 {
		return 0, fmt.Errorf("%w: negative inventory or fee", ErrInvalidBook)
	}
	return s.repo.CreateBook(ctx, b)
}

// GetBook возвращает книгу по идентификатору.
func (s *Service) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	return s.repo.GetBook(ctx, id)
}

// ListBooks возвращает все книги каталога.
func (s *Service) ListBooks(ctx context.Context) ([]model.Book, error) {
	return s.repo.ListBooks(ctx)
}

// UpdateBook обновляет данные книги.
func (s *Service) UpdateBook(ctx context.Context, b *model.Book) error {
	if b.Cover != model.BookCoverHard && b.Cover != model.BookCoverSoft {
		return fmt.Errorf("%w: unknown cover %q", ErrInvalidBook, b.Cover)
	}
	return s.repo.UpdateBook(ctx, b)
}

// DeleteBook удаляет книгу из каталога.
func (s *Service) DeleteBook(ctx context.Context, id int64) error {
	return s.repo.DeleteBook(ctx, id)
}

// CreateBorrowing резервирует экземпляр книги, создаёт выдачу, платёжную сессию
// и запись о платеже. Возвращает выдачу и URL оплаты.
//
// Если платёжная система недоступна, выдача и резерв уже зафиксированы:
// возвращается выдача и ErrGatewayUnavailable, оплату можно создать повторно.
func (s *Service) CreateBorrowing(ctx context.Context, userID, bookID int64, expectedReturn *time.Time) (*model.Borrowing, string, error) {
	if expectedReturn == nil || expectedReturn.IsZero() {
		return nil, "", ErrExpectedReturnDate
	}

	borrowing, book, err := s.repo.CreateBorrowing(ctx, userID, bookID, *expectedReturn)
	if err != nil {
		return nil, "", err
	}

	checkoutURL := ""
	var gatewayErr error
	if s.gateway != nil {
		amount := borrowFeeCents(borrowing.BorrowDate, borrowing.ExpectedReturnDate, book.DailyFeeCents)
		session, err := s.gateway.CreateSession(ctx, amount,
			fmt.Sprintf("Borrowing #%d: %s", borrowing.ID, book.Title))
		if err != nil {
			s.logger.Error("create checkout session", zap.Error(err), zap.Int64("borrowingID", borrowing.ID))
			gatewayErr = fmt.Errorf("%w: %s", ErrGatewayUnavailable, err)
		} else {
			_, err = s.repo.CreatePayment(ctx, &model.Payment{
				BorrowingID:     borrowing.ID,
				Type:            model.PaymentTypePayment,
				SessionID:       session.ID,
				SessionURL:      session.URL,
				MoneyToPayCents: amount,
			})
			if err != nil {
				return borrowing, "", err
			}
			checkoutURL = session.URL
		}
	}

	s.notifyNewBorrowing(ctx, borrowing, book)

	return borrowing, checkoutURL, gatewayErr
}

// ReturnBorrowing фиксирует возврат книги. Если книга просрочена, создаёт
// платёжную сессию штрафа и запись о платеже; возвращает URL оплаты штрафа.
func (s *Service) ReturnBorrowing(ctx context.Context, id int64, returnedAt *time.Time) (*model.Borrowing, string, error) {
	at := time.Now()
	if returnedAt != nil && !returnedAt.IsZero() {
		at = *returnedAt
	}

	borrowing, book, err := s.repo.ReturnBorrowing(ctx, id, at)
	if err != nil {
		return nil, "", err
	}

	fine := fineCents(borrowing.ExpectedReturnDate, *borrowing.ActualReturnDate, book.DailyFeeCents)
	if fine == 0 {
		return borrowing, "", nil
	}

	if s.gateway == nil {
		s.logger.Warn("fine due but payment system not configured", zap.Int64("borrowingID", borrowing.ID))
		return borrowing, "", nil
	}

	session, err := s.gateway.CreateSession(ctx, fine,
		fmt.Sprintf("Fine for borrowing #%d: %s", borrowing.ID, book.Title))
	if err != nil {
		s.logger.Error("create fine checkout session", zap.Error(err), zap.Int64("borrowingID", borrowing.ID))
		return borrowing, "", fmt.Errorf("%w: %s", ErrGatewayUnavailable, err)
	}

	_, err = s.repo.CreatePayment(ctx, &model.Payment{
		BorrowingID:     borrowing.ID,
		Type:            model.PaymentTypeFine,
		SessionID:       session.ID,
		SessionURL:      session.URL,
		MoneyToPayCents: fine,
	})
	if err != nil {
		return borrowing, "", err
	}

	return borrowing, session.URL, nil
}

// CreateCheckout создаёт платёжную сессию и запись о платеже для существующей
// выдачи. Используется для повторной попытки после сбоя платёжной системы.
func (s *Service) CreateCheckout(ctx context.Context, borrowingID int64, typ model.PaymentType) (*model.Payment, error) {
	borrowing, err := s.repo.GetBorrowing(ctx, borrowingID)
	if err != nil {
		return nil, err
	}

	book, err := s.repo.GetBook(ctx, borrowing.BookID)
	if err != nil {
		return nil, err
	}

	var amount int64
	var description string
	switch typ {
	case model.PaymentTypePayment:
		amount = borrowFeeCents(borrowing.BorrowDate, borrowing.ExpectedReturnDate, book.DailyFeeCents)
		description = fmt.Sprintf("Borrowing #%d: %s", borrowing.ID, book.Title)
	case model.PaymentTypeFine:
		if borrowing.ActualReturnDate == nil {
			return nil, fmt.Errorf("%w: book is not returned", ErrNoPaymentDue)
		}
		amount = fineCents(borrowing.ExpectedReturnDate, *borrowing.ActualReturnDate, book.DailyFeeCents)
		if amount == 0 {
			return nil, fmt.Errorf("%w: no overdue", ErrNoPaymentDue)
		}
		description = fmt.Sprintf("Fine for borrowing #%d: %s", borrowing.ID, book.Title)
	default:
		return nil, fmt.Errorf("unknown payment type: %s", typ)
	}

	if s.gateway == nil {
		return nil, ErrGatewayUnavailable
	}

	session, err := s.gateway.CreateSession(ctx, amount, description)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, err)
	}

	p := &model.Payment{
		BorrowingID:     borrowing.ID,
		Status:          model.PayStatusPending,
		Type:            typ,
		SessionID:       session.ID,
		SessionURL:      session.URL,
		MoneyToPayCents: amount,
	}
	id, err := s.repo.CreatePayment(ctx, p)
	if err != nil {
		return nil, err
	}
	p.ID = id

	return p, nil
}

// ReconcilePayment применяет исход платёжной сессии к локальному состоянию.
// Оплата переводит платёж (и для типа PAYMENT — выдачу) в PAID; отмена удаляет
// незакрытый платёж, а для штрафа отменяет и сам возврат. Повторный вызов
// для уже применённой сессии — no-op.
func (s *Service) ReconcilePayment(ctx context.Context, sessionID string, paid bool) (*model.Payment, error) {
	if paid {
		p, applied, err := s.repo.MarkPaymentPaid(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if applied {
			s.notifyPaymentReceived(ctx, p)
		}
		return p, nil
	}

	p, _, err := s.repo.CancelPayment(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ConfirmSessionPaid проверяет у платёжной системы, что сессия оплачена,
// и применяет оплату к локальному состоянию.
func (s *Service) ConfirmSessionPaid(ctx context.Context, sessionID string) (*model.Payment, error) {
	if s.gateway == nil {
		return nil, ErrGatewayUnavailable
	}

	status, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, err)
	}
	if !status.Paid {
		return nil, ErrSessionNotPaid
	}

	return s.ReconcilePayment(ctx, sessionID, true)
}

// GetBorrowing возвращает выдачу по идентификатору.
func (s *Service) GetBorrowing(ctx context.Context, id int64) (*model.Borrowing, error) {
	return s.repo.GetBorrowing(ctx, id)
}

// ListBorrowings возвращает выдачи по фильтру.
func (s *Service) ListBorrowings(ctx context.Context, filter repository.BorrowingFilter) ([]model.Borrowing, error) {
	return s.repo.ListBorrowings(ctx, filter)
}

// GetPayment возвращает платёж по идентификатору.
func (s *Service) GetPayment(ctx context.Context, id int64) (*model.Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListPayments возвращает платежи: все или только по выдачам указанного пользователя.
func (s *Service) ListPayments(ctx context.Context, userID *int64) ([]model.Payment, error) {
	return s.repo.ListPayments(ctx, userID)
}

// HandleTelegramUpdate обрабатывает входящее сообщение боту: команду /start,
// email для привязки аккаунта или произвольный текст.
func (s *Service) HandleTelegramUpdate(ctx context.Context, upd *telegram.Update) {
	if upd == nil || upd.Message == nil {
		return
	}

	chatID := upd.Message.Chat.ID
	text := strings.TrimSpace(upd.Message.Text)

	switch {
	case text == "/start":
		s.reply(ctx, chatID, "Please, enter your email to connect to your account.")
	case validation.IsValidEmail(text):
		if err := s.repo.LinkProfile(ctx, text, chatID); err != nil {
			s.logger.Error("link telegram profile", zap.Error(err), zap.Int64("chatID", chatID))
			s.reply(ctx, chatID, "Something went wrong. Please try again later.")
			return
		}
		s.reply(ctx, chatID, "You were successfully logged in!")
	default:
		s.reply(ctx, chatID, "Invalid input. Please enter a valid email.")
	}
}

// StartOverdueNotifications запускает фоновый процесс ежедневных уведомлений
// о просроченных выдачах.
func (s *Service) StartOverdueNotifications(ctx context.Context) {
	if s.notifier == nil {
		return
	}

	go func() {
		s.processOverdueBatch(ctx)

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processOverdueBatch(ctx)
			}
		}
	}()
}

// reply отправляет ответ в чат. Ошибки отправки только логируются.
func (s *Service) reply(ctx context.Context, chatID int64, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendMessage(ctx, chatID, text); err != nil {
		s.logger.Warn("send telegram reply", zap.Error(err), zap.Int64("chatID", chatID))
	}
}

func (s *Service) processOverdueBatch(ctx context.Context) {
	overdue, err := s.repo.GetOverdueBorrowings(ctx, time.Now())
	if err != nil {
		s.logger.Error("select overdue borrowings", zap.Error(err))
		return
	}

	for _, o := range overdue {
		if o.TelegramChatID == nil {
			continue
		}

		text := fmt.Sprintf(
			"You had to return book:\nTitle: %s\nAuthor: %s\nTo: %s\nPlease, return the book as soon as possible!",
			o.BookTitle, o.BookAuthor, o.ExpectedReturnDate.Format(time.RFC3339),
		)
		if err := s.notifier.SendMessage(ctx, *o.TelegramChatID, text); err != nil {
			s.logger.Warn("send overdue notification", zap.Error(err), zap.Int64("borrowingID", o.BorrowingID))
		}
	}
}

func (s *Service) notifyNewBorrowing(ctx context.Context, borrowing *model.Borrowing, book *model.Book) {
	chatID, ok := s.chatIDForUser(ctx, borrowing.UserID)
	if !ok {
		return
	}

	text := fmt.Sprintf(
		"You have new borrowing:\nBook Title: %s\nBook Author: %s\nExpected return date: %s\nPrice per day: %.2f",
		book.Title, book.Author,
		borrowing.ExpectedReturnDate.Format(time.RFC3339),
		float64(book.DailyFeeCents)/100,
	)
	if err := s.notifier.SendMessage(ctx, chatID, text); err != nil {
		s.logger.Warn("send borrowing notification", zap.Error(err), zap.Int64("borrowingID", borrowing.ID))
	}
}

func (s *Service) notifyPaymentReceived(ctx context.Context, p *model.Payment) {
	borrowing, err := s.repo.GetBorrowing(ctx, p.BorrowingID)
	if err != nil {
		s.logger.Warn("get borrowing for notification", zap.Error(err), zap.Int64("paymentID", p.ID))
		return
	}

	chatID, ok := s.chatIDForUser(ctx, borrowing.UserID)
	if !ok {
		return
	}

	text := fmt.Sprintf("Your payment of %.2f for borrowing #%d was received. Thank you!",
		float64(p.MoneyToPayCents)/100, p.BorrowingID)
	if err := s.notifier.SendMessage(ctx, chatID, text); err != nil {
		s.logger.Warn("send payment notification", zap.Error(err), zap.Int64("paymentID", p.ID))
	}
}

// chatIDForUser находит привязанный Telegram-чат пользователя.
// Отсутствие привязки — нормальное состояние, не ошибка.
func (s *Service) chatIDForUser(ctx context.Context, userID int64) (int64, bool) {
	if s.notifier == nil {
		return 0, false
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Warn("get user for notification", zap.Error(err), zap.Int64("userID", userID))
		return 0, false
	}

	chatID, err := s.repo.GetChatIDByEmail(ctx, u.Login)
	if err != nil {
		if !errors.Is(err, repository.ErrProfileNotFound) {
			s.logger.Warn("get chat id for notification", zap.Error(err), zap.Int64("userID", userID))
		}
		return 0, false
	}

	return chatID, true
}

// borrowFeeCents считает стоимость выдачи: полные дни от выдачи до ожидаемого
// возврата, но не меньше одного дня.
func borrowFeeCents(borrowDate, expectedReturn time.Time, dailyFeeCents int64) int64 {
	days := int64(expectedReturn.Sub(borrowDate).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days * dailyFeeCents
}

// fineCents считает штраф: полные дни просрочки × дневная ставка × множитель.
// Без просрочки штраф равен нулю.
func fineCents(expectedReturn, actualReturn time.Time, dailyFeeCents int64) int64 {
	delayDays := int64(actualReturn.Sub(expectedReturn).Hours() / 24)
	if delayDays <= 0 {
		return 0
	}
	return delayDays * dailyFeeCents * FineMultiplier
}
