// Package handler содержит HTTP-обработчики API библиотечного сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/library-system/internal/middleware"
	"github.com/mmeshcher/library-system/internal/model"
	"github.com/mmeshcher/library-system/internal/repository"
	"github.com/mmeshcher/library-system/internal/service"
	"github.com/mmeshcher/library-system/internal/telegram"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)

	CreateBook(ctx context.Context, b *model.Book) (int64, error)
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	ListBooks(ctx context.Context) ([]model.Book, error)
	UpdateBook(ctx context.Context, b *model.Book) error
	DeleteBook(ctx context.Context, id int64) error

	CreateBorrowing(ctx context.Context, userID, bookID int64, expectedReturn *time.Time) (*model.Borrowing, string, error)
	GetBorrowing(ctx context.Context, id int64) (*model.Borrowing, error)
	ListBorrowings(ctx context.Context, filter repository.BorrowingFilter) ([]model.Borrowing, error)
	ReturnBorrowing(ctx context.Context, id int64, returnedAt *time.Time) (*model.Borrowing, string, error)

	GetPayment(ctx context.Context, id int64) (*model.Payment, error)
	ListPayments(ctx context.Context, userID *int64) ([]model.Payment, error)
	CreateCheckout(ctx context.Context, borrowingID int64, typ model.PaymentType) (*model.Payment, error)
	ReconcilePayment(ctx context.Context, sessionID string, paid bool) (*model.Payment, error)
	ConfirmSessionPaid(ctx context.Context, sessionID string) (*model.Payment, error)

	HandleTelegramUpdate(ctx context.Context, upd *telegram.Update)
}

// Handler реализует HTTP-обработчики API библиотечного сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, false)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, user.ID, user.IsStaff)
	w.WriteHeader(http.StatusOK)
}

type bookRequest struct {
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	Cover     string  `json:"cover"`
	Inventory int32   `json:"inventory"`
	DailyFee  float64 `json:"daily_fee"`
}

type bookResponse struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	Cover     string  `json:"cover"`
	Inventory int32   `json:"inventory"`
	DailyFee  float64 `json:"daily_fee"`
}

func toBookResponse(b *model.Book) bookResponse {
	return bookResponse{
		ID:        b.ID,
		Title:     b.Title,
		Author:    b.Author,
		Cover:     string(b.Cover),
		Inventory: b.Inventory,
		DailyFee:  float64(b.DailyFeeCents) / 100,
	}
}

// CreateBook добавляет книгу в каталог. Только для сотрудников.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Title == "" || req.Author == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	book := &model.Book{
		Title:         req.Title,
		Author:        req.Author,
		Cover:         model.BookCover(req.Cover),
		Inventory:     req.Inventory,
		DailyFeeCents: int64(req.DailyFee * 100),
	}

	id, err := h.service.CreateBook(r.Context(), book)
	if err != nil {
		if errors.Is(err, service.ErrInvalidBook) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("create book error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	book.ID = id

	writeJSON(w, http.StatusCreated, toBookResponse(book))
}

// GetBooks возвращает список всех книг каталога.
func (h *Handler) GetBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		h.logger.Error("list books error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]bookResponse, 0, len(books))
	for i := range books {
		resp = append(resp, toBookResponse(&books[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetBook возвращает книгу по идентификатору.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get book error", zap.Error(err), zap.Int64("bookID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// UpdateBook обновляет данные книги. Только для сотрудников.
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	book := &model.Book{
		ID:            id,
		Title:         req.Title,
		Author:        req.Author,
		Cover:         model.BookCover(req.Cover),
		Inventory:     req.Inventory,
		DailyFeeCents: int64(req.DailyFee * 100),
	}

	if err := h.service.UpdateBook(r.Context(), book); err != nil {
		switch {
		case errors.Is(err, repository.ErrBookNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidBook):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		default:
			h.logger.Error("update book error", zap.Error(err), zap.Int64("bookID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, toBookResponse(book))
}

// DeleteBook удаляет книгу из каталога. Только для сотрудников.
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, repository.ErrBookNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrBookBorrowed):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("delete book error", zap.Error(err), zap.Int64("bookID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type createBorrowingRequest struct {
	BookID             int64      `json:"book_id"`
	ExpectedReturnDate *time.Time `json:"expected_return_date"`
}

type borrowingResponse struct {
	ID                 int64   `json:"id"`
	BookID             int64   `json:"book_id"`
	UserID             int64   `json:"user_id"`
	BorrowDate         string  `json:"borrow_date"`
	ExpectedReturnDate string  `json:"expected_return_date"`
	ActualReturnDate   *string `json:"actual_return_date"`
	PayStatus          string  `json:"pay_status"`
	CheckoutURL        *string `json:"checkout_url,omitempty"`
}

func toBorrowingResponse(b *model.Borrowing) borrowingResponse {
	resp := borrowingResponse{
		ID:                 b.ID,
		BookID:             b.BookID,
		UserID:             b.UserID,
		BorrowDate:         b.BorrowDate.Format(time.RFC3339),
		ExpectedReturnDate: b.ExpectedReturnDate.Format(time.RFC3339),
		PayStatus:          string(b.PayStatus),
	}
	if b.ActualReturnDate != nil {
		v := b.ActualReturnDate.Format(time.RFC3339)
		resp.ActualReturnDate = &v
	}
	return resp
}

// CreateBorrowing создаёт выдачу книги текущему пользователю.
func (h *Handler) CreateBorrowing(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createBorrowingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	borrowing, checkoutURL, err := h.service.CreateBorrowing(r.Context(), userID, req.BookID, req.ExpectedReturnDate)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExpectedReturnDate):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"expected_return_date": "Expected return date must be provided!",
			})
		case errors.Is(err, repository.ErrBookNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrOutOfStock):
			writeJSON(w, http.StatusConflict, map[string]string{
				"message": "There is no this book more",
			})
		case errors.Is(err, service.ErrGatewayUnavailable):
			// Выдача уже создана; оплату можно создать повторно.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"id":      borrowing.ID,
				"message": "Payment session creation failed, retry via /api/payments/checkout",
			})
		case errors.Is(err, repository.ErrPaymentExists):
			// Гонка с повторной попыткой: незакрытый платёж по выдаче уже есть.
			writeJSON(w, http.StatusConflict, map[string]any{
				"id":      borrowing.ID,
				"message": "Pending payment already exists for this borrowing",
			})
		default:
			h.logger.Error("create borrowing error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	resp := toBorrowingResponse(borrowing)
	if checkoutURL != "" {
		resp.CheckoutURL = &checkoutURL
	}

	writeJSON(w, http.StatusCreated, resp)
}

// GetBorrowings возвращает список выдач. Обычный пользователь видит только свои,
// сотрудник — все, с фильтрами is_active и user_id.
func (h *Handler) GetBorrowings(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	isStaff := middleware.IsStaffFromContext(r.Context())

	filter := repository.BorrowingFilter{}

	if !isStaff {
		filter.UserID = &userID
	} else if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter.UserID = &id
	}

	switch r.URL.Query().Get("is_active") {
	case "1", "true", "yes", "active":
		v := true
		filter.IsActive = &v
	case "0", "false", "no", "inactive":
		v := false
		filter.IsActive = &v
	}

	borrowings, err := h.service.ListBorrowings(r.Context(), filter)
	if err != nil {
		h.logger.Error("list borrowings error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]borrowingResponse, 0, len(borrowings))
	for i := range borrowings {
		resp = append(resp, toBorrowingResponse(&borrowings[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetBorrowing возвращает выдачу по идентификатору. Чужие выдачи видят только сотрудники.
func (h *Handler) GetBorrowing(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	borrowing, err := h.service.GetBorrowing(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrBorrowingNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get borrowing error", zap.Error(err), zap.Int64("borrowingID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if !middleware.IsStaffFromContext(r.Context()) && borrowing.UserID != userID {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toBorrowingResponse(borrowing))
}

type returnBorrowingRequest struct {
	ActualReturnDate *time.Time `json:"actual_return_date"`
}

// ReturnBorrowing фиксирует возврат книги. Только для сотрудников.
func (h *Handler) ReturnBorrowing(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req returnBorrowingRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	borrowing, fineURL, err := h.service.ReturnBorrowing(r.Context(), id, req.ActualReturnDate)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBorrowingNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"message": "Borrowing with given ID not exists",
			})
		case errors.Is(err, repository.ErrAlreadyReturned):
			writeJSON(w, http.StatusConflict, map[string]string{
				"message": "Book is already returned",
			})
		case errors.Is(err, service.ErrGatewayUnavailable):
			// Возврат зафиксирован; сессию штрафа можно создать повторно.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"id":      borrowing.ID,
				"message": "Fine session creation failed, retry via /api/payments/checkout",
			})
		case errors.Is(err, repository.ErrPaymentExists):
			// Возврат зафиксирован, но незакрытый штраф по выдаче уже есть.
			writeJSON(w, http.StatusConflict, map[string]any{
				"id":      borrowing.ID,
				"message": "Pending fine payment already exists for this borrowing",
			})
		default:
			h.logger.Error("return borrowing error", zap.Error(err), zap.Int64("borrowingID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	if fineURL == "" {
		writeJSON(w, http.StatusOK, map[string]string{"message": "You don't have overdue!"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"checkout_fine_url": fineURL})
}

type paymentResponse struct {
	ID          int64   `json:"id"`
	BorrowingID int64   `json:"borrowing_id"`
	Status      string  `json:"status"`
	Type        string  `json:"type"`
	SessionID   string  `json:"session_id"`
	SessionURL  string  `json:"session_url"`
	MoneyToPay  float64 `json:"money_to_pay"`
}

func toPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:          p.ID,
		BorrowingID: p.BorrowingID,
		Status:      string(p.Status),
		Type:        string(p.Type),
		SessionID:   p.SessionID,
		SessionURL:  p.SessionURL,
		MoneyToPay:  float64(p.MoneyToPayCents) / 100,
	}
}

// GetPayments возвращает платежи: сотрудник видит все, пользователь — только свои.
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var scope *int64
	if !middleware.IsStaffFromContext(r.Context()) {
		scope = &userID
	}

	payments, err := h.service.ListPayments(r.Context(), scope)
	if err != nil {
		h.logger.Error("list payments error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		resp = append(resp, toPaymentResponse(&payments[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetPayment возвращает платёж по идентификатору. Чужие платежи видят только сотрудники.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get payment error", zap.Error(err), zap.Int64("paymentID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if !middleware.IsStaffFromContext(r.Context()) {
		borrowing, err := h.service.GetBorrowing(r.Context(), p.BorrowingID)
		if err != nil || borrowing.UserID != userID {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

type checkoutRequest struct {
	BorrowingID int64  `json:"borrowing_id"`
	Type        string `json:"type"`
}

// CreateCheckout создаёт платёжную сессию для существующей выдачи.
// Используется для повторной попытки после сбоя платёжной системы.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	typ := model.PaymentType(req.Type)
	if typ != model.PaymentTypePayment && typ != model.PaymentTypeFine {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !middleware.IsStaffFromContext(r.Context()) {
		borrowing, err := h.service.GetBorrowing(r.Context(), req.BorrowingID)
		if err != nil || borrowing.UserID != userID {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
	}

	p, err := h.service.CreateCheckout(r.Context(), req.BorrowingID, typ)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBorrowingNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrNoPaymentDue):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrPaymentExists):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, service.ErrGatewayUnavailable):
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		default:
			h.logger.Error("create checkout error", zap.Error(err), zap.Int64("borrowingID", req.BorrowingID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toPaymentResponse(p))
}

type paymentWebhookRequest struct {
	SessionID string `json:"session_id"`
	Paid      bool   `json:"paid"`
}

// PaymentWebhook обрабатывает колбэк платёжной системы об исходе сессии.
// Повторная доставка безопасна: сверка идемпотентна.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req paymentWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.ReconcilePayment(r.Context(), req.SessionID, req.Paid)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("payment webhook error", zap.Error(err), zap.String("sessionID", req.SessionID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// PaymentSuccess обрабатывает возврат пользователя с платёжной страницы.
// Оплата подтверждается у платёжной системы до применения.
func (h *Handler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.ConfirmSessionPaid(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPaymentNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrSessionNotPaid):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, service.ErrGatewayUnavailable):
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		default:
			h.logger.Error("payment success error", zap.Error(err), zap.String("sessionID", sessionID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Payment was successful!",
		"payment": toPaymentResponse(p),
	})
}

// PaymentCancel обрабатывает отмену оплаты пользователем: незакрытый платёж
// удаляется, а возврат по штрафу откатывается.
func (h *Handler) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	_, err := h.service.ReconcilePayment(r.Context(), sessionID, false)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("payment cancel error", zap.Error(err), zap.String("sessionID", sessionID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Payment was cancelled. You can pay later, the session is available for 24 hours.",
	})
}

// TelegramWebhook обрабатывает входящие обновления от Telegram-бота.
func (h *Handler) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.service.HandleTelegramUpdate(r.Context(), &upd)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
