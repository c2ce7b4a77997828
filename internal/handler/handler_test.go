package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/library-system/internal/middleware"
	"github.com/mmeshcher/library-system/internal/model"
	"github.com/mmeshcher/library-system/internal/repository"
	"github.com/mmeshcher/library-system/internal/service"
	"github.com/mmeshcher/library-system/internal/telegram"
)

var errNotImplemented = errors.New("not implemented in stub")

// stubService позволяет задавать поведение бизнес-логики из теста.
type stubService struct {
	registerFn        func(ctx context.Context, login, password string) (int64, error)
	authenticateFn    func(ctx context.Context, login, password string) (*model.User, error)
	createBookFn      func(ctx context.Context, b *model.Book) (int64, error)
	getBookFn         func(ctx context.Context, id int64) (*model.Book, error)
	listBooksFn       func(ctx context.Context) ([]model.Book, error)
	updateBookFn      func(ctx context.Context, b *model.Book) error
	deleteBookFn      func(ctx context.Context, id int64) error
	createBorrowingFn func(ctx context.Context, userID, bookID int64, expectedReturn *time.Time) (*model.Borrowing, string, error)
	getBorrowingFn    func(ctx context.Context, id int64) (*model.Borrowing, error)
	listBorrowingsFn  func(ctx context.Context, filter repository.BorrowingFilter) ([]model.Borrowing, error)
	returnBorrowingFn func(ctx context.Context, id int64, returnedAt *time.Time) (*model.Borrowing, string, error)
	getPaymentFn      func(ctx context.Context, id int64) (*model.Payment, error)
	listPaymentsFn    func(ctx context.Context, userID *int64) ([]model.Payment, error)
	createCheckoutFn  func(ctx context.Context, borrowingID int64, typ model.PaymentType) (*model.Payment, error)
	reconcileFn       func(ctx context.Context, sessionID string, paid bool) (*model.Payment, error)
	confirmFn         func(ctx context.Context, sessionID string) (*model.Payment, error)
	telegramUpdates   []*telegram.Update
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	if s.registerFn != nil {
		return s.registerFn(ctx, login, password)
	}
	return 0, errNotImplemented
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	if s.authenticateFn != nil {
		return s.authenticateFn(ctx, login, password)
	}
	return nil, errNotImplemented
}

func (s *stubService) CreateBook(ctx context.Context, b *model.Book) (int64, error) {
	if s.createBookFn != nil {
		return s.createBookFn(ctx, b)
	}
	return 0, errNotImplemented
}

func (s *stubService) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	if s.getBookFn != nil {
		return s.getBookFn(ctx, id)
	}
	return nil, errNotImplemented
}

func (s *stubService) ListBooks(ctx context.Context) ([]model.Book, error) {
	if s.listBooksFn != nil {
		return s.listBooksFn(ctx)
	}
	return nil, errNotImplemented
}

func (s *stubService) UpdateBook(ctx context.Context, b *model.Book) error {
	if s.updateBookFn != nil {
		return s.updateBookFn(ctx, b)
	}
	return errNotImplemented
}

func (s *stubService) DeleteBook(ctx context.Context, id int64) error {
	if s.deleteBookFn != nil {
		return s.deleteBookFn(ctx, id)
	}
	return errNotImplemented
}

func (s *stubService) CreateBorrowing(ctx context.Context, userID, bookID int64, expectedReturn *time.Time) (*model.Borrowing, string, error) {
	if s.createBorrowingFn != nil {
		return s.createBorrowingFn(ctx, userID, bookID, expectedReturn)
	}
	return nil, "", errNotImplemented
}

func (s *stubService) GetBorrowing(ctx context.Context, id int64) (*model.Borrowing, error) {
	if s.getBorrowingFn != nil {
		return s.getBorrowingFn(ctx, id)
	}
	return nil, errNotImplemented
}

func (s *stubService) ListBorrowings(ctx context.Context, filter repository.BorrowingFilter) ([]model.Borrowing, error) {
	if s.listBorrowingsFn != nil {
		return s.listBorrowingsFn(ctx, filter)
	}
	return nil, errNotImplemented
}

func (s *stubService) ReturnBorrowing(ctx context.Context, id int64, returnedAt *time.Time) (*model.Borrowing, string, error) {
	if s.returnBorrowingFn != nil {
		return s.returnBorrowingFn(ctx, id, returnedAt)
	}
	return nil, "", errNotImplemented
}

func (s *stubService) GetPayment(ctx context.Context, id int64) (*model.Payment, error) {
	if s.getPaymentFn != nil {
		return s.getPaymentFn(ctx, id)
	}
	return nil, errNotImplemented
}

func (s *stubService) ListPayments(ctx context.Context, userID *int64) ([]model.Payment, error) {
	if s.listPaymentsFn != nil {
		return s.listPaymentsFn(ctx, userID)
	}
	return nil, errNotImplemented
}

func (s *stubService) CreateCheckout(ctx context.Context, borrowingID int64, typ model.PaymentType) (*model.Payment, error) {
	if s.createCheckoutFn != nil {
		return s.createCheckoutFn(ctx, borrowingID, typ)
	}
	return nil, errNotImplemented
}

func (s *stubService) ReconcilePayment(ctx context.Context, sessionID string, paid bool) (*model.Payment, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, sessionID, paid)
	}
	return nil, errNotImplemented
}

func (s *stubService) ConfirmSessionPaid(ctx context.Context, sessionID string) (*model.Payment, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, sessionID)
	}
	return nil, errNotImplemented
}

func (s *stubService) HandleTelegramUpdate(_ context.Context, upd *telegram.Update) {
	s.telegramUpdates = append(s.telegramUpdates, upd)
}

func newTestServer(t *testing.T, svc Service) (*httptest.Server, *middleware.AuthMiddleware) {
	t.Helper()
	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, zap.NewNop(), auth)
	srv := httptest.NewServer(h.SetupRouter())
	t.Cleanup(srv.Close)
	return srv, auth
}

func authCookie(t *testing.T, auth *middleware.AuthMiddleware, userID int64, isStaff bool) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	auth.SetAuthCookie(w, userID, isStaff)
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no auth cookie set")
	}
	return cookies[0]
}

func doRequest(t *testing.T, method, url, body string, cookie *http.Cookie) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestRegister(t *testing.T) {
	svc := &stubService{
		registerFn: func(_ context.Context, login, password string) (int64, error) {
			if login == "taken@example.com" {
				return 0, repository.ErrUserExists
			}
			return 1, nil
		},
	}
	srv, _ := newTestServer(t, svc)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/user/register",
		`{"login":"reader@example.com","password":"secret"}`, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if len(resp.Cookies()) == 0 {
		t.Fatalf("auth cookie was not set")
	}

	conflict := doRequest(t, http.MethodPost, srv.URL+"/api/user/register",
		`{"login":"taken@example.com","password":"secret"}`, nil)
	defer conflict.Body.Close()
	if conflict.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want %d", conflict.StatusCode, http.StatusConflict)
	}

	bad := doRequest(t, http.MethodPost, srv.URL+"/api/user/register", `{"login":""}`, nil)
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty login status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{
		authenticateFn: func(_ context.Context, _, _ string) (*model.User, error) {
			return nil, service.ErrInvalidCredentials
		},
	}
	srv, _ := newTestServer(t, svc)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/user/login",
		`{"login":"reader@example.com","password":"wrong"}`, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestCreateBorrowing(t *testing.T) {
	expected := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	svc := &stubService{
		createBorrowingFn: func(_ context.Context, userID, bookID int64, expectedReturn *time.Time) (*model.Borrowing, string, error) {
			if expectedReturn == nil {
				return nil, "", service.ErrExpectedReturnDate
			}
			if bookID == 404 {
				return nil, "", repository.ErrBookNotFound
			}
			if bookID == 409 {
				return nil, "", repository.ErrOutOfStock
			}
			return &model.Borrowing{
				ID:                 10,
				UserID:             userID,
				BookID:             bookID,
				BorrowDate:         time.Now(),
				ExpectedReturnDate: *expectedReturn,
				PayStatus:          model.PayStatusPending,
			}, "https://checkout.example/sess-1", nil
		},
	}
	srv, auth := newTestServer(t, svc)
	cookie := authCookie(t, auth, 42, false)

	body := `{"book_id":1,"expected_return_date":"` + expected.Format(time.RFC3339) + `"}`
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/borrowings", body, cookie)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var got borrowingResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != 10 || got.UserID != 42 {
		t.Fatalf("response = %+v", got)
	}
	if got.CheckoutURL == nil || *got.CheckoutURL != "https://checkout.example/sess-1" {
		t.Fatalf("checkout url = %v", got.CheckoutURL)
	}

	noDate := doRequest(t, http.MethodPost, srv.URL+"/api/borrowings", `{"book_id":1}`, cookie)
	defer noDate.Body.Close()
	if noDate.StatusCode != http.StatusBadRequest {
		t.Fatalf("no date status = %d, want %d", noDate.StatusCode, http.StatusBadRequest)
	}

	outOfStock := doRequest(t, http.MethodPost, srv.URL+"/api/borrowings",
		`{"book_id":409,"expected_return_date":"`+expected.Format(time.RFC3339)+`"}`, cookie)
	defer outOfStock.Body.Close()
	if outOfStock.StatusCode != http.StatusConflict {
		t.Fatalf("out of stock status = %d, want %d", outOfStock.StatusCode, http.StatusConflict)
	}

	noAuth := doRequest(t, http.MethodPost, srv.URL+"/api/borrowings", body, nil)
	defer noAuth.Body.Close()
	if noAuth.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no auth status = %d, want %d", noAuth.StatusCode, http.StatusUnauthorized)
	}
}

func TestCreateBorrowing_GatewayDown(t *testing.T) {
	expected := time.Now().Add(24 * time.Hour)
	svc := &stubService{
		createBorrowingFn: func(_ context.Context, userID, bookID int64, expectedReturn *time.Time) (*model.Borrowing, string, error) {
			bw := &model.Borrowing{ID: 7, UserID: userID, BookID: bookID,
				BorrowDate: time.Now(), ExpectedReturnDate: *expectedReturn, PayStatus: model.PayStatusPending}
			return bw, "", service.ErrGatewayUnavailable
		},
	}
	srv, auth := newTestServer(t, svc)
	cookie := authCookie(t, auth, 1, false)

	body := `{"book_id":1,"expected_return_date":"` + expected.Format(time.RFC3339) + `"}`
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/borrowings", body, cookie)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}

	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// Идентификатор выдачи возвращается для повторного создания сессии.
	if got["id"] != float64(7) {
		t.Fatalf("borrowing id in response = %v, want 7", got["id"])
	}
}

func TestCreateBorrowing_PendingPaymentExists(t *testing.T) {
	expected := time.Now().Add(24 * time.Hour)
	svc := &stubService{
		createBorrowingFn: func(_ context.Context, userID, bookID int64, expectedReturn *time.Time) (*model.Borrowing, string, error) {
			bw := &model.Borrowing{ID: 9, UserID: userID, BookID: bookID,
				BorrowDate: time.Now(), ExpectedReturnDate: *expectedReturn, PayStatus: model.PayStatusPending}
			return bw, "", repository.ErrPaymentExists
		},
	}
	srv, auth := newTestServer(t, svc)
	cookie := authCookie(t, auth, 1, false)

	body := `{"book_id":1,"expected_return_date":"` + expected.Format(time.RFC3339) + `"}`
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/borrowings", body, cookie)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// Выдача уже создана, её идентификатор возвращается клиенту.
	if got["id"] != float64(9) {
		t.Fatalf("borrowing id in response = %v, want 9", got["id"])
	}
}

func TestReturnBorrowing_PendingFineExists(t *testing.T) {
	svc := &stubService{
		returnBorrowingFn: func(_ context.Context, id int64, _ *time.Time) (*model.Borrowing, string, error) {
			now := time.Now()
			return &model.Borrowing{ID: id, ActualReturnDate: &now}, "", repository.ErrPaymentExists
		},
	}
	srv, auth := newTestServer(t, svc)
	staff := authCookie(t, auth, 1, true)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/borrowings/5/return", "", staff)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["id"] != float64(5) {
		t.Fatalf("borrowing id in response = %v, want 5", got["id"])
	}
}

func TestGetBorrowings_ScopedForRegularUser(t *testing.T) {
	var gotFilter repository.BorrowingFilter
	svc := &stubService{
		listBorrowingsFn: func(_ context.Context, filter repository.BorrowingFilter) ([]model.Borrowing, error) {
			gotFilter = filter
			return []model.Borrowing{}, nil
		},
	}
	srv, auth := newTestServer(t, svc)

	cookie := authCookie(t, auth, 42, false)
	resp := doRequest(t, http.MethodGet, srv.URL+"/api/borrowings?user_id=1&is_active=true", "", cookie)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	// Обычный пользователь видит только свои выдачи, чужой user_id игнорируется.
	if gotFilter.UserID == nil || *gotFilter.UserID != 42 {
		t.Fatalf("filter user id = %v, want 42", gotFilter.UserID)
	}
	if gotFilter.IsActive == nil || !*gotFilter.IsActive {
		t.Fatalf("filter is_active = %v, want true", gotFilter.IsActive)
	}

	staffCookie := authCookie(t, auth, 1, true)
	staffResp := doRequest(t, http.MethodGet, srv.URL+"/api/borrowings?user_id=42", "", staffCookie)
	defer staffResp.Body.Close()
	if gotFilter.UserID == nil || *gotFilter.UserID != 42 {
		t.Fatalf("staff filter user id = %v, want 42", gotFilter.UserID)
	}
}

func TestReturnBorrowing(t *testing.T) {
	svc := &stubService{
		returnBorrowingFn: func(_ context.Context, id int64, _ *time.Time) (*model.Borrowing, string, error) {
			switch id {
			case 404:
				return nil, "", repository.ErrBorrowingNotFound
			case 409:
				return nil, "", repository.ErrAlreadyReturned
			case 1:
				now := time.Now()
				return &model.Borrowing{ID: 1, ActualReturnDate: &now}, "https://checkout.example/fine-1", nil
			default:
				now := time.Now()
				return &model.Borrowing{ID: id, ActualReturnDate: &now}, "", nil
			}
		},
	}
	srv, auth := newTestServer(t, svc)
	staff := authCookie(t, auth, 1, true)

	// Возврат с просрочкой: в ответе ссылка на оплату штрафа.
	resp := doRequest(t, http.MethodPost, srv.URL+"/api/borrowings/1/return", "", staff)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var fineBody map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&fineBody); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if fineBody["checkout_fine_url"] != "https://checkout.example/fine-1" {
		t.Fatalf("fine url = %q", fineBody["checkout_fine_url"])
	}

	// Возврат без просрочки.
	onTime := doRequest(t, http.MethodPost, srv.URL+"/api/borrowings/2/return", "", staff)
	defer onTime.Body.Close()
	var okBody map[string]string
	if err := json.NewDecoder(onTime.Body).Decode(&okBody); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if okBody["message"] != "You don't have overdue!" {
		t.Fatalf("message = %q", okBody["message"])
	}

	already := doRequest(t, http.MethodPost, srv.URL+"/api/borrowings/409/return", "", staff)
	defer already.Body.Close()
	if already.StatusCode != http.StatusConflict {
		t.Fatalf("already returned status = %d, want %d", already.StatusCode, http.StatusConflict)
	}

	// Обычному пользователю возврат недоступен.
	regular := authCookie(t, auth, 2, false)
	forbidden := doRequest(t, http.MethodPost, srv.URL+"/api/borrowings/1/return", "", regular)
	defer forbidden.Body.Close()
	if forbidden.StatusCode != http.StatusForbidden {
		t.Fatalf("regular user status = %d, want %d", forbidden.StatusCode, http.StatusForbidden)
	}
}

func TestBookEndpoints(t *testing.T) {
	svc := &stubService{
		listBooksFn: func(_ context.Context) ([]model.Book, error) {
			return []model.Book{{ID: 1, Title: "CLRS", Author: "Cormen", Cover: model.BookCoverHard, Inventory: 3, DailyFeeCents: 250}}, nil
		},
		createBookFn: func(_ context.Context, b *model.Book) (int64, error) {
			return 2, nil
		},
	}
	srv, auth := newTestServer(t, svc)

	// Каталог читается без аутентификации.
	list := doRequest(t, http.MethodGet, srv.URL+"/api/books", "", nil)
	defer list.Body.Close()
	if list.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want %d", list.StatusCode, http.StatusOK)
	}
	var books []bookResponse
	if err := json.NewDecoder(list.Body).Decode(&books); err != nil {
		t.Fatalf("decode books: %v", err)
	}
	if len(books) != 1 || books[0].DailyFee != 2.5 {
		t.Fatalf("books = %+v", books)
	}

	// Добавление книги требует прав сотрудника.
	body := `{"title":"SICP","author":"Abelson","cover":"SOFT","inventory":1,"daily_fee":1.0}`
	noAuth := doRequest(t, http.MethodPost, srv.URL+"/api/books", body, nil)
	defer noAuth.Body.Close()
	if noAuth.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no auth status = %d, want %d", noAuth.StatusCode, http.StatusUnauthorized)
	}

	regular := doRequest(t, http.MethodPost, srv.URL+"/api/books", body, authCookie(t, auth, 2, false))
	defer regular.Body.Close()
	if regular.StatusCode != http.StatusForbidden {
		t.Fatalf("regular status = %d, want %d", regular.StatusCode, http.StatusForbidden)
	}

	staff := doRequest(t, http.MethodPost, srv.URL+"/api/books", body, authCookie(t, auth, 1, true))
	defer staff.Body.Close()
	if staff.StatusCode != http.StatusCreated {
		t.Fatalf("staff status = %d, want %d", staff.StatusCode, http.StatusCreated)
	}
}

func TestPaymentWebhook(t *testing.T) {
	svc := &stubService{
		reconcileFn: func(_ context.Context, sessionID string, paid bool) (*model.Payment, error) {
			if sessionID == "unknown" {
				return nil, repository.ErrPaymentNotFound
			}
			status := model.PayStatusPending
			if paid {
				status = model.PayStatusPaid
			}
			return &model.Payment{ID: 1, BorrowingID: 2, Status: status, Type: model.PaymentTypePayment,
				SessionID: sessionID, MoneyToPayCents: 450}, nil
		},
	}
	srv, _ := newTestServer(t, svc)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/payments/webhook",
		`{"session_id":"sess-1","paid":true}`, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != string(model.PayStatusPaid) || got.MoneyToPay != 4.5 {
		t.Fatalf("payment = %+v", got)
	}

	unknown := doRequest(t, http.MethodPost, srv.URL+"/api/payments/webhook",
		`{"session_id":"unknown","paid":true}`, nil)
	defer unknown.Body.Close()
	if unknown.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want %d", unknown.StatusCode, http.StatusNotFound)
	}

	empty := doRequest(t, http.MethodPost, srv.URL+"/api/payments/webhook", `{}`, nil)
	defer empty.Body.Close()
	if empty.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty session status = %d, want %d", empty.StatusCode, http.StatusBadRequest)
	}
}

func TestPaymentSuccess(t *testing.T) {
	svc := &stubService{
		confirmFn: func(_ context.Context, sessionID string) (*model.Payment, error) {
			if sessionID == "unpaid" {
				return nil, service.ErrSessionNotPaid
			}
			return &model.Payment{ID: 1, BorrowingID: 2, Status: model.PayStatusPaid,
				Type: model.PaymentTypePayment, SessionID: sessionID, MoneyToPayCents: 100}, nil
		},
	}
	srv, _ := newTestServer(t, svc)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/payments/success?session_id=sess-1", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	unpaid := doRequest(t, http.MethodGet, srv.URL+"/api/payments/success?session_id=unpaid", "", nil)
	defer unpaid.Body.Close()
	if unpaid.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("unpaid status = %d, want %d", unpaid.StatusCode, http.StatusPaymentRequired)
	}
}

func TestTelegramWebhook(t *testing.T) {
	svc := &stubService{}
	srv, _ := newTestServer(t, svc)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/telegram/webhook",
		`{"update_id":1,"message":{"message_id":2,"chat":{"id":777},"text":"/start"}}`, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if len(svc.telegramUpdates) != 1 {
		t.Fatalf("updates = %d, want 1", len(svc.telegramUpdates))
	}
	if svc.telegramUpdates[0].Message.Chat.ID != 777 {
		t.Fatalf("chat id = %d, want 777", svc.telegramUpdates[0].Message.Chat.ID)
	}
}
