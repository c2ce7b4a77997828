// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/library-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrBookNotFound возвращается, если книга не найдена.
	ErrBookNotFound = errors.New("book not found")
	// ErrOutOfStock возвращается, если свободных экземпляров книги не осталось.
	ErrOutOfStock = errors.New("book out of stock")
	// ErrBookBorrowed возвращается при попытке удалить книгу, на которую ссылаются выдачи.
	ErrBookBorrowed = errors.New("book has borrowings")
	// ErrBorrowingNotFound возвращается, если выдача не найдена.
	ErrBorrowingNotFound = errors.New("borrowing not found")
	// ErrAlreadyReturned возвращается при повторной попытке вернуть книгу.
	ErrAlreadyReturned = errors.New("borrowing already returned")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentExists возвращается, если по выдаче уже есть незакрытый платёж этого типа.
	ErrPaymentExists = errors.New("pending payment already exists")
	// ErrProfileNotFound возвращается, если профиль уведомлений не найден.
	ErrProfileNotFound = errors.New("notification profile not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		retryable := isConnectionError(err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				retryable = true
			}
		}
		if !retryable || i == len(delays) {
			break
		}

		// Ожидание между попытками прерывается отменой контекста.
		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, is_staff, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.IsStaff, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, is_staff, created_at FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.IsStaff, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	return &u, nil
}

// CreateBook добавляет книгу в каталог.
func (r *PostgresRepository) CreateBook(ctx context.Context, b *model.Book) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO books (title, author, cover, inventory, daily_fee)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		b.Title, b.Author, string(b.Cover), b.Inventory, b.DailyFeeCents,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create book: %w", err)
	}
	return id, nil
}

// GetBook возвращает книгу по идентификатору.
func (r *PostgresRepository) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, title, author, cover, inventory, daily_fee FROM books WHERE id = $1`,
		id,
	)

	var b model.Book
	var cover string
	err := row.Scan(&b.ID, &b.Title, &b.Author, &cover, &b.Inventory, &b.DailyFeeCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	b.Cover = model.BookCover(cover)

	return &b, nil
}

// ListBooks возвращает все книги каталога.
func (r *PostgresRepository) ListBooks(ctx context.Context) ([]model.Book, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, author, cover, inventory, daily_fee
		 FROM books
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		var b model.Book
		var cover string
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &cover, &b.Inventory, &b.DailyFeeCents); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		b.Cover = model.BookCover(cover)
		books = append(books, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return books, nil
}

// UpdateBook обновляет данные книги.
func (r *PostgresRepository) UpdateBook(ctx context.Context, b *model.Book) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE books SET title = $2, author = $3, cover = $4, inventory = $5, daily_fee = $6
		 WHERE id = $1`,
		b.ID, b.Title, b.Author, string(b.Cover), b.Inventory, b.DailyFeeCents,
	)
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrBookNotFound
	}
	return nil
}

// DeleteBook удаляет книгу. Книга с существующими выдачами удалена быть не может.
func (r *PostgresRepository) DeleteBook(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrBookBorrowed
		}
		return fmt.Errorf("delete book: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrBookNotFound
	}
	return nil
}

// CreateBorrowing резервирует экземпляр книги и создаёт выдачу в одной транзакции.
// Списание инвентаря выполняется одним условным UPDATE, поэтому два конкурентных
// запроса не могут забрать последний экземпляр одновременно.
func (r *PostgresRepository) CreateBorrowing(ctx context.Context, userID, bookID int64, expectedReturn time.Time) (*model.Borrowing, *model.Book, error) {
	var borrowing *model.Borrowing
	var book *model.Book

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var b model.Book
		var cover string
		err = tx.QueryRow(ctx,
			`UPDATE books SET inventory = inventory - 1
			 WHERE id = $1 AND inventory > 0
			 RETURNING id, title, author, cover, inventory, daily_fee`,
			bookID,
		).Scan(&b.ID, &b.Title, &b.Author, &cover, &b.Inventory, &b.DailyFeeCents)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				var exists bool
				if checkErr := tx.QueryRow(ctx,
					`SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, bookID,
				).Scan(&exists); checkErr != nil {
					return fmt.Errorf("check book: %w", checkErr)
				}
				if !exists {
					return ErrBookNotFound
				}
				return ErrOutOfStock
			}
			return fmt.Errorf("reserve book: %w", err)
		}
		b.Cover = model.BookCover(cover)

		var bw model.Borrowing
		err = tx.QueryRow(ctx,
			`INSERT INTO borrowings (user_id, book_id, expected_return_date)
			 VALUES ($1, $2, $3)
			 RETURNING id, user_id, book_id, borrow_date, expected_return_date, pay_status`,
			userID, bookID, expectedReturn,
		).Scan(&bw.ID, &bw.UserID, &bw.BookID, &bw.BorrowDate, &bw.ExpectedReturnDate, &bw.PayStatus)
		if err != nil {
			return fmt.Errorf("insert borrowing: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		borrowing = &bw
		book = &b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return borrowing, book, nil
}

// GetBorrowing возвращает выдачу по идентификатору.
func (r *PostgresRepository) GetBorrowing(ctx context.Context, id int64) (*model.Borrowing, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, book_id, borrow_date, expected_return_date, actual_return_date, pay_status
		 FROM borrowings
		 WHERE id = $1`,
		id,
	)

	var bw model.Borrowing
	err := row.Scan(&bw.ID, &bw.UserID, &bw.BookID, &bw.BorrowDate, &bw.ExpectedReturnDate, &bw.ActualReturnDate, &bw.PayStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBorrowingNotFound
		}
		return nil, fmt.Errorf("get borrowing: %w", err)
	}

	return &bw, nil
}

// BorrowingFilter задаёт условия выборки выдач.
type BorrowingFilter struct {
	UserID   *int64
	IsActive *bool
}

// ListBorrowings возвращает выдачи, подходящие под фильтр.
func (r *PostgresRepository) ListBorrowings(ctx context.Context, filter BorrowingFilter) ([]model.Borrowing, error) {
	query := `SELECT id, user_id, book_id, borrow_date, expected_return_date, actual_return_date, pay_status
	          FROM borrowings WHERE TRUE`
	args := []any{}

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.IsActive != nil {
		if *filter.IsActive {
			query += " AND actual_return_date IS NULL"
		} else {
			query += " AND actual_return_date IS NOT NULL"
		}
	}
	query += " ORDER BY borrow_date DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select borrowings: %w", err)
	}
	defer rows.Close()

	var res []model.Borrowing
	for rows.Next() {
		var bw model.Borrowing
		if err := rows.Scan(&bw.ID, &bw.UserID, &bw.BookID, &bw.BorrowDate, &bw.ExpectedReturnDate, &bw.ActualReturnDate, &bw.PayStatus); err != nil {
			return nil, fmt.Errorf("scan borrowing: %w", err)
		}
		res = append(res, bw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ReturnBorrowing фиксирует возврат книги и возвращает экземпляр в инвентарь.
// Дата возврата и пополнение инвентаря записываются в одной транзакции;
// повторный возврат отсекается условием actual_return_date IS NULL.
func (r *PostgresRepository) ReturnBorrowing(ctx context.Context, id int64, returnedAt time.Time) (*model.Borrowing, *model.Book, error) {
	var borrowing *model.Borrowing
	var book *model.Book

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var bw model.Borrowing
		err = tx.QueryRow(ctx,
			`UPDATE borrowings SET actual_return_date = $2
			 WHERE id = $1 AND actual_return_date IS NULL
			 RETURNING id, user_id, book_id, borrow_date, expected_return_date, actual_return_date, pay_status`,
			id, returnedAt,
		).Scan(&bw.ID, &bw.UserID, &bw.BookID, &bw.BorrowDate, &bw.ExpectedReturnDate, &bw.ActualReturnDate, &bw.PayStatus)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				var exists bool
				if checkErr := tx.QueryRow(ctx,
					`SELECT EXISTS (SELECT 1 FROM borrowings WHERE id = $1)`, id,
				).Scan(&exists); checkErr != nil {
					return fmt.Errorf("check borrowing: %w", checkErr)
				}
				if !exists {
					return ErrBorrowingNotFound
				}
				return ErrAlreadyReturned
			}
			return fmt.Errorf("set return date: %w", err)
		}

		var b model.Book
		var cover string
		err = tx.QueryRow(ctx,
			`UPDATE books SET inventory = inventory + 1
			 WHERE id = $1
			 RETURNING id, title, author, cover, inventory, daily_fee`,
			bw.BookID,
		).Scan(&b.ID, &b.Title, &b.Author, &cover, &b.Inventory, &b.DailyFeeCents)
		if err != nil {
			return fmt.Errorf("restock book: %w", err)
		}
		b.Cover = model.BookCover(cover)

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		borrowing = &bw
		book = &b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return borrowing, book, nil
}

// CreatePayment создаёт запись о платеже. Частичный уникальный индекс гарантирует
// не более одной незакрытой записи каждого типа на выдачу.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO payments (borrowing_id, type, session_id, session_url, money_to_pay)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.BorrowingID, string(p.Type), p.SessionID, p.SessionURL, p.MoneyToPayCents,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: borrowing %d", ErrPaymentExists, p.BorrowingID)
		}
		return 0, fmt.Errorf("insert payment: %w", err)
	}
	return id, nil
}

// GetPayment возвращает платёж по идентификатору.
func (r *PostgresRepository) GetPayment(ctx context.Context, id int64) (*model.Payment, error) {
	return r.scanPayment(r.pool.QueryRow(ctx,
		`SELECT id, borrowing_id, status, type, session_id, session_url, money_to_pay, created_at
		 FROM payments WHERE id = $1`,
		id,
	))
}

// GetPaymentBySession возвращает платёж по идентификатору платёжной сессии.
func (r *PostgresRepository) GetPaymentBySession(ctx context.Context, sessionID string) (*model.Payment, error) {
	return r.scanPayment(r.pool.QueryRow(ctx,
		`SELECT id, borrowing_id, status, type, session_id, session_url, money_to_pay, created_at
		 FROM payments WHERE session_id = $1`,
		sessionID,
	))
}

func (r *PostgresRepository) scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	var status, typ string
	err := row.Scan(&p.ID, &p.BorrowingID, &status, &typ, &p.SessionID, &p.SessionURL, &p.MoneyToPayCents, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.Status = model.PayStatus(status)
	p.Type = model.PaymentType(typ)
	return &p, nil
}

// ListPayments возвращает платежи. Если userID задан, выборка ограничивается
// платежами по выдачам этого пользователя.
func (r *PostgresRepository) ListPayments(ctx context.Context, userID *int64) ([]model.Payment, error) {
	query := `SELECT p.id, p.borrowing_id, p.status, p.type, p.session_id, p.session_url, p.money_to_pay, p.created_at
	          FROM payments p`
	args := []any{}

	if userID != nil {
		query += ` JOIN borrowings b ON b.id = p.borrowing_id WHERE b.user_id = $1`
		args = append(args, *userID)
	}
	query += " ORDER BY p.created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		var p model.Payment
		var status, typ string
		if err := rows.Scan(&p.ID, &p.BorrowingID, &status, &typ, &p.SessionID, &p.SessionURL, &p.MoneyToPayCents, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Status = model.PayStatus(status)
		p.Type = model.PaymentType(typ)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkPaymentPaid переводит платёж в статус PAID по идентификатору сессии.
// Переход выполняется только из статуса PENDING, поэтому повторная доставка
// вебхука — no-op: applied == false, ошибки нет.
func (r *PostgresRepository) MarkPaymentPaid(ctx context.Context, sessionID string) (*model.Payment, bool, error) {
	var payment *model.Payment
	applied := false

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var p model.Payment
		var status, typ string
		err = tx.QueryRow(ctx,
			`UPDATE payments SET status = 'PAID'
			 WHERE session_id = $1 AND status = 'PENDING'
			 RETURNING id, borrowing_id, status, type, session_id, session_url, money_to_pay, created_at`,
			sessionID,
		).Scan(&p.ID, &p.BorrowingID, &status, &typ, &p.SessionID, &p.SessionURL, &p.MoneyToPayCents, &p.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				existing, getErr := r.GetPaymentBySession(ctx, sessionID)
				if getErr != nil {
					return getErr
				}
				// Уже оплачен — повторный вызов ничего не меняет.
				payment = existing
				applied = false
				return nil
			}
			return fmt.Errorf("mark payment paid: %w", err)
		}
		p.Status = model.PayStatus(status)
		p.Type = model.PaymentType(typ)

		if p.Type == model.PaymentTypePayment {
			if _, err := tx.Exec(ctx,
				`UPDATE borrowings SET pay_status = 'PAID' WHERE id = $1`,
				p.BorrowingID,
			); err != nil {
				return fmt.Errorf("mark borrowing paid: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		payment = &p
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return payment, applied, nil
}

// CancelPayment удаляет незакрытый платёж по идентификатору сессии.
// Для штрафа отменяется и сам возврат: дата возврата сбрасывается, а экземпляр
// снова списывается из инвентаря, чтобы пополнение не было учтено дважды.
func (r *PostgresRepository) CancelPayment(ctx context.Context, sessionID string) (*model.Payment, bool, error) {
	var payment *model.Payment
	applied := false

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var p model.Payment
		var status, typ string
		err = tx.QueryRow(ctx,
			`DELETE FROM payments
			 WHERE session_id = $1 AND status = 'PENDING'
			 RETURNING id, borrowing_id, status, type, session_id, session_url, money_to_pay, created_at`,
			sessionID,
		).Scan(&p.ID, &p.BorrowingID, &status, &typ, &p.SessionID, &p.SessionURL, &p.MoneyToPayCents, &p.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				existing, getErr := r.GetPaymentBySession(ctx, sessionID)
				if getErr != nil {
					return getErr
				}
				// Платёж уже закрыт — отменять нечего.
				payment = existing
				applied = false
				return nil
			}
			return fmt.Errorf("cancel payment: %w", err)
		}
		p.Status = model.PayStatus(status)
		p.Type = model.PaymentType(typ)

		if p.Type == model.PaymentTypeFine {
			var bookID int64
			err = tx.QueryRow(ctx,
				`UPDATE borrowings SET actual_return_date = NULL
				 WHERE id = $1
				 RETURNING book_id`,
				p.BorrowingID,
			).Scan(&bookID)
			if err != nil {
				return fmt.Errorf("revert return date: %w", err)
			}

			// Экземпляр может быть уже выдан другому читателю; тогда списывать нечего.
			_, err = tx.Exec(ctx,
				`UPDATE books SET inventory = inventory - 1
				 WHERE id = $1 AND inventory > 0`,
				bookID,
			)
			if err != nil {
				return fmt.Errorf("re-reserve book: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		payment = &p
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return payment, applied, nil
}

// OverdueBorrowing описывает просроченную выдачу вместе с данными книги и читателя.
type OverdueBorrowing struct {
	BorrowingID        int64
	UserLogin          string
	BookTitle          string
	BookAuthor         string
	ExpectedReturnDate time.Time
	TelegramChatID     *int64
}

// GetOverdueBorrowings возвращает невозвращённые выдачи с истёкшим сроком,
// включая привязанный Telegram-чат, если профиль существует.
func (r *PostgresRepository) GetOverdueBorrowings(ctx context.Context, now time.Time) ([]OverdueBorrowing, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT bw.id, u.login, bk.title, bk.author, bw.expected_return_date, up.telegram_chat_id
		 FROM borrowings bw
		 JOIN users u ON u.id = bw.user_id
		 JOIN books bk ON bk.id = bw.book_id
		 LEFT JOIN user_profiles up ON up.email = u.login
		 WHERE bw.actual_return_date IS NULL AND bw.expected_return_date <= $1
		 ORDER BY bw.expected_return_date`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("select overdue borrowings: %w", err)
	}
	defer rows.Close()

	var res []OverdueBorrowing
	for rows.Next() {
		var o OverdueBorrowing
		if err := rows.Scan(&o.BorrowingID, &o.UserLogin, &o.BookTitle, &o.BookAuthor, &o.ExpectedReturnDate, &o.TelegramChatID); err != nil {
			return nil, fmt.Errorf("scan overdue borrowing: %w", err)
		}
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// LinkProfile привязывает Telegram-чат к email. Повторная привязка обновляет чат.
func (r *PostgresRepository) LinkProfile(ctx context.Context, email string, chatID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_profiles (email, telegram_chat_id) VALUES ($1, $2)
		 ON CONFLICT (email) DO UPDATE SET telegram_chat_id = EXCLUDED.telegram_chat_id`,
		email, chatID,
	)
	if err != nil {
		return fmt.Errorf("link profile: %w", err)
	}
	return nil
}

// GetChatIDByEmail возвращает идентификатор Telegram-чата, привязанного к email.
func (r *PostgresRepository) GetChatIDByEmail(ctx context.Context, email string) (int64, error) {
	var chatID *int64
	err := r.pool.QueryRow(ctx,
		`SELECT telegram_chat_id FROM user_profiles WHERE email = $1`,
		email,
	).Scan(&chatID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProfileNotFound
		}
		return 0, fmt.Errorf("get chat id: %w", err)
	}
	if chatID == nil {
		return 0, ErrProfileNotFound
	}
	return *chatID, nil
}
