package handler

import (
	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/library-system/internal/middleware"
)

// SetupRouter собирает маршруты API библиотечного сервиса.
func (h *Handler) SetupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.GzipMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		// Каталог доступен на чтение без аутентификации.
		r.Get("/books", h.GetBooks)
		r.Get("/books/{id}", h.GetBook)

		// Колбэки платёжной системы и Telegram приходят без cookie.
		r.Post("/payments/webhook", h.PaymentWebhook)
		r.Get("/payments/success", h.PaymentSuccess)
		r.Get("/payments/cancel", h.PaymentCancel)
		r.Post("/telegram/webhook", h.TelegramWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/borrowings", h.CreateBorrowing)
			r.Get("/borrowings", h.GetBorrowings)
			r.Get("/borrowings/{id}", h.GetBorrowing)

			r.Get("/payments", h.GetPayments)
			r.Get("/payments/{id}", h.GetPayment)
			r.Post("/payments/checkout", h.CreateCheckout)

			// Операции сотрудников библиотеки.
			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.RequireStaff)

				r.Post("/books", h.CreateBook)
				r.Put("/books/{id}", h.UpdateBook)
				r.Delete("/books/{id}", h.DeleteBook)
				r.Post("/borrowings/{id}/return", h.ReturnBorrowing)
			})
		})
	})

	return r
}
