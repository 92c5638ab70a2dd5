package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
)

// Handler struct to encapsulate HTTP handling logic
type Handler struct {
	store     Store
	mirror    VoucherMirror         // nil when no document store is configured
	publisher NotificationPublisher // nil when no publisher is configured
	logger    *slog.Logger

	voucherThreshold decimal.Decimal
}

func NewHandler(store Store, mirror VoucherMirror, publisher NotificationPublisher, logger *slog.Logger, voucherThreshold decimal.Decimal) *Handler {
	return &Handler{
		store:            store,
		mirror:           mirror,
		publisher:        publisher,
		logger:           logger,
		voucherThreshold: voucherThreshold,
	}
}

func RegisterRouters(mux *chi.Mux, handler *Handler, allowedOrigins []string) {
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(handler.logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	mux.Use(middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}

	mux.Get("/healthz", handler.Health)

	mux.Route("/users", func(users chi.Router) {
		users.Post("/", handler.CreateUser)
		users.Get("/", handler.ListUsers)
		users.Route("/{id}", func(user chi.Router) {
			user.Get("/", handler.GetUser)
			user.Put("/", handler.UpdateUser)
			user.Post("/spendings", handler.CreateSpending)
			user.Get("/spendings", handler.ListSpendings)
			user.Post("/voucher", handler.IssueVoucher)
		})
	})

	mux.Get("/total_spent/{id}", handler.TotalSpent)
	mux.Get("/average_spending_by_age", handler.AverageSpendingByAge)
	mux.Get("/total_spending_by_age", handler.TotalSpendingByAge)
	mux.Get("/stats/age_brackets", handler.AgeBracketStats)
	mux.Post("/stats/notify", handler.NotifyStats)
	mux.Post("/write_to_mongodb", handler.WriteToMongo)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func userIDParam(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type userRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   *int   `json:"age"`
}

func (req userRequest) toUser() (User, error) {
	if req.Age == nil {
		return User{}, errors.New("age is required")
	}
	u := User{Name: strings.TrimSpace(req.Name), Email: strings.TrimSpace(req.Email), Age: *req.Age}
	if err := validateUser(u); err != nil {
		return User{}, err
	}
	return u, nil
}

type spendingRequest struct {
	MoneySpent decimal.Decimal `json:"money_spent"`
	Year       int             `json:"year"`
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	user, err := req.toUser()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.store.CreateUser(r.Context(), user)
	if err != nil {
		h.logger.Error("failed to create user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		h.storeError(w, err, "failed to get user", userID)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	user, err := req.toUser()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user.Id = userID

	updated, err := h.store.UpdateUser(r.Context(), user)
	if err != nil {
		h.storeError(w, err, "failed to update user", userID)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// CreateSpending records a spending and then runs the write-through side
// effects. Side-effect failures are logged; the spending stays committed.
func (h *Handler) CreateSpending(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req spendingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	spending := Spending{UserId: userID, MoneySpent: req.MoneySpent, Year: req.Year}
	if err := validateSpending(spending); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		h.storeError(w, err, "failed to get user", userID)
		return
	}

	created, err := h.store.CreateSpending(ctx, spending)
	if err != nil {
		h.storeError(w, err, "failed to create spending", userID)
		return
	}

	h.afterSpending(ctx, user, created)

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) afterSpending(ctx context.Context, user User, spending Spending) {
	total, err := h.store.GetTotalSpent(ctx, user.Id)
	if err != nil {
		h.logger.Error("error calculating total spent", "error", err, "user_id", user.Id)
		return
	}

	voucherIssued := false
	if h.mirror != nil && total.GreaterThan(h.voucherThreshold) {
		if _, err := h.mirror.UpsertVoucher(ctx, user.Id, total); err != nil {
			h.logger.Error("failed to mirror voucher", "error", err, "user_id", user.Id)
		} else {
			voucherIssued = true
		}
	}

	if h.publisher == nil {
		return
	}

	notification := Notification{
		Kind:          KindSpendingRecorded,
		UserID:        user.Id,
		UserName:      user.Name,
		Year:          spending.Year,
		Amount:        spending.MoneySpent,
		TotalSpent:    total,
		VoucherIssued: voucherIssued,
	}
	if b, ok := bracketFor(user.Age); ok {
		notification.AgeBracket = b.Name
	}
	if err := h.publisher.Publish(ctx, notification); err != nil {
		h.logger.Error("failed to publish notification", "error", err, "user_id", user.Id)
	}
}

func (h *Handler) ListSpendings(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	ctx := r.Context()
	if _, err := h.store.GetUser(ctx, userID); err != nil {
		h.storeError(w, err, "failed to get user", userID)
		return
	}

	spendings, err := h.store.ListSpendings(ctx, userID)
	if err != nil {
		h.storeError(w, err, "failed to list spendings", userID)
		return
	}

	writeJSON(w, http.StatusOK, spendings)
}

func (h *Handler) TotalSpent(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	total, err := h.store.GetTotalSpent(r.Context(), userID)
	if err != nil {
		h.storeError(w, err, "failed to calculate total spent", userID)
		return
	}

	writeJSON(w, http.StatusOK, UserTotal{UserId: userID, TotalSpent: total})
}

func (h *Handler) bracketStats(ctx context.Context) ([]BracketStats, error) {
	stats := make([]BracketStats, 0, len(ageBrackets))
	for _, b := range ageBrackets {
		s, err := h.store.GetBracketStats(ctx, b)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

func (h *Handler) AverageSpendingByAge(w http.ResponseWriter, r *http.Request) {
	stats, err := h.bracketStats(r.Context())
	if err != nil {
		h.logger.Error("failed to aggregate spending by age", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to aggregate spending by age")
		return
	}

	averages := make(map[string]decimal.Decimal, len(stats))
	for _, s := range stats {
		averages[s.Bracket] = s.AverageSpent
	}
	writeJSON(w, http.StatusOK, averages)
}

func (h *Handler) TotalSpendingByAge(w http.ResponseWriter, r *http.Request) {
	stats, err := h.bracketStats(r.Context())
	if err != nil {
		h.logger.Error("failed to aggregate spending by age", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to aggregate spending by age")
		return
	}

	totals := make(map[string]decimal.Decimal, len(stats))
	for _, s := range stats {
		totals[s.Bracket] = s.TotalSpent
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *Handler) AgeBracketStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.bracketStats(r.Context())
	if err != nil {
		h.logger.Error("failed to aggregate spending by age", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to aggregate spending by age")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// NotifyStats forwards the age bracket summary to the chat endpoint.
func (h *Handler) NotifyStats(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "no notification publisher configured")
		return
	}

	ctx := r.Context()
	stats, err := h.bracketStats(ctx)
	if err != nil {
		h.logger.Error("failed to aggregate spending by age", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to aggregate spending by age")
		return
	}

	total := decimal.Zero
	for _, s := range stats {
		total = total.Add(s.TotalSpent)
	}

	notification := Notification{
		Kind:       KindAgeBracketSummary,
		TotalSpent: total,
		Brackets:   stats,
	}
	if err := h.publisher.Publish(ctx, notification); err != nil {
		h.logger.Error("failed to publish stats", "error", err)
		writeError(w, http.StatusBadGateway, "failed to deliver notification")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// WriteToMongo stores the posted document in the voucher collection as-is.
func (h *Handler) WriteToMongo(w http.ResponseWriter, r *http.Request) {
	if h.mirror == nil {
		writeError(w, http.StatusServiceUnavailable, "document store not configured")
		return
	}

	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	_, hasUser := doc["user_id"]
	_, hasTotal := doc["total_spent"]
	if !hasUser || !hasTotal {
		writeError(w, http.StatusBadRequest, "incomplete data")
		return
	}

	if err := h.mirror.InsertRaw(r.Context(), doc); err != nil {
		h.logger.Error("failed to write document", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to write document")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "successfully added to document store"})
}

// IssueVoucher mirrors the user into the document store when their total
// spend is above the voucher threshold.
func (h *Handler) IssueVoucher(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if h.mirror == nil {
		writeError(w, http.StatusServiceUnavailable, "document store not configured")
		return
	}

	ctx := r.Context()
	total, err := h.store.GetTotalSpent(ctx, userID)
	if err != nil {
		h.storeError(w, err, "failed to calculate total spent", userID)
		return
	}

	if !total.GreaterThan(h.voucherThreshold) {
		writeError(w, http.StatusUnprocessableEntity, "user does not qualify for a voucher")
		return
	}

	voucher, err := h.mirror.UpsertVoucher(ctx, userID, total)
	if err != nil {
		h.logger.Error("failed to mirror voucher", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to issue voucher")
		return
	}

	writeJSON(w, http.StatusCreated, voucher)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	payload := map[string]string{"status": "ok"}

	probe := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			h.logger.Error("health probe failed", "component", name, "error", err)
			status = http.StatusServiceUnavailable
			payload["status"] = "degraded"
			payload[name] = err.Error()
		}
	}

	probe("store", h.store.Ping)
	if h.mirror != nil {
		probe("mirror", h.mirror.Ping)
	}

	writeJSON(w, status, payload)
}

func (h *Handler) storeError(w http.ResponseWriter, err error, msg string, userID int) {
	if errors.Is(err, ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	h.logger.Error(msg, "error", err, "user_id", userID)
	writeError(w, http.StatusInternalServerError, msg)
}
