// Pacote http expõe a API REST do ledger: contas, cupons, filtros,
// métricas, alertas, relatórios e preferências.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/bet-ledger/internal/ledger-service/dto"
	alertseval "github.com/radieske/bet-ledger/internal/ledger/alerts"
	"github.com/radieske/bet-ledger/internal/ledger/model"
	"github.com/radieske/bet-ledger/internal/ledger/money"
	"github.com/radieske/bet-ledger/internal/ledger/repo"
	"github.com/radieske/bet-ledger/pkg/contracts/events"
)

// Server concentra os handlers; cada repositório cobre um agregado
type Server struct {
	log       *zap.Logger
	accounts  *repo.Accounts
	coupons   *repo.Coupons
	queries   *repo.Queries
	alerts    *repo.Alerts
	reports   *repo.Reports
	users     *repo.Users
	dict      *repo.Dictionaries
	evaluator *alertseval.Evaluator
	loc       *time.Location

	// publish entrega o evento coupon_settled no Kafka; nil desliga
	publish func(ctx context.Context, ev events.CouponSettled) error
}

func NewServer(
	log *zap.Logger,
	accounts *repo.Accounts,
	coupons *repo.Coupons,
	queries *repo.Queries,
	alerts *repo.Alerts,
	reports *repo.Reports,
	users *repo.Users,
	dict *repo.Dictionaries,
	evaluator *alertseval.Evaluator,
	loc *time.Location,
	publish func(ctx context.Context, ev events.CouponSettled) error,
) *Server {
	if loc == nil {
		loc = time.UTC
	}
	return &Server{
		log: log, accounts: accounts, coupons: coupons, queries: queries,
		alerts: alerts, reports: reports, users: users, dict: dict,
		evaluator: evaluator, loc: loc, publish: publish,
	}
}

// Router monta as rotas da API v1
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-ID"},
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/bookmakers", s.listBookmakers)
		r.Get("/currencies", s.listCurrencies)
		r.Get("/disciplines", s.listDisciplines)
		r.Get("/bet-types", s.listBetTypes)

		r.Get("/strategies", s.listStrategies)
		r.Post("/strategies", s.createStrategy)
		r.Delete("/strategies/{id}", s.deleteStrategy)

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", s.createAccount)
			r.Get("/", s.listAccounts)
			r.Get("/{id}", s.getAccount)
			r.Patch("/{id}", s.updateAccount)
			r.Delete("/{id}", s.deleteAccount)
			r.Post("/{id}/transactions", s.createTransaction)
			r.Get("/{id}/transactions", s.listTransactions)
		})
		r.Put("/transactions/{id}", s.updateTransaction)
		r.Delete("/transactions/{id}", s.deleteTransaction)
		r.Get("/transactions/summary", s.transactionSummary)

		r.Route("/coupons", func(r chi.Router) {
			r.Post("/", s.createCoupon)
			r.Get("/", s.listCoupons)
			r.Get("/{id}", s.getCoupon)
			r.Delete("/{id}", s.deleteCoupon)
			r.Post("/{id}/bets", s.addBet)
			r.Put("/{id}/bets/{betID}", s.updateBet)
			r.Delete("/{id}/bets/{betID}", s.deleteBet)
			r.Post("/{id}/settle", s.settleCoupon)
			r.Post("/{id}/force-win", s.forceWinCoupon)
			r.Post("/{id}/recalc", s.recalcCoupon)
			r.Post("/{id}/copy", s.copyCoupon)
		})

		r.Route("/filters", func(r chi.Router) {
			r.Post("/", s.createFilter)
			r.Get("/", s.listFilters)
			r.Get("/{id}", s.getFilter)
			r.Put("/{id}", s.updateFilter)
			r.Delete("/{id}", s.deleteFilter)
			r.Post("/preview", s.previewFilter)
		})

		r.Post("/analytics/metrics", s.metricsForFilter)
		r.Get("/analytics/metrics", s.metricsForScalars)

		r.Route("/alerts", func(r chi.Router) {
			r.Post("/rules", s.createAlertRule)
			r.Get("/rules", s.listAlertRules)
			r.Get("/rules/{id}", s.getAlertRule)
			r.Put("/rules/{id}", s.updateAlertRule)
			r.Delete("/rules/{id}", s.deleteAlertRule)
			r.Get("/events", s.listAlertEvents)
			r.Post("/evaluate", s.evaluateAlerts)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Post("/", s.createReport)
			r.Get("/", s.listReports)
			r.Get("/{id}", s.getReport)
			r.Put("/{id}", s.updateReport)
			r.Delete("/{id}", s.deleteReport)
			r.Post("/{id}/send", s.sendReportNow)
		})

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.updateSettings)
		r.Put("/settings/binding", s.setBinding)
		r.Delete("/settings/binding", s.deleteBinding)
		r.Get("/budget", s.budget)
	})
	return r
}

// userID resolve o dono da requisição; sem autenticação na frente, o
// cabeçalho X-User-ID identifica o usuário (default 1, uso pessoal)
func (s *Server) userID(r *http.Request) int64 {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 1
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 1
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError traduz os erros sentinela do domínio para status HTTP
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, model.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, model.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("internal error", zap.Error(err))
		writeJSON(w, status, dto.ErrorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, dto.ErrorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(model.ErrInvalid, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Join(model.ErrInvalid, errors.New("invalid "+name))
	}
	return id, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := money.FromString(raw)
	if err != nil {
		return decimal.Decimal{}, errors.Join(model.ErrInvalid, err)
	}
	return d, nil
}

// ---- dicionários ----

func (s *Server) listBookmakers(w http.ResponseWriter, r *http.Request) {
	out, err := s.dict.ListBookmakers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listCurrencies(w http.ResponseWriter, r *http.Request) {
	out, err := s.dict.ListCurrencies(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listDisciplines(w http.ResponseWriter, r *http.Request) {
	out, err := s.dict.ListDisciplines(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listBetTypes(w http.ResponseWriter, r *http.Request) {
	var disciplineID int64
	if raw := r.URL.Query().Get("discipline_id"); raw != "" {
		disciplineID, _ = strconv.ParseInt(raw, 10, 64)
	}
	out, err := s.dict.ListBetTypes(r.Context(), disciplineID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- estratégias ----

func (s *Server) listStrategies(w http.ResponseWriter, r *http.Request) {
	out, err := s.dict.ListStrategies(r.Context(), s.userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createStrategy(w http.ResponseWriter, r *http.Request) {
	var req dto.StrategyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, errors.Join(model.ErrInvalid, errors.New("name required")))
		return
	}
	st, err := s.dict.CreateStrategy(r.Context(), s.userID(r), strings.TrimSpace(req.Name))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) deleteStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.dict.DeleteStrategy(r.Context(), s.userID(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- contas ----

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateAccountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	userID := s.userID(r)
	if err := s.users.Ensure(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	acc := &model.BookmakerAccount{
		UserID:      userID,
		BookmakerID: req.BookmakerID,
		CurrencyID:  req.CurrencyID,
		Alias:       req.Alias,
	}
	if err := s.accounts.CreateAccount(r.Context(), acc); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	out, err := s.accounts.ListAccounts(r.Context(), s.userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	acc, err := s.accounts.GetAccount(r.Context(), s.userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req dto.UpdateAccountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	if err := s.accounts.UpdateAccount(r.Context(), s.userID(r), id, req.Alias, active); err != nil {
		s.writeError(w, err)
		return
	}
	acc, err := s.accounts.GetAccount(r.Context(), s.userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.accounts.DeleteAccount(r.Context(), s.userID(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- transações ----

func (s *Server) createTransaction(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req dto.TransactionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	tx := &model.Transaction{
		AccountID: accountID,
		UserID:    s.userID(r),
		Type:      req.Type,
		Amount:    amount,
	}
	if err := s.accounts.CreateTransaction(r.Context(), tx); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.accounts.ListTransactions(r.Context(), s.userID(r), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req dto.TransactionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.accounts.UpdateTransaction(r.Context(), s.userID(r), id, req.Type, amount); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.accounts.DeleteTransaction(r.Context(), s.userID(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) transactionSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDateRange(r, s.loc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	deposits, withdrawals, err := s.accounts.TransactionSummary(r.Context(), s.userID(r), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.TransactionSummaryResponse{
		Deposits:    deposits.StringFixed(2),
		Withdrawals: withdrawals.StringFixed(2),
		Net:         deposits.Sub(withdrawals).StringFixed(2),
	})
}

// parseDateRange lê from/to da query string; default: últimos 30 dias
func parseDateRange(r *http.Request, loc *time.Location) (time.Time, time.Time, error) {
	now := time.Now().In(loc)
	from := now.AddDate(0, 0, -30)
	to := now

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := parseDate(raw, loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := parseDate(raw, loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, errors.Join(model.ErrInvalid, errors.New("from after to"))
	}
	return from, to, nil
}

func parseDate(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t, nil
	}
	return time.Time{}, errors.Join(model.ErrInvalid, errors.New("invalid date "+raw))
}

// ---- preferências e orçamento ----

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	out, err := s.users.Settings(r.Context(), s.userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req dto.SettingsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	userID := s.userID(r)
	if err := s.users.Ensure(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	current, err := s.users.Settings(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.DateFormat != "" {
		current.DateFormat = req.DateFormat
	}
	if req.Language != "" {
		current.Language = req.Language
	}
	if req.MonthlyBudgetLimit != nil {
		if *req.MonthlyBudgetLimit == "" {
			current.MonthlyBudgetLimit = money.None()
		} else {
			limit, err := parseAmount(*req.MonthlyBudgetLimit)
			if err != nil {
				s.writeError(w, err)
				return
			}
			current.MonthlyBudgetLimit = money.Some(limit)
		}
	}
	if err := s.users.UpdateSettings(r.Context(), current); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) setBinding(w http.ResponseWriter, r *http.Request) {
	var req dto.BindingRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ChatID == 0 {
		s.writeError(w, errors.Join(model.ErrInvalid, errors.New("chat_id required")))
		return
	}
	userID := s.userID(r)
	if err := s.users.Ensure(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	b := &model.MessagingBinding{UserID: userID, ChatID: req.ChatID, Language: req.Language}
	if err := s.users.SetBinding(r.Context(), b); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteBinding(w http.ResponseWriter, r *http.Request) {
	if err := s.users.DeleteBinding(r.Context(), s.userID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) budget(w http.ResponseWriter, r *http.Request) {
	userID := s.userID(r)
	settings, err := s.users.Settings(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	local := time.Now().In(s.loc)
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.loc)
	spent, err := s.accounts.MonthlyDeposits(r.Context(), userID, monthStart)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := dto.BudgetResponse{
		Limit: settings.MonthlyBudgetLimit,
		Spent: spent.StringFixed(2),
	}
	if settings.MonthlyBudgetLimit.Valid {
		resp.Exceeded = spent.GreaterThan(settings.MonthlyBudgetLimit.Decimal)
	}
	writeJSON(w, http.StatusOK, resp)
}
