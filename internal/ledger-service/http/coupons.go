package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/bet-ledger/internal/ledger-service/dto"
	"github.com/radieske/bet-ledger/internal/ledger/analytics"
	"github.com/radieske/bet-ledger/internal/ledger/model"
	"github.com/radieske/bet-ledger/internal/ledger/query"
	"github.com/radieske/bet-ledger/internal/ledger/repo"
	"github.com/radieske/bet-ledger/pkg/contracts/events"
)

func betFromRequest(b dto.BetRequest) (repo.NewBet, error) {
	odds, err := parseAmount(b.Odds)
	if err != nil {
		return repo.NewBet{}, err
	}
	return repo.NewBet{
		EventID:      b.EventID,
		EventName:    strings.TrimSpace(b.EventName),
		HomeTeam:     b.HomeTeam,
		AwayTeam:     b.AwayTeam,
		StartTime:    b.StartTime,
		DisciplineID: b.DisciplineID,
		BetTypeID:    b.BetTypeID,
		Line:         b.Line,
		Odds:         odds,
	}, nil
}

func (s *Server) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateCouponRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	stake, err := parseAmount(req.Stake)
	if err != nil {
		s.writeError(w, err)
		return
	}
	userID := s.userID(r)
	if err := s.users.Ensure(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	in := repo.NewCoupon{
		UserID:     userID,
		AccountID:  req.AccountID,
		StrategyID: req.StrategyID,
		CouponType: req.CouponType,
		Stake:      stake,
	}
	for _, b := range req.Bets {
		nb, err := betFromRequest(b)
		if err != nil {
			s.writeError(w, err)
			return
		}
		in.Bets = append(in.Bets, nb)
	}
	c, err := s.coupons.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// scalarsFromQuery lê os filtros escalares da query string
func (s *Server) scalarsFromQuery(r *http.Request) (query.Scalars, error) {
	var sc query.Scalars
	q := r.URL.Query()

	if raw := q.Get("date_from"); raw != "" {
		t, err := parseDate(raw, s.loc)
		if err != nil {
			return sc, err
		}
		sc.DateFrom = &t
	}
	if raw := q.Get("date_to"); raw != "" {
		t, err := parseDate(raw, s.loc)
		if err != nil {
			return sc, err
		}
		sc.DateTo = &t
	}
	if raw := q.Get("bookmaker_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return sc, errors.Join(model.ErrInvalid, errors.New("invalid bookmaker_id"))
		}
		sc.BookmakerID = &id
	}
	if raw := q.Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			sc.Statuses = append(sc.Statuses, strings.ToUpper(strings.TrimSpace(st)))
		}
	}
	sc.CouponType = q.Get("coupon_type")
	sc.SortBy = q.Get("sort_by")
	return sc, nil
}

// resolveScope carrega o filtro salvo de ?query_id quando presente
func (s *Server) resolveScope(r *http.Request) (*model.AnalyticsQuery, error) {
	raw := r.URL.Query().Get("query_id")
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.Join(model.ErrInvalid, errors.New("invalid query_id"))
	}
	return s.queries.Get(r.Context(), s.userID(r), id)
}

func (s *Server) listCoupons(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scalarsFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	scope, err := s.resolveScope(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	compiled, err := query.Compile(scope, sc, 2)
	if err != nil {
		s.writeError(w, err)
		return
	}
	withBets := r.URL.Query().Get("with_bets") == "true"
	out, err := s.coupons.List(r.Context(), s.userID(r), compiled, withBets)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.CouponListResponse{Coupons: out, Count: len(out)})
}

func (s *Server) getCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.coupons.Get(r.Context(), s.userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.coupons.Delete(r.Context(), s.userID(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) copyCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.coupons.Copy(r.Context(), s.userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) addBet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req dto.BetRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	nb, err := betFromRequest(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.coupons.AddBet(r.Context(), s.userID(r), id, nb)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateBet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	betID, err := pathID(r, "betID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req dto.UpdateBetRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	odds, err := parseAmount(req.Odds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.coupons.UpdateBet(r.Context(), s.userID(r), id, betID, req.Line, odds, req.Result)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteBet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	betID, err := pathID(r, "betID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.coupons.DeleteBet(r.Context(), s.userID(r), id, betID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// publishSettled emite coupon_settled quando a liquidação atingiu um
// status terminal nesta chamada; falha de publicação não desfaz a
// liquidação, só é registrada
func (s *Server) publishSettled(r *http.Request, res *repo.SettleResult) {
	if s.publish == nil || !res.Transitioned {
		return
	}
	c := res.Coupon
	ev := events.CouponSettled{
		CouponID:   c.ID,
		UserID:     c.UserID,
		AccountID:  c.AccountID,
		Status:     c.Status,
		Balance:    c.Balance.String(),
		Stake:      c.Stake.String(),
		Multiplier: c.Multiplier.String(),
		SettledAt:  time.Now(),
	}
	if err := s.publish(r.Context(), ev); err != nil {
		s.log.Warn("publish coupon_settled failed",
			zap.Int64("coupon_id", c.ID), zap.Error(err))
	}
}

func (s *Server) settleCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req dto.SettleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	updates := make(map[int64]string, len(req.Results))
	for _, u := range req.Results {
		updates[u.BetID] = strings.ToUpper(u.Result)
	}
	res, err := s.coupons.Settle(r.Context(), s.userID(r), id, updates)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.publishSettled(r, res)
	writeJSON(w, http.StatusOK, res.Coupon)
}

func (s *Server) forceWinCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.coupons.ForceWin(r.Context(), s.userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.publishSettled(r, res)
	writeJSON(w, http.StatusOK, res.Coupon)
}

func (s *Server) recalcCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.coupons.Recalc(r.Context(), s.userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ---- filtros salvos ----

func (s *Server) createFilter(w http.ResponseWriter, r *http.Request) {
	var q model.AnalyticsQuery
	if err := decodeBody(r, &q); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(q.Name) == "" {
		s.writeError(w, errors.Join(model.ErrInvalid, errors.New("name required")))
		return
	}
	q.UserID = s.userID(r)
	if err := s.users.Ensure(r.Context(), q.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	// Valida a árvore compilando antes de salvar
	if _, err := query.Compile(&q, query.Scalars{}, 1); err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.queries.Create(r.Context(), &q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) listFilters(w http.ResponseWriter, r *http.Request) {
	out, err := s.queries.List(r.Context(), s.userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getFilter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.queries.Get(r.Context(), s.userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateFilter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var q model.AnalyticsQuery
	if err := decodeBody(r, &q); err != nil {
		s.writeError(w, err)
		return
	}
	q.ID = id
	q.UserID = s.userID(r)
	if _, err := query.Compile(&q, query.Scalars{}, 1); err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.queries.Update(r.Context(), &q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteFilter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.queries.Delete(r.Context(), s.userID(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// previewFilter roda um filtro ainda não salvo e devolve os cupons
func (s *Server) previewFilter(w http.ResponseWriter, r *http.Request) {
	var q model.AnalyticsQuery
	if err := decodeBody(r, &q); err != nil {
		s.writeError(w, err)
		return
	}
	compiled, err := query.Compile(&q, query.Scalars{SortBy: q.SortBy}, 2)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.coupons.List(r.Context(), s.userID(r), compiled, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.CouponListResponse{Coupons: out, Count: len(out)})
}

// ---- métricas ----

func (s *Server) metricsForFilter(w http.ResponseWriter, r *http.Request) {
	var q model.AnalyticsQuery
	if err := decodeBody(r, &q); err != nil {
		s.writeError(w, err)
		return
	}
	compiled, err := query.Compile(&q, query.Scalars{}, 2)
	if err != nil {
		s.writeError(w, err)
		return
	}
	coupons, err := s.coupons.List(r.Context(), s.userID(r), compiled, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.MetricsResponse{
		Metrics: analytics.Compute(coupons),
		Count:   len(coupons),
	})
}

func (s *Server) metricsForScalars(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scalarsFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	scope, err := s.resolveScope(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	compiled, err := query.Compile(scope, sc, 2)
	if err != nil {
		s.writeError(w, err)
		return
	}
	coupons, err := s.coupons.List(r.Context(), s.userID(r), compiled, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.MetricsResponse{
		Metrics: analytics.Compute(coupons),
		Count:   len(coupons),
	})
}

// ---- alertas ----

func ruleFromRequest(req dto.AlertRuleRequest, userID int64) (*model.AlertRule, error) {
	threshold, err := parseAmount(req.Threshold)
	if err != nil {
		return nil, err
	}
	rule := &model.AlertRule{
		UserID:          userID,
		RuleType:        strings.ToLower(req.RuleType),
		Metric:          strings.ToLower(req.Metric),
		Comparator:      strings.ToLower(req.Comparator),
		Threshold:       threshold,
		WindowDays:      req.WindowDays,
		QueryID:         req.QueryID,
		MessageTemplate: req.MessageTemplate,
		IsActive:        true,
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	return rule, nil
}

func (s *Server) createAlertRule(w http.ResponseWriter, r *http.Request) {
	var req dto.AlertRuleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	userID := s.userID(r)
	if err := s.users.Ensure(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	rule, err := ruleFromRequest(req, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.alerts.CreateRule(r.Context(), rule); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) listAlertRules(w http.ResponseWriter, r *http.Request) {
	onlyActive := r.URL.Query().Get("active") == "true"
	out, err := s.alerts.ListRules(r.Context(), s.userID(r), onlyActive)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getAlertRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	rule, err := s.alerts.GetRule(r.Context(), s.userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) updateAlertRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req dto.AlertRuleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	rule, err := ruleFromRequest(req, s.userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	rule.ID = id
	if err := s.alerts.UpdateRule(r.Context(), rule); err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.alerts.GetRule(r.Context(), s.userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteAlertRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.alerts.DeleteRule(r.Context(), s.userID(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listAlertEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	out, err := s.alerts.ListEvents(r.Context(), s.userID(r), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// evaluateAlerts roda o avaliador imediatamente para o usuário; os
// eventos disparados seguem o fluxo normal de entrega do worker
func (s *Server) evaluateAlerts(w http.ResponseWriter, r *http.Request) {
	if err := s.evaluator.EvaluateUser(r.Context(), time.Now(), s.userID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ---- relatórios ----

func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	var req dto.ReportRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	userID := s.userID(r)
	if err := s.users.Ensure(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	rep := &model.Report{
		UserID:    userID,
		QueryID:   req.QueryID,
		Frequency: strings.ToUpper(req.Frequency),
		Channels:  req.Channels,
	}
	if req.NextRun != nil {
		rep.NextRun = *req.NextRun
	} else {
		rep.NextRun = time.Now()
	}
	if err := s.reports.Create(r.Context(), rep); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	out, err := s.reports.List(r.Context(), s.userID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.reports.Get(r.Context(), s.userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	current, err := s.reports.Get(r.Context(), s.userID(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req dto.ReportRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Frequency != "" {
		current.Frequency = strings.ToUpper(req.Frequency)
	}
	if req.QueryID != nil {
		current.QueryID = req.QueryID
	}
	if len(req.Channels) > 0 {
		current.Channels = req.Channels
	}
	if req.NextRun != nil {
		current.NextRun = *req.NextRun
	}
	if req.IsActive != nil {
		current.IsActive = *req.IsActive
	}
	if err := s.reports.Update(r.Context(), current); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) deleteReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.reports.Delete(r.Context(), s.userID(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendReportNow antecipa o next_run; o worker entrega na próxima rodada
func (s *Server) sendReportNow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.reports.MarkDue(r.Context(), s.userID(r), id, time.Now()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
