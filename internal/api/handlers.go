package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/campaignledger/internal/apperr"
	"github.com/punchamoorthee/campaignledger/internal/domain"
	"github.com/punchamoorthee/campaignledger/internal/service"
	"github.com/punchamoorthee/campaignledger/internal/store"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// campaignAddress reads the {address} route variable.
func campaignAddress(r *http.Request) (domain.Address, error) {
	return parseAddress("campaign address", mux.Vars(r)["address"])
}

// actor reads the caller identity. A missing header yields the zero
// address, which no role check accepts.
func actor(r *http.Request) (domain.Address, error) {
	raw := strings.TrimSpace(r.Header.Get(actorHeader))
	if raw == "" {
		return "", nil
	}
	return parseAddress(actorHeader, raw)
}

func (h *Handler) CreateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	cmd, err := req.command()
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}

	c, err := h.svc.Create(r.Context(), cmd)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/campaigns/"+c.Address.String())
	respondWithJSON(w, http.StatusCreated, toCampaignResponse(c, h.svc.Now()))
}

func (h *Handler) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	address, err := campaignAddress(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	c, err := h.svc.Get(r.Context(), address)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toCampaignResponse(c, h.svc.Now()))
}

// parseFilter reads factory, network, creator, status, limit and offset.
// status may repeat or be comma separated, as labels or integer codes.
func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var (
		f   store.Filter
		err error
	)
	if v := q.Get("factory"); v != "" {
		if f.Factory, err = parseAddress("factory", v); err != nil {
			return f, err
		}
	}
	if v := q.Get("creator"); v != "" {
		if f.Creator, err = parseAddress("creator", v); err != nil {
			return f, err
		}
	}
	f.Network = strings.ToLower(strings.TrimSpace(q.Get("network")))

	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, err := parseStatus(part)
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, status)
		}
	}

	if f.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func parseStatus(value string) (domain.Status, error) {
	if code, err := strconv.Atoi(value); err == nil {
		status, err := domain.StatusFromCode(code)
		if err != nil {
			return 0, apperr.Wrap(apperr.CodeValidation, err, "unknown status code")
		}
		return status, nil
	}
	status, err := domain.ParseStatus(value)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeValidation, err, "unknown status")
	}
	return status, nil
}

func intParam(value, name string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, apperr.Newf(apperr.CodeValidation, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func (h *Handler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	campaigns, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	now := h.svc.Now()
	out := make([]campaignResponse, 0, len(campaigns))
	for _, c := range campaigns {
		out = append(out, toCampaignResponse(c, now))
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	stats, err := h.svc.Stats(r.Context(), filter)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toStatsResponse(stats))
}

func (h *Handler) ListContributionsHandler(w http.ResponseWriter, r *http.Request) {
	address, err := campaignAddress(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	log, err := h.svc.Contributions(r.Context(), address)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	out := make([]contributionResponse, 0, len(log))
	for _, c := range log {
		out = append(out, toContributionResponse(c))
	}
	respondWithJSON(w, http.StatusOK, out)
}

// ContributeHandler records a confirmed contribution. The Idempotency-Key
// header is the ledger transaction reference; a replay answers 409.
func (h *Handler) ContributeHandler(w http.ResponseWriter, r *http.Request) {
	txRef := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if txRef == "" {
		h.respondWithError(r.Context(), w, apperr.New(apperr.CodeValidation, "missing Idempotency-Key header"))
		return
	}
	address, err := campaignAddress(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	var req contributeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	cmd, err := req.command(address, txRef)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}

	c, contribution, err := h.svc.RecordContribution(r.Context(), cmd)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, contributeResponse{
		Campaign:     toCampaignResponse(c, h.svc.Now()),
		Contribution: toContributionResponse(*contribution),
	})
}

func (h *Handler) TransitionHandler(w http.ResponseWriter, r *http.Request) {
	address, err := campaignAddress(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	caller, err := actor(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	c, err := h.svc.Transition(r.Context(), mux.Vars(r)["event"], address, caller)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toCampaignResponse(c, h.svc.Now()))
}

func (h *Handler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	address, err := campaignAddress(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	caller, err := actor(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	payout, err := h.svc.Withdraw(r.Context(), address, caller)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, withdrawResponse{
		Campaign: toCampaignResponse(payout.Campaign, h.svc.Now()),
		Payout:   amounts(payout.Amounts),
	})
}

func (h *Handler) TransferCreatorHandler(w http.ResponseWriter, r *http.Request) {
	address, err := campaignAddress(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	caller, err := actor(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	var req transferCreatorRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	newCreator, err := parseAddress("new_creator", req.NewCreator)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	c, err := h.svc.TransferCreator(r.Context(), address, caller, newCreator)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toCampaignResponse(c, h.svc.Now()))
}

// BalancesHandler compares the engine's balances with the ledger's
// confirmed balances.
func (h *Handler) BalancesHandler(w http.ResponseWriter, r *http.Request) {
	address, err := campaignAddress(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	checks, err := h.svc.VerifyBalances(r.Context(), address)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toBalanceChecks(checks))
}

// RevenueHandler accepts the list filters plus period=year|month|week.
func (h *Handler) RevenueHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	period, err := service.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	series, err := h.svc.Revenue(r.Context(), filter, period)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toRevenueSeries(series))
}

// LedgerFeedHandler appends a confirmed contribution to the ledger event
// log. The engine applies it on the next reconcile, not here.
func (h *Handler) LedgerFeedHandler(w http.ResponseWriter, r *http.Request) {
	address, err := campaignAddress(r)
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	var req contributeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	cmd, err := req.command(address, "")
	if err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}
	if cmd.Amount.IsZero() {
		h.respondWithError(r.Context(), w, apperr.New(apperr.CodeInvalidAmount, "amount must be positive"))
		return
	}
	if _, err := h.svc.Get(r.Context(), address); err != nil {
		h.respondWithError(r.Context(), w, err)
		return
	}

	txRef, err := h.feed.SubmitContribution(r.Context(), address, cmd.Contributor, cmd.Asset, cmd.Amount)
	if err != nil {
		h.respondWithError(r.Context(), w, apperr.Wrap(apperr.CodeDependency, err, "ledger rejected contribution"))
		return
	}
	respondWithJSON(w, http.StatusAccepted, ledgerFeedResponse{TxRef: txRef})
}
