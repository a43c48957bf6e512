package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"rentledger/agreement"
	"rentledger/auth"
	"rentledger/commission"
	"rentledger/dispute"
	"rentledger/escrow"
)

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	account, err := s.svc.Auth.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"request_id": requestIDFrom(r.Context()),
		"account": map[string]any{
			"address":      account.Address,
			"display_name": account.DisplayName,
			"role":         account.Role,
			"created_at":   account.CreatedAt,
		},
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	res, err := s.svc.Auth.Login(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestIDFrom(r.Context()),
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
		"role":       res.Account.Role,
	})
}

type createAgreementRequest struct {
	AgreementID     string    `json:"agreement_id"`
	Landlord        string    `json:"landlord"`
	Agent           *string   `json:"agent"`
	MonthlyRent     int64     `json:"monthly_rent"`
	SecurityDeposit int64     `json:"security_deposit"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	CommissionRate  uint32    `json:"agent_commission_rate"`
	PaymentToken    string    `json:"payment_token"`
}

func (s *Server) createAgreement(w http.ResponseWriter, r *http.Request) {
	var req createAgreementRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if req.AgreementID == "" || req.Landlord == "" || req.PaymentToken == "" {
		badRequest(w, r, "agreement_id, landlord and payment_token are required")
		return
	}
	a, err := s.svc.Agreements.Create(r.Context(), agreement.CreateParams{
		ID:              req.AgreementID,
		Landlord:        req.Landlord,
		Tenant:          callerOf(r),
		Agent:           req.Agent,
		MonthlyRent:     req.MonthlyRent,
		SecurityDeposit: req.SecurityDeposit,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		CommissionRate:  req.CommissionRate,
		PaymentToken:    req.PaymentToken,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request_id": requestIDFrom(r.Context()), "agreement": a})
}

func (s *Server) signAgreement(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Agreements.Sign(r.Context(), callerOf(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "agreement": a})
}

type transitionFunc func(ctx context.Context, caller, id string) (agreement.RentAgreement, error)

func (s *Server) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := fn(r.Context(), callerOf(r), chi.URLParam(r, "id"))
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "agreement": a})
	}
}

func (s *Server) getAgreement(w http.ResponseWriter, r *http.Request) {
	a, found, err := s.svc.Agreements.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !found {
		s.writeDomainError(w, r, agreement.ErrAgreementNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id":         requestIDFrom(r.Context()),
		"agreement":          a,
		"commission_percent": commission.Percent(a.AgentCommissionRate).String(),
	})
}

func (s *Server) hasAgreement(w http.ResponseWriter, r *http.Request) {
	ok, err := s.svc.Agreements.Has(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) agreementCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Agreements.Count(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "count": n})
}

func (s *Server) paymentSplit(w http.ResponseWriter, r *http.Request) {
	var month uint64
	if v := r.URL.Query().Get("month"); v != "" {
		var err error
		if month, err = strconv.ParseUint(v, 10, 32); err != nil {
			badRequest(w, r, "month must be a non-negative integer")
			return
		}
	}
	split, err := s.svc.Agreements.GetPaymentSplit(r.Context(), chi.URLParam(r, "id"), uint32(month))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "split": split})
}

func (s *Server) processPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := readJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	rec, err := s.svc.Payments.ProcessPayment(r.Context(), chi.URLParam(r, "id"), req.Amount, callerOf(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request_id": requestIDFrom(r.Context()), "payment": rec})
}

func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(chi.URLParam(r, "n"), 10, 32)
	if err != nil || n == 0 {
		badRequest(w, r, "payment number must be a positive integer")
		return
	}
	rec, err := s.svc.Payments.GetPayment(r.Context(), chi.URLParam(r, "id"), uint32(n))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "payment": rec})
}

func (s *Server) paymentHistory(w http.ResponseWriter, r *http.Request) {
	var bounds [2]time.Time
	for i, name := range []string{"from", "to"} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		t, err := parseDate(v)
		if err != nil {
			badRequest(w, r, name+" must be RFC 3339 or YYYY-MM-DD")
			return
		}
		bounds[i] = t
	}
	recs, err := s.svc.Payments.History(r.Context(), chi.URLParam(r, "id"), bounds[0], bounds[1])
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "payments": recs})
}

// parseDate accepts a full timestamp or a bare date, read as midnight UTC.
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func (s *Server) refundPayment(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(chi.URLParam(r, "n"), 10, 32)
	if err != nil || n == 0 {
		badRequest(w, r, "payment number must be a positive integer")
		return
	}
	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := readJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	rec, err := s.svc.Payments.Refund(r.Context(), callerOf(r), chi.URLParam(r, "id"), uint32(n), req.Amount, req.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "payment": rec})
}

func (s *Server) paymentCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Payments.Count(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "count": n})
}

func (s *Server) feeCollector(w http.ResponseWriter, r *http.Request) {
	collector, ok, err := s.svc.Payments.PlatformFeeCollector(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var out *string
	if ok {
		out = &collector
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "collector": out})
}

func (s *Server) setFeeCollector(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Collector string `json:"collector"`
	}
	if err := readJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if req.Collector == "" {
		badRequest(w, r, "collector is required")
		return
	}
	if err := s.svc.Payments.SetPlatformFeeCollector(r.Context(), callerOf(r), req.Collector); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "collector": req.Collector})
}

type createEscrowRequest struct {
	AgreementID string `json:"agreement_id"`
	Beneficiary string `json:"beneficiary"`
	Arbiter     string `json:"arbiter"`
	Amount      int64  `json:"amount"`
	Token       string `json:"token"`
}

func (s *Server) createEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if req.Token == "" {
		badRequest(w, r, "token is required")
		return
	}
	e, err := s.svc.Escrows.Create(r.Context(), escrow.CreateParams{
		AgreementID: req.AgreementID,
		Depositor:   callerOf(r),
		Beneficiary: req.Beneficiary,
		Arbiter:     req.Arbiter,
		Amount:      req.Amount,
		Token:       req.Token,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request_id": requestIDFrom(r.Context()), "escrow": e})
}

func (s *Server) escrowID(w http.ResponseWriter, r *http.Request) (escrow.ID, bool) {
	id, err := escrow.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, r, err.Error())
		return escrow.ID{}, false
	}
	return id, true
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	e, err := s.svc.Escrows.Deposit(r.Context(), callerOf(r), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "escrow": e})
}

type approveFunc func(ctx context.Context, caller string, id escrow.ID) (escrow.Escrow, error)

func (s *Server) approve(fn approveFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.escrowID(w, r)
		if !ok {
			return
		}
		e, err := fn(r.Context(), callerOf(r), id)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "escrow": e})
	}
}

func (s *Server) raiseDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := readJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	e, err := s.svc.Disputes.RaiseDispute(r.Context(), callerOf(r), id, req.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "escrow": e})
}

func (s *Server) resolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	var outcome dispute.Outcome
	if err := readJSON(r, &outcome); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	e, err := s.svc.Disputes.Resolve(r.Context(), callerOf(r), id, outcome)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "escrow": e})
}

func (s *Server) getEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	e, found, err := s.svc.Escrows.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !found {
		s.writeDomainError(w, r, escrow.ErrEscrowNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "escrow": e})
}

func (s *Server) escrowApprovals(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	a, err := s.svc.Escrows.Approvals(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "approvals": a.Votes})
}

func (s *Server) agreementEscrow(w http.ResponseWriter, r *http.Request) {
	e, found, err := s.svc.Escrows.ForAgreement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !found {
		s.writeDomainError(w, r, escrow.ErrEscrowNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "escrow": e})
}

func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To     string `json:"to"`
		Amount int64  `json:"amount"`
	}
	if err := readJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	tok := chi.URLParam(r, "token")
	if err := s.svc.Tokens.Mint(r.Context(), callerOf(r), tok, req.To, req.Amount); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	bal, err := s.svc.Tokens.Balance(r.Context(), tok, req.To)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "balance": bal})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.svc.Tokens.Balance(r.Context(), chi.URLParam(r, "token"), chi.URLParam(r, "address"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestIDFrom(r.Context()), "balance": bal})
}
