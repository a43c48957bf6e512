// Package api exposes the ledger operations over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"rentledger/agreement"
	"rentledger/auth"
	"rentledger/dispute"
	"rentledger/escrow"
	"rentledger/payment"
	"rentledger/token"
)

// Services bundles the domain services the API dispatches to.
type Services struct {
	Auth       *auth.Service
	Agreements *agreement.Service
	Payments   *payment.Processor
	Escrows    *escrow.Manager
	Disputes   *dispute.Handler
	Tokens     *token.Service
}

type Server struct {
	svc    Services
	logger *zap.Logger
}

func NewServer(svc Services, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, logger: logger}
}

// Routes builds the router. Reads are public; every mutation requires a
// bearer token whose subject becomes the acting address.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.register)
		api.Post("/auth/login", s.login)

		api.Get("/agreements/count", s.agreementCount)
		api.Get("/agreements/{id}", s.getAgreement)
		api.Head("/agreements/{id}", s.hasAgreement)
		api.Get("/agreements/{id}/split", s.paymentSplit)
		api.Get("/agreements/{id}/payments", s.paymentHistory)
		api.Get("/agreements/{id}/payments/{n}", s.getPayment)
		api.Get("/agreements/{id}/escrow", s.agreementEscrow)
		api.Get("/payments/count", s.paymentCount)
		api.Get("/platform/fee-collector", s.feeCollector)
		api.Get("/escrows/{id}", s.getEscrow)
		api.Get("/escrows/{id}/approvals", s.escrowApprovals)
		api.Get("/tokens/{token}/balances/{address}", s.balance)

		api.Group(func(authed chi.Router) {
			authed.Use(s.authenticate)

			authed.Post("/agreements", s.createAgreement)
			authed.Post("/agreements/{id}/sign", s.signAgreement)
			authed.Post("/agreements/{id}/complete", s.transition(s.svc.Agreements.Complete))
			authed.Post("/agreements/{id}/cancel", s.transition(s.svc.Agreements.Cancel))
			authed.Post("/agreements/{id}/terminate", s.transition(s.svc.Agreements.Terminate))
			authed.Post("/agreements/{id}/dispute", s.transition(s.svc.Agreements.MarkDisputed))
			authed.Post("/agreements/{id}/payments", s.processPayment)
			authed.Post("/agreements/{id}/payments/{n}/refund", s.refundPayment)
			authed.Put("/platform/fee-collector", s.setFeeCollector)

			authed.Post("/escrows", s.createEscrow)
			authed.Post("/escrows/{id}/deposit", s.deposit)
			authed.Post("/escrows/{id}/approve-release", s.approve(s.svc.Escrows.ApproveRelease))
			authed.Post("/escrows/{id}/approve-refund", s.approve(s.svc.Escrows.ApproveRefund))
			authed.Post("/escrows/{id}/dispute", s.raiseDispute)
			authed.Post("/escrows/{id}/resolve", s.resolveDispute)

			authed.Post("/tokens/{token}/mint", s.mint)
		})
	})
	return r
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// authenticate verifies the bearer token and records its subject as the
// caller for the authorizer.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeError(w, r, http.StatusUnauthorized, errorBody{Kind: "Unauthenticated", Message: "missing bearer token"})
			return
		}
		address, _, err := s.svc.Auth.VerifyToken(strings.TrimSpace(raw))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, errorBody{Kind: "Unauthenticated", Message: "invalid token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), address)))
	})
}

func callerOf(r *http.Request) string {
	address, _ := auth.CallerFrom(r.Context())
	return address
}

func zapRequest(r *http.Request, err error) []zap.Field {
	return []zap.Field{
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	}
}
