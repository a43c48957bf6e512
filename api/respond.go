package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"rentledger/agreement"
	"rentledger/auth"
	"rentledger/escrow"
	"rentledger/payment"
	"rentledger/token"
)

func newRequestID() string { return "req_" + uuid.NewString() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Module  string `json:"module,omitempty"`
	Code    uint32 `json:"code,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, body errorBody) {
	writeJSON(w, status, map[string]any{
		"request_id": requestIDFrom(r.Context()),
		"error":      body,
	})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, http.StatusBadRequest, errorBody{Kind: "BadRequest", Message: msg})
}

var kindStatus = map[string]int{
	"AgreementNotFound":      http.StatusNotFound,
	"PaymentNotFound":        http.StatusNotFound,
	"EscrowNotFound":         http.StatusNotFound,
	"AgreementAlreadyExists": http.StatusConflict,
	"AlreadyExists":          http.StatusConflict,
	"InvalidState":           http.StatusConflict,
	"AgreementNotActive":     http.StatusConflict,
	"Expired":                http.StatusConflict,
	"PaymentNotDue":          http.StatusConflict,
	"NotTenant":              http.StatusForbidden,
	"NotLandlord":            http.StatusForbidden,
	"NotParty":               http.StatusForbidden,
	"NotAdmin":               http.StatusForbidden,
	"NotAuthorized":          http.StatusForbidden,
	"InvalidSigner":          http.StatusForbidden,
}

type coded interface {
	Code() uint32
	Kind() string
}

// writeDomainError maps a service error to an HTTP response. Numbered domain
// errors keep their code; unknown errors are logged and hidden.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ae agreement.Error
		pe payment.Error
		ee escrow.Error
	)
	var (
		module string
		c      coded
	)
	switch {
	case errors.As(err, &pe):
		module, c = "payment", pe
	case errors.As(err, &ee):
		module, c = "escrow", ee
	case errors.As(err, &ae):
		module, c = "agreement", ae
	}
	if c != nil {
		status, ok := kindStatus[c.Kind()]
		if !ok {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, r, status, errorBody{Module: module, Code: c.Code(), Kind: c.Kind(), Message: err.Error()})
		return
	}

	switch {
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, token.ErrNotIssuer):
		writeError(w, r, http.StatusForbidden, errorBody{Kind: "Unauthorized", Message: err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, errorBody{Kind: "InvalidCredentials", Message: err.Error()})
	case errors.Is(err, auth.ErrDuplicateAddress):
		writeError(w, r, http.StatusConflict, errorBody{Kind: "DuplicateAddress", Message: err.Error()})
	case errors.Is(err, auth.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, errorBody{Kind: "BadRequest", Message: err.Error()})
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidAddress):
		writeError(w, r, http.StatusUnprocessableEntity, errorBody{Kind: "InvalidInput", Message: err.Error()})
	default:
		s.logger.Error("request failed", zapRequest(r, err)...)
		writeError(w, r, http.StatusInternalServerError, errorBody{Kind: "Internal", Message: "internal error"})
	}
}
