package payment

import "time"

// Status tracks whether any part of a payment has been handed back.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusPartialRefund Status = "partial_refund"
	StatusRefunded      Status = "refunded"
)

// Record is the receipt of one rent payment. Only the refund fields change
// after it is written.
type Record struct {
	AgreementID    string    `json:"agreement_id"`
	PaymentNumber  uint32    `json:"payment_number"`
	Amount         int64     `json:"amount"`
	LandlordAmount int64     `json:"landlord_amount"`
	AgentAmount    int64     `json:"agent_amount"`
	CommissionTo   string    `json:"commission_to,omitempty"`
	Tenant         string    `json:"tenant"`
	Timestamp      time.Time `json:"timestamp"`
	Status         Status    `json:"status"`
	RefundedAmount int64     `json:"refunded_amount"`
	RefundReason   string    `json:"refund_reason,omitempty"`
}

// CreateRecord builds a payment record, rejecting non-positive amounts and
// splits that do not add up to the amount paid.
func CreateRecord(agreementID string, amount, landlordAmount, agentAmount int64, tenant string, paymentNumber uint32, timestamp time.Time) (Record, error) {
	if amount <= 0 || landlordAmount < 0 || agentAmount < 0 {
		return Record{}, ErrInvalidAmount
	}
	if landlordAmount+agentAmount != amount {
		return Record{}, ErrInvalidAmount
	}
	return Record{
		AgreementID:    agreementID,
		PaymentNumber:  paymentNumber,
		Amount:         amount,
		LandlordAmount: landlordAmount,
		AgentAmount:    agentAmount,
		Tenant:         tenant,
		Timestamp:      timestamp,
		Status:         StatusCompleted,
	}, nil
}

// Refundable is what is left of the payment to hand back.
func (r Record) Refundable() int64 {
	return r.Amount - r.RefundedAmount
}

// within reports whether the payment falls in [from, to]. A zero bound is
// open.
func (r Record) within(from, to time.Time) bool {
	if !from.IsZero() && r.Timestamp.Before(from) {
		return false
	}
	if !to.IsZero() && r.Timestamp.After(to) {
		return false
	}
	return true
}
