// Package events names the notifications emitted by the ledger modules and
// relays committed outbox rows to a publisher.
package events

import "time"

const (
	TopicAgreementCreated       = "agreement.created"
	TopicAgreementSigned        = "agreement.signed"
	TopicAgreementStatusChanged = "agreement.status_changed"
	TopicPaymentProcessed       = "payment.processed"
	TopicPaymentRefunded        = "payment.refunded"
	TopicFeeCollectorChanged    = "payment.fee_collector_changed"
	TopicEscrowCreated          = "escrow.created"
	TopicEscrowFunded           = "escrow.funded"
	TopicEscrowApproval         = "escrow.approval_recorded"
	TopicEscrowReleased         = "escrow.released"
	TopicEscrowRefunded         = "escrow.refunded"
	TopicEscrowDisputed         = "escrow.disputed"
	TopicEscrowResolved         = "escrow.resolved"
)

type AgreementCreated struct {
	AgreementID string `json:"agreement_id"`
	Landlord    string `json:"landlord"`
	Tenant      string `json:"tenant"`
}

type AgreementSigned struct {
	AgreementID string    `json:"agreement_id"`
	Landlord    string    `json:"landlord"`
	Tenant      string    `json:"tenant"`
	SignedAt    time.Time `json:"signed_at"`
}

type AgreementStatusChanged struct {
	AgreementID string `json:"agreement_id"`
	Previous    string `json:"previous"`
	Next        string `json:"next"`
	ActorID     string `json:"actor_id"`
}

type PaymentProcessed struct {
	AgreementID    string    `json:"agreement_id"`
	PaymentNumber  uint32    `json:"payment_number"`
	Amount         int64     `json:"amount"`
	LandlordAmount int64     `json:"landlord_amount"`
	AgentAmount    int64     `json:"agent_amount"`
	CommissionTo   string    `json:"commission_to,omitempty"`
	PaidAt         time.Time `json:"paid_at"`
}

type PaymentRefunded struct {
	AgreementID    string    `json:"agreement_id"`
	PaymentNumber  uint32    `json:"payment_number"`
	Amount         int64     `json:"amount"`
	FromLandlord   int64     `json:"from_landlord"`
	FromCommission int64     `json:"from_commission"`
	RefundedAmount int64     `json:"refunded_amount"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason"`
	RefundedAt     time.Time `json:"refunded_at"`
}

type FeeCollectorChanged struct {
	Collector string `json:"collector"`
}

type EscrowCreated struct {
	EscrowID    string `json:"escrow_id"`
	AgreementID string `json:"agreement_id,omitempty"`
	Depositor   string `json:"depositor"`
	Beneficiary string `json:"beneficiary"`
	Arbiter     string `json:"arbiter"`
	Amount      int64  `json:"amount"`
}

type EscrowFunded struct {
	EscrowID string `json:"escrow_id"`
	Amount   int64  `json:"amount"`
}

type EscrowApproval struct {
	EscrowID  string `json:"escrow_id"`
	Role      string `json:"role"`
	Direction string `json:"direction"`
}

type EscrowSettled struct {
	EscrowID      string `json:"escrow_id"`
	ToBeneficiary int64  `json:"to_beneficiary"`
	ToDepositor   int64  `json:"to_depositor"`
	Status        string `json:"status"`
}

type EscrowDisputed struct {
	EscrowID string `json:"escrow_id"`
	RaisedBy string `json:"raised_by"`
	Reason   string `json:"reason"`
}
