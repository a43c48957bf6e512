package agreement

import (
	"sort"
	"time"
)

// RentAgreement is the persisted state of one rental agreement. Agreements are
// never deleted; terminal statuses are kept for audit.
type RentAgreement struct {
	ID                  string                  `json:"agreement_id"`
	Landlord            string                  `json:"landlord"`
	Tenant              string                  `json:"tenant"`
	Agent               *string                 `json:"agent,omitempty"`
	MonthlyRent         int64                   `json:"monthly_rent"`
	SecurityDeposit     int64                   `json:"security_deposit"`
	StartDate           time.Time               `json:"start_date"`
	EndDate             time.Time               `json:"end_date"`
	AgentCommissionRate uint32                  `json:"agent_commission_rate"`
	Status              Status                  `json:"status"`
	TotalRentPaid       int64                   `json:"total_rent_paid"`
	PaymentCount        uint32                  `json:"payment_count"`
	SignedAt            *time.Time              `json:"signed_at,omitempty"`
	PaymentToken        string                  `json:"payment_token"`
	NextPaymentDue      time.Time               `json:"next_payment_due"`
	PaymentHistory      map[uint32]PaymentSplit `json:"payment_history"`
	CreatedAt           time.Time               `json:"created_at"`
	ClosedAt            *time.Time              `json:"closed_at,omitempty"`
}

// PaymentSplit is the per-payment snapshot kept in an agreement's history.
type PaymentSplit struct {
	LandlordAmount int64     `json:"landlord_amount"`
	PlatformAmount int64     `json:"platform_amount"`
	Token          string    `json:"token"`
	PaymentDate    time.Time `json:"payment_date"`
}

// HistoryEntry pairs a payment number with its split.
type HistoryEntry struct {
	PaymentNumber uint32
	Split         PaymentSplit
}

// CreateParams carries the terms proposed for a new agreement.
type CreateParams struct {
	ID              string
	Landlord        string
	Tenant          string
	Agent           *string
	MonthlyRent     int64
	SecurityDeposit int64
	StartDate       time.Time
	EndDate         time.Time
	CommissionRate  uint32
	PaymentToken    string
}

// DueDate returns the date payment number n (1-based) falls due. Periods are
// anchored to the start date so short months do not accumulate drift.
func (a *RentAgreement) DueDate(n uint32) time.Time {
	if n == 0 {
		return a.StartDate
	}
	return a.PeriodStart(n - 1)
}

// PeriodStart returns the first day of the billing period offset months
// after the start date.
func (a *RentAgreement) PeriodStart(offset uint32) time.Time {
	return a.StartDate.AddDate(0, int(offset), 0)
}

// HasAgent reports whether an agent receives the commission.
func (a *RentAgreement) HasAgent() bool {
	return a.Agent != nil && *a.Agent != ""
}

// IsParty reports whether address is the landlord or tenant.
func (a *RentAgreement) IsParty(address string) bool {
	return address == a.Landlord || address == a.Tenant
}

// History returns the payment history ordered by payment number.
func (a *RentAgreement) History() []HistoryEntry {
	out := make([]HistoryEntry, 0, len(a.PaymentHistory))
	for n, split := range a.PaymentHistory {
		out = append(out, HistoryEntry{PaymentNumber: n, Split: split})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentNumber < out[j].PaymentNumber })
	return out
}

// RecordPayment appends the next payment and advances the due date by one
// billing period. It returns the assigned payment number.
func (a *RentAgreement) RecordPayment(amount int64, split PaymentSplit) uint32 {
	a.PaymentCount++
	n := a.PaymentCount
	if a.PaymentHistory == nil {
		a.PaymentHistory = make(map[uint32]PaymentSplit, 1)
	}
	a.PaymentHistory[n] = split
	a.TotalRentPaid += amount
	a.NextPaymentDue = a.DueDate(n + 1)
	return n
}
