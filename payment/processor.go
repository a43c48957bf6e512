// Package payment applies recurring rent payments to active agreements,
// splitting each payment between landlord and agent.
package payment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"rentledger/agreement"
	"rentledger/auth"
	"rentledger/commission"
	"rentledger/events"
	"rentledger/ledger"
	"rentledger/token"
)

const feeCollectorLock = "platform_fee_collector"

var (
	paymentCountKey = ledger.NewKey(ledger.KindPaymentCount)
	feeCollectorKey = ledger.NewKey(ledger.KindFeeCollector)
)

func recordKey(agreementID string, n uint32) ledger.Key {
	return ledger.NewKey(ledger.KindPayment, agreementID, strconv.FormatUint(uint64(n), 10))
}

// Processor applies payments and answers payment queries.
type Processor struct {
	exec       *ledger.Executor
	authz      auth.Authorizer
	tokens     token.Transferer
	agreements *agreement.Repository
	admin      string
	logger     *zap.Logger
}

// NewProcessor wires a processor. admin is the only address allowed to change
// the platform fee collector.
func NewProcessor(exec *ledger.Executor, authz auth.Authorizer, tokens token.Transferer, admin string, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		exec:       exec,
		authz:      authz,
		tokens:     tokens,
		agreements: agreement.NewRepository(),
		admin:      admin,
		logger:     logger,
	}
}

// ProcessPayment pays one period of rent on behalf of the tenant.
func (p *Processor) ProcessPayment(ctx context.Context, agreementID string, amount int64, tenant string) (Record, error) {
	var rec Record
	err := p.exec.Run(ctx, "payment.process", agreement.LockKey(agreementID), func(ctx context.Context, tx ledger.Tx) error {
		if err := p.authz.RequireAuth(ctx, tenant); err != nil {
			return err
		}
		a, err := p.agreements.Load(ctx, tx, agreementID)
		if err != nil {
			return err
		}
		if a.Tenant != tenant {
			return agreement.ErrNotTenant
		}
		if a.Status != agreement.StatusActive {
			return agreement.ErrAgreementNotActive
		}
		now := tx.Now()
		if now.Before(a.NextPaymentDue) {
			return ErrPaymentNotDue
		}
		if amount != a.MonthlyRent {
			return ErrInvalidPaymentAmount
		}

		landlordAmount, agentAmount := commission.Split(amount, a.AgentCommissionRate)
		commissionTo, err := p.commissionRecipient(ctx, tx, &a)
		if err != nil {
			return err
		}
		if commissionTo == "" {
			landlordAmount, agentAmount = amount, 0
		}

		rec, err = CreateRecord(agreementID, amount, landlordAmount, agentAmount, tenant, a.PaymentCount+1, now)
		if err != nil {
			return err
		}
		if agentAmount > 0 {
			rec.CommissionTo = commissionTo
		}

		n := a.RecordPayment(amount, agreement.PaymentSplit{
			LandlordAmount: landlordAmount,
			PlatformAmount: agentAmount,
			Token:          a.PaymentToken,
			PaymentDate:    now,
		})
		if n != rec.PaymentNumber {
			return fmt.Errorf("payment: payment number drifted: %d != %d", n, rec.PaymentNumber)
		}
		if err := tx.Set(ctx, recordKey(agreementID, n), rec); err != nil {
			return fmt.Errorf("payment: save record: %w", err)
		}
		if err := p.agreements.Save(ctx, tx, &a); err != nil {
			return err
		}
		if err := p.bumpCount(ctx, tx); err != nil {
			return err
		}

		// A 100% commission leaves the landlord nothing to receive.
		if landlordAmount > 0 {
			if err := p.tokens.Transfer(ctx, tx, a.PaymentToken, tenant, a.Landlord, landlordAmount); err != nil {
				return fmt.Errorf("%w: landlord transfer: %v", ErrPaymentFailed, err)
			}
		}
		if agentAmount > 0 {
			if err := p.tokens.Transfer(ctx, tx, a.PaymentToken, tenant, commissionTo, agentAmount); err != nil {
				return fmt.Errorf("%w: commission transfer: %v", ErrPaymentFailed, err)
			}
		}

		return tx.Emit(ctx, events.TopicPaymentProcessed, events.PaymentProcessed{
			AgreementID:    agreementID,
			PaymentNumber:  n,
			Amount:         amount,
			LandlordAmount: landlordAmount,
			AgentAmount:    agentAmount,
			CommissionTo:   rec.CommissionTo,
			PaidAt:         now,
		})
	})
	if err != nil {
		return Record{}, err
	}
	p.logger.Info("rent payment processed",
		zap.String("agreement_id", agreementID),
		zap.Uint32("payment_number", rec.PaymentNumber),
		zap.Int64("amount", rec.Amount),
	)
	return rec, nil
}

// commissionRecipient resolves who receives the commission: the agent when
// one is named, else the platform fee collector, else nobody.
func (p *Processor) commissionRecipient(ctx context.Context, tx ledger.Tx, a *agreement.RentAgreement) (string, error) {
	if a.HasAgent() {
		return *a.Agent, nil
	}
	collector, _, err := loadCollector(ctx, tx)
	return collector, err
}

func (p *Processor) bumpCount(ctx context.Context, tx ledger.Tx) error {
	var n uint64
	if _, err := tx.Get(ctx, paymentCountKey, &n); err != nil {
		return fmt.Errorf("payment: load count: %w", err)
	}
	if err := tx.Set(ctx, paymentCountKey, n+1); err != nil {
		return fmt.Errorf("payment: save count: %w", err)
	}
	return nil
}

// GetPayment returns payment number n of an agreement.
func (p *Processor) GetPayment(ctx context.Context, agreementID string, n uint32) (Record, error) {
	var rec Record
	err := p.exec.View(ctx, "payment.get", func(ctx context.Context, tx ledger.Tx) error {
		ok, err := tx.Get(ctx, recordKey(agreementID, n), &rec)
		if err != nil {
			return fmt.Errorf("payment: load record: %w", err)
		}
		if !ok {
			return ErrPaymentNotFound
		}
		return nil
	})
	return rec, err
}

// Refund hands amount of payment n back to the tenant. The landlord and the
// commission recipient each return their share in proportion to what they
// received; across refunds the commission side never returns more than it
// was paid. Only the agreement's landlord may refund.
func (p *Processor) Refund(ctx context.Context, landlord, agreementID string, n uint32, amount int64, reason string) (Record, error) {
	var (
		rec            Record
		fromCommission int64
	)
	err := p.exec.Run(ctx, "payment.refund", agreement.LockKey(agreementID), func(ctx context.Context, tx ledger.Tx) error {
		if err := p.authz.RequireAuth(ctx, landlord); err != nil {
			return err
		}
		a, err := p.agreements.Load(ctx, tx, agreementID)
		if err != nil {
			return err
		}
		if a.Landlord != landlord {
			return agreement.ErrNotLandlord
		}
		ok, err := tx.Get(ctx, recordKey(agreementID, n), &rec)
		if err != nil {
			return fmt.Errorf("payment: load record: %w", err)
		}
		if !ok {
			return ErrPaymentNotFound
		}
		if amount <= 0 {
			return ErrInvalidAmount
		}
		if amount > rec.Refundable() {
			return ErrRefundExceedsPayment
		}

		// Prorating the running total keeps the rounding from drifting.
		before := commission.Prorate(rec.AgentAmount, rec.RefundedAmount, rec.Amount)
		after := commission.Prorate(rec.AgentAmount, rec.RefundedAmount+amount, rec.Amount)
		fromCommission = after - before
		fromLandlord := amount - fromCommission

		if fromLandlord > 0 {
			if err := p.tokens.Transfer(ctx, tx, a.PaymentToken, a.Landlord, rec.Tenant, fromLandlord); err != nil {
				return fmt.Errorf("%w: landlord refund: %v", ErrPaymentFailed, err)
			}
		}
		if fromCommission > 0 {
			if err := p.tokens.Transfer(ctx, tx, a.PaymentToken, rec.CommissionTo, rec.Tenant, fromCommission); err != nil {
				return fmt.Errorf("%w: commission refund: %v", ErrPaymentFailed, err)
			}
		}

		rec.RefundedAmount += amount
		rec.RefundReason = reason
		rec.Status = StatusPartialRefund
		if rec.RefundedAmount == rec.Amount {
			rec.Status = StatusRefunded
		}
		if err := tx.Set(ctx, recordKey(agreementID, n), rec); err != nil {
			return fmt.Errorf("payment: save record: %w", err)
		}
		return tx.Emit(ctx, events.TopicPaymentRefunded, events.PaymentRefunded{
			AgreementID:    agreementID,
			PaymentNumber:  n,
			Amount:         amount,
			FromLandlord:   fromLandlord,
			FromCommission: fromCommission,
			RefundedAmount: rec.RefundedAmount,
			Status:         string(rec.Status),
			Reason:         reason,
			RefundedAt:     tx.Now(),
		})
	})
	if err != nil {
		return Record{}, err
	}
	p.logger.Info("rent payment refunded",
		zap.String("agreement_id", agreementID),
		zap.Uint32("payment_number", n),
		zap.Int64("amount", amount),
		zap.Int64("from_commission", fromCommission),
		zap.String("status", string(rec.Status)),
	)
	return rec, nil
}

// History returns the payments of an agreement ordered by payment number,
// keeping those made within [from, to]. A zero bound is open.
func (p *Processor) History(ctx context.Context, agreementID string, from, to time.Time) ([]Record, error) {
	var out []Record
	err := p.exec.View(ctx, "payment.history", func(ctx context.Context, tx ledger.Tx) error {
		a, err := p.agreements.Load(ctx, tx, agreementID)
		if err != nil {
			return err
		}
		out = make([]Record, 0, a.PaymentCount)
		for _, entry := range a.History() {
			var rec Record
			ok, err := tx.Get(ctx, recordKey(agreementID, entry.PaymentNumber), &rec)
			if err != nil {
				return fmt.Errorf("payment: load record: %w", err)
			}
			if !ok {
				return ErrPaymentNotFound
			}
			if rec.within(from, to) {
				out = append(out, rec)
			}
		}
		return nil
	})
	return out, err
}

// Count returns the number of payments processed across all agreements.
func (p *Processor) Count(ctx context.Context) (uint64, error) {
	var n uint64
	err := p.exec.View(ctx, "payment.count", func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.Get(ctx, paymentCountKey, &n)
		return err
	})
	return n, err
}

// SetPlatformFeeCollector names the address that receives commission on
// agreements without an agent. Only the platform admin may call it.
func (p *Processor) SetPlatformFeeCollector(ctx context.Context, admin, collector string) error {
	if collector == "" {
		return fmt.Errorf("payment: collector address is required")
	}
	return p.exec.Run(ctx, "payment.set_fee_collector", feeCollectorLock, func(ctx context.Context, tx ledger.Tx) error {
		if err := p.authz.RequireAuth(ctx, admin); err != nil {
			return err
		}
		if p.admin == "" || admin != p.admin {
			return ErrNotAdmin
		}
		if err := tx.Set(ctx, feeCollectorKey, collector); err != nil {
			return fmt.Errorf("payment: save fee collector: %w", err)
		}
		return tx.Emit(ctx, events.TopicFeeCollectorChanged, events.FeeCollectorChanged{Collector: collector})
	})
}

// PlatformFeeCollector returns the configured collector, if any.
func (p *Processor) PlatformFeeCollector(ctx context.Context) (string, bool, error) {
	var (
		collector string
		ok        bool
	)
	err := p.exec.View(ctx, "payment.fee_collector", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		collector, ok, err = loadCollector(ctx, tx)
		return err
	})
	return collector, ok, err
}

func loadCollector(ctx context.Context, tx ledger.Tx) (string, bool, error) {
	var collector string
	ok, err := tx.Get(ctx, feeCollectorKey, &collector)
	if err != nil {
		return "", false, fmt.Errorf("payment: load fee collector: %w", err)
	}
	return collector, ok && collector != "", nil
}
