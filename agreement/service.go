package agreement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rentledger/auth"
	"rentledger/commission"
	"rentledger/events"
	"rentledger/ledger"
)

// LockKey is the executor lock shared by every operation that mutates the
// agreement with the given id.
func LockKey(id string) string {
	return "agreement:" + id
}

// Service implements the agreement lifecycle.
type Service struct {
	exec  *ledger.Executor
	authz auth.Authorizer
	repo  *Repository
}

func NewService(exec *ledger.Executor, authz auth.Authorizer) *Service {
	return &Service{
		exec:  exec,
		authz: authz,
		repo:  NewRepository(),
	}
}

// Repository exposes the storage helpers so other modules can load and save
// agreements inside their own invocation.
func (s *Service) Repository() *Repository {
	return s.repo
}

// Create records a new agreement in Pending status. The tenant proposes the
// agreement and must authorize the call.
func (s *Service) Create(ctx context.Context, p CreateParams) (RentAgreement, error) {
	if strings.TrimSpace(p.ID) == "" {
		return RentAgreement{}, fmt.Errorf("agreement: missing agreement id")
	}
	if p.Landlord == "" || p.Tenant == "" {
		return RentAgreement{}, fmt.Errorf("agreement: landlord and tenant are required")
	}
	if p.PaymentToken == "" {
		return RentAgreement{}, fmt.Errorf("agreement: payment token is required")
	}

	var created RentAgreement
	err := s.exec.Run(ctx, "agreement.create", LockKey(p.ID), func(ctx context.Context, tx ledger.Tx) error {
		if err := s.authz.RequireAuth(ctx, p.Tenant); err != nil {
			return err
		}

		exists, err := s.repo.Exists(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrAgreementAlreadyExists
		}
		if p.MonthlyRent <= 0 || p.SecurityDeposit < 0 {
			return ErrInvalidAmount
		}
		if !p.StartDate.Before(p.EndDate) {
			return ErrInvalidDate
		}
		if !commission.ValidRate(p.CommissionRate) {
			return ErrInvalidCommissionRate
		}

		var agent *string
		if p.Agent != nil && *p.Agent != "" {
			a := *p.Agent
			agent = &a
		}
		if p.Landlord == p.Tenant {
			return ErrInvalidParties
		}
		if agent != nil && (*agent == p.Landlord || *agent == p.Tenant) {
			return ErrInvalidParties
		}
		now := tx.Now()
		created = RentAgreement{
			ID:                  p.ID,
			Landlord:            p.Landlord,
			Tenant:              p.Tenant,
			Agent:               agent,
			MonthlyRent:         p.MonthlyRent,
			SecurityDeposit:     p.SecurityDeposit,
			StartDate:           p.StartDate.UTC(),
			EndDate:             p.EndDate.UTC(),
			AgentCommissionRate: p.CommissionRate,
			Status:              StatusPending,
			PaymentToken:        p.PaymentToken,
			NextPaymentDue:      p.StartDate.UTC(),
			PaymentHistory:      map[uint32]PaymentSplit{},
			CreatedAt:           now,
		}
		if err := s.repo.Save(ctx, tx, &created); err != nil {
			return err
		}
		if err := s.repo.incrementCount(ctx, tx); err != nil {
			return err
		}
		return tx.Emit(ctx, events.TopicAgreementCreated, events.AgreementCreated{
			AgreementID: p.ID,
			Landlord:    p.Landlord,
			Tenant:      p.Tenant,
		})
	})
	if err != nil {
		return RentAgreement{}, err
	}
	return created, nil
}

// Sign activates a pending agreement on behalf of its tenant.
func (s *Service) Sign(ctx context.Context, tenant, id string) (RentAgreement, error) {
	var signed RentAgreement
	err := s.exec.Run(ctx, "agreement.sign", LockKey(id), func(ctx context.Context, tx ledger.Tx) error {
		if err := s.authz.RequireAuth(ctx, tenant); err != nil {
			return err
		}
		a, err := s.repo.Load(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Tenant != tenant {
			return ErrNotTenant
		}
		next, err := a.Status.Next(OpSign)
		if err != nil {
			return err
		}

		now := tx.Now()
		a.Status = next
		a.SignedAt = &now
		if err := s.repo.Save(ctx, tx, &a); err != nil {
			return err
		}
		signed = a
		return tx.Emit(ctx, events.TopicAgreementSigned, events.AgreementSigned{
			AgreementID: id,
			Landlord:    a.Landlord,
			Tenant:      a.Tenant,
			SignedAt:    now,
		})
	})
	if err != nil {
		return RentAgreement{}, err
	}
	return signed, nil
}

// Complete closes an active agreement once its end date has passed.
func (s *Service) Complete(ctx context.Context, landlord, id string) (RentAgreement, error) {
	return s.transition(ctx, "agreement.complete", landlord, id, OpComplete,
		func(a *RentAgreement) error {
			if a.Landlord != landlord {
				return ErrNotLandlord
			}
			return nil
		},
		func(a *RentAgreement, now time.Time) error {
			if now.Before(a.EndDate) {
				return ErrInvalidDate
			}
			return nil
		})
}

// Cancel aborts an active agreement before any rent has been paid.
func (s *Service) Cancel(ctx context.Context, caller, id string) (RentAgreement, error) {
	return s.transition(ctx, "agreement.cancel", caller, id, OpCancel, partyOnly(caller),
		func(a *RentAgreement, _ time.Time) error {
			if a.PaymentCount > 0 {
				return ErrInvalidState
			}
			return nil
		})
}

// Terminate ends an active agreement early.
func (s *Service) Terminate(ctx context.Context, caller, id string) (RentAgreement, error) {
	return s.transition(ctx, "agreement.terminate", caller, id, OpTerminate, partyOnly(caller),
		func(a *RentAgreement, now time.Time) error {
			if !now.Before(a.EndDate) {
				return ErrExpired
			}
			return nil
		})
}

// MarkDisputed flags an active agreement as under dispute.
func (s *Service) MarkDisputed(ctx context.Context, caller, id string) (RentAgreement, error) {
	return s.transition(ctx, "agreement.dispute", caller, id, OpDispute, partyOnly(caller), nil)
}

func partyOnly(caller string) func(*RentAgreement) error {
	return func(a *RentAgreement) error {
		if !a.IsParty(caller) {
			return ErrNotParty
		}
		return nil
	}
}

// transition applies op after checking, in order, the caller's role, the
// current status and any time constraint.
func (s *Service) transition(
	ctx context.Context,
	name, caller, id string,
	op Op,
	allowed func(*RentAgreement) error,
	ready func(*RentAgreement, time.Time) error,
) (RentAgreement, error) {
	var out RentAgreement
	err := s.exec.Run(ctx, name, LockKey(id), func(ctx context.Context, tx ledger.Tx) error {
		if err := s.authz.RequireAuth(ctx, caller); err != nil {
			return err
		}
		a, err := s.repo.Load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := allowed(&a); err != nil {
			return err
		}
		previous := a.Status
		next, err := previous.Next(op)
		if err != nil {
			return err
		}
		now := tx.Now()
		if ready != nil {
			if err := ready(&a, now); err != nil {
				return err
			}
		}

		a.Status = next
		if next.Terminal() {
			a.ClosedAt = &now
		}
		if err := s.repo.Save(ctx, tx, &a); err != nil {
			return err
		}
		out = a
		return tx.Emit(ctx, events.TopicAgreementStatusChanged, events.AgreementStatusChanged{
			AgreementID: id,
			Previous:    previous.String(),
			Next:        next.String(),
			ActorID:     caller,
		})
	})
	if err != nil {
		return RentAgreement{}, err
	}
	return out, nil
}

// Get returns the agreement and whether it exists.
func (s *Service) Get(ctx context.Context, id string) (RentAgreement, bool, error) {
	var (
		a     RentAgreement
		found bool
	)
	err := s.exec.View(ctx, "agreement.get", func(ctx context.Context, tx ledger.Tx) error {
		loaded, err := s.repo.Load(ctx, tx, id)
		if errors.Is(err, ErrAgreementNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		a, found = loaded, true
		return nil
	})
	return a, found, err
}

// Has reports whether an agreement exists.
func (s *Service) Has(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.exec.View(ctx, "agreement.has", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		ok, err = s.repo.Exists(ctx, tx, id)
		return err
	})
	return ok, err
}

// Count returns the number of agreements created.
func (s *Service) Count(ctx context.Context) (uint32, error) {
	var n uint32
	err := s.exec.View(ctx, "agreement.count", func(ctx context.Context, tx ledger.Tx) error {
		var err error
		n, err = s.repo.Count(ctx, tx)
		return err
	})
	return n, err
}

// GetPaymentSplit previews the landlord/agent split for the given billing
// period. month is a zero-based offset from the start date and must fall
// within the term.
func (s *Service) GetPaymentSplit(ctx context.Context, id string, month uint32) (PaymentSplit, error) {
	var split PaymentSplit
	err := s.exec.View(ctx, "agreement.payment_split", func(ctx context.Context, tx ledger.Tx) error {
		a, err := s.repo.Load(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusActive {
			return ErrAgreementNotActive
		}
		if tx.Now().After(a.EndDate) {
			return ErrExpired
		}
		due := a.PeriodStart(month)
		if !due.Before(a.EndDate) {
			return ErrInvalidDate
		}
		landlord, agent := commission.Split(a.MonthlyRent, a.AgentCommissionRate)
		split = PaymentSplit{
			LandlordAmount: landlord,
			PlatformAmount: agent,
			Token:          a.PaymentToken,
			PaymentDate:    due,
		}
		return nil
	})
	return split, err
}
