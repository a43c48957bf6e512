package oracles

import (
	"context"
	"fmt"
	"time"

	"rentledger/agreement"
	"rentledger/escrow"
	"rentledger/payment"
	"rentledger/token"
)

// Supply checks that the balances of holders plus every custody account add
// up to what was minted. It works on any store because it only reads through
// the services.
func Supply(ctx context.Context, tokens *token.Service, tok string, holders []string, escrows []escrow.ID, minted int64) (string, string, error) {
	var total int64
	for _, h := range holders {
		b, err := tokens.Balance(ctx, tok, h)
		if err != nil {
			return "S1_supply_conserved", "", err
		}
		total += b
	}
	for _, id := range escrows {
		b, err := tokens.Balance(ctx, tok, escrow.CustodyAccount(id))
		if err != nil {
			return "S1_supply_conserved", "", err
		}
		total += b
	}
	if total != minted {
		return "S1_supply_conserved", fmt.Sprintf("held=%d minted=%d", total, minted), nil
	}
	return "", "", nil
}

// Payments checks each agreement's counters against its stored records.
func Payments(ctx context.Context, agreements *agreement.Service, payments *payment.Processor, ids []string) (string, string, error) {
	for _, id := range ids {
		a, ok, err := agreements.Get(ctx, id)
		if err != nil {
			return "S2_payment_records", "", err
		}
		if !ok {
			return "S2_payment_records", id + " missing", nil
		}
		recs, err := payments.History(ctx, id, time.Time{}, time.Time{})
		if err != nil {
			return "S2_payment_records", "", err
		}
		if len(recs) != int(a.PaymentCount) || len(a.PaymentHistory) != int(a.PaymentCount) {
			return "S2_payment_records", fmt.Sprintf("%s count=%d records=%d history=%d", id, a.PaymentCount, len(recs), len(a.PaymentHistory)), nil
		}
		if a.TotalRentPaid != int64(a.PaymentCount)*a.MonthlyRent {
			return "S2_payment_records", fmt.Sprintf("%s total=%d count=%d", id, a.TotalRentPaid, a.PaymentCount), nil
		}
		for i, r := range recs {
			if r.PaymentNumber != uint32(i+1) || r.LandlordAmount+r.AgentAmount != r.Amount {
				return "S2_payment_records", fmt.Sprintf("%s record %+v", id, r), nil
			}
		}
	}
	return "", "", nil
}

// Custody checks that only funded or disputed escrows hold tokens and that
// settled escrows paid out exactly their amount.
func Custody(ctx context.Context, escrows *escrow.Manager, tokens *token.Service, ids []escrow.ID) (string, string, error) {
	for _, id := range ids {
		e, ok, err := escrows.Get(ctx, id)
		if err != nil {
			return "S3_custody", "", err
		}
		if !ok {
			return "S3_custody", id.String() + " missing", nil
		}
		held, err := tokens.Balance(ctx, e.Token, escrow.CustodyAccount(id))
		if err != nil {
			return "S3_custody", "", err
		}
		want := int64(0)
		if e.Status == escrow.StatusFunded || e.Status == escrow.StatusDisputed {
			want = e.Amount
		}
		if held != want {
			return "S3_custody", fmt.Sprintf("%s status=%s held=%d", id, e.Status, held), nil
		}
		if e.Status.Terminal() {
			if e.Settlement == nil || e.Settlement.ToBeneficiary+e.Settlement.ToDepositor != e.Amount {
				return "S3_custody", fmt.Sprintf("%s settlement %+v", id, e.Settlement), nil
			}
		}
	}
	return "", "", nil
}
