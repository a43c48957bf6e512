package dispute

import (
	"encoding/json"
	"fmt"

	"rentledger/escrow"
)

// Decision names the arbiter's ruling.
type Decision string

const (
	DecisionRelease Decision = "release"
	DecisionRefund  Decision = "refund"
	DecisionSplit   Decision = "split"
)

// Outcome is the arbiter's ruling on a disputed escrow. ToBeneficiary is only
// read for DecisionSplit.
type Outcome struct {
	Decision      Decision `json:"decision"`
	ToBeneficiary int64    `json:"to_beneficiary,omitempty"`
}

func Release() Outcome { return Outcome{Decision: DecisionRelease} }

func Refund() Outcome { return Outcome{Decision: DecisionRefund} }

func Split(toBeneficiary int64) Outcome {
	return Outcome{Decision: DecisionSplit, ToBeneficiary: toBeneficiary}
}

// payout returns the beneficiary's share of amount and the escrow op the
// ruling maps to. Splits where the beneficiary gets at least half count as a
// release.
func (o Outcome) payout(amount int64) (int64, escrow.Op, error) {
	switch o.Decision {
	case DecisionRelease:
		return amount, escrow.OpResolveRelease, nil
	case DecisionRefund:
		return 0, escrow.OpResolveRefund, nil
	case DecisionSplit:
		if o.ToBeneficiary < 0 || o.ToBeneficiary > amount {
			return 0, "", escrow.ErrInvalidAmount
		}
		if o.ToBeneficiary >= amount-o.ToBeneficiary {
			return o.ToBeneficiary, escrow.OpResolveRelease, nil
		}
		return o.ToBeneficiary, escrow.OpResolveRefund, nil
	default:
		return 0, "", fmt.Errorf("dispute: unknown decision %q", o.Decision)
	}
}

func (o *Outcome) UnmarshalJSON(b []byte) error {
	type plain Outcome
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	switch p.Decision {
	case DecisionRelease, DecisionRefund, DecisionSplit:
	default:
		return fmt.Errorf("dispute: unknown decision %q", p.Decision)
	}
	*o = Outcome(p)
	return nil
}
