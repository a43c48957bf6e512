package escrow

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ID is the fixed-size escrow key. Its text form is lowercase hex.
type ID [16]byte

// NewID returns a random escrow id.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID decodes the hex form produced by ID.String.
func ParseID(s string) (ID, error) {
	var id ID
	if len(s) != hex.EncodedLen(len(id)) {
		return ID{}, fmt.Errorf("escrow: invalid id %q", s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ID{}, fmt.Errorf("escrow: invalid id %q: %w", s, err)
	}
	return id, nil
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Role is a party's position in an escrow.
type Role string

const (
	RoleDepositor   Role = "depositor"
	RoleBeneficiary Role = "beneficiary"
	RoleArbiter     Role = "arbiter"
)

// Direction is the settlement a party votes for.
type Direction string

const (
	DirectionRelease Direction = "release"
	DirectionRefund  Direction = "refund"
)

// ApprovalThreshold is the number of distinct roles that must agree on a
// direction before funds move.
const ApprovalThreshold = 2

// Escrow holds a security deposit in custody until two of three parties, or
// the arbiter after a dispute, settle it.
type Escrow struct {
	ID            ID          `json:"id"`
	AgreementID   string      `json:"agreement_id,omitempty"`
	Depositor     string      `json:"depositor"`
	Beneficiary   string      `json:"beneficiary"`
	Arbiter       string      `json:"arbiter"`
	Amount        int64       `json:"amount"`
	Token         string      `json:"token"`
	Status        Status      `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	DisputeReason *string     `json:"dispute_reason,omitempty"`
	SettledAt     *time.Time  `json:"settled_at,omitempty"`
	Settlement    *Settlement `json:"settlement,omitempty"`
}

// Settlement records how custody was paid out.
type Settlement struct {
	ToBeneficiary int64 `json:"to_beneficiary"`
	ToDepositor   int64 `json:"to_depositor"`
}

// ReleaseApproval tracks each role's current vote. A role holds at most one
// vote; voting again replaces it.
type ReleaseApproval struct {
	Votes map[Role]Direction `json:"votes"`
}

// Record sets role's vote and returns how many roles now back dir.
func (r *ReleaseApproval) Record(role Role, dir Direction) int {
	if r.Votes == nil {
		r.Votes = make(map[Role]Direction, 3)
	}
	r.Votes[role] = dir
	return r.Count(dir)
}

// Count returns how many roles vote for dir.
func (r ReleaseApproval) Count(dir Direction) int {
	n := 0
	for _, d := range r.Votes {
		if d == dir {
			n++
		}
	}
	return n
}

// CreateParams describes a new escrow.
type CreateParams struct {
	AgreementID string
	Depositor   string
	Beneficiary string
	Arbiter     string
	Amount      int64
	Token       string
}
