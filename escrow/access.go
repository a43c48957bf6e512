package escrow

// Capability checks over an escrow. Each predicate fails with its own error
// kind so callers can tell "wrong role" apart from "not a party at all".

func IsDepositor(e *Escrow, caller string) error {
	if e.Depositor != caller {
		return ErrNotAuthorized
	}
	return nil
}

func IsBeneficiary(e *Escrow, caller string) error {
	if e.Beneficiary != caller {
		return ErrNotAuthorized
	}
	return nil
}

func IsArbiter(e *Escrow, caller string) error {
	if e.Arbiter != caller {
		return ErrNotAuthorized
	}
	return nil
}

// IsParty accepts any of the three roles.
func IsParty(e *Escrow, caller string) error {
	if caller != e.Depositor && caller != e.Beneficiary && caller != e.Arbiter {
		return ErrInvalidSigner
	}
	return nil
}

// IsPrimaryParty accepts the depositor or beneficiary. The arbiter is excluded
// so it cannot open a dispute it would then decide.
func IsPrimaryParty(e *Escrow, caller string) error {
	if caller != e.Depositor && caller != e.Beneficiary {
		return ErrNotAuthorized
	}
	return nil
}

// RoleOf returns caller's role, or ErrInvalidSigner.
func RoleOf(e *Escrow, caller string) (Role, error) {
	switch caller {
	case e.Depositor:
		return RoleDepositor, nil
	case e.Beneficiary:
		return RoleBeneficiary, nil
	case e.Arbiter:
		return RoleArbiter, nil
	default:
		return "", ErrInvalidSigner
	}
}
