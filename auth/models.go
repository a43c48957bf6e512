package auth

import "time"

type Role string

const (
	RoleTenant   Role = "tenant"
	RoleLandlord Role = "landlord"
	RoleAgent    Role = "agent"
	RoleArbiter  Role = "arbiter"
	RoleAdmin    Role = "admin"
)

// Account binds a ledger address to login credentials.
// It mirrors the accounts table and carries no JSON annotations so it can be
// reused by different presentation layers.
type Account struct {
	Address      string
	DisplayName  string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Address     string `json:"address"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// LoginRequest contains account login credentials.
type LoginRequest struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}
