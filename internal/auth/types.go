package auth

import "time"

// User is an account row. The password hash never leaves the process.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	IsAdmin      bool       `json:"is_admin"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login"`
}

// RevokedToken is a token_blacklist row.
type RevokedToken struct {
	JTI       string
	UserID    int64
	ExpiresAt time.Time
	RevokedAt time.Time
}

// TokenInfo holds the verified claims of a bearer token.
type TokenInfo struct {
	ID        string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity is the authenticated caller: the loaded user plus the claims of the
// token that authenticated it.
type Identity struct {
	User  User
	Token TokenInfo
}

// Registration is the input of Service.Register.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Flags holds optional admin toggles. Nil fields are left unchanged.
type Flags struct {
	IsActive *bool `json:"is_active"`
	IsAdmin  *bool `json:"is_admin"`
}
