package model

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleCarrier  Role = "carrier"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleCarrier, RoleAdmin:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	// StatusPending marks a carrier account waiting for admin approval.
	StatusPending Status = "pending"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusPending:
		return true
	}
	return false
}

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Status       Status     `json:"status"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Public strips everything but the fields a client may see.
func (u User) Public() AuthUser {
	return AuthUser{ID: u.ID, Email: u.Email, Role: u.Role, Status: u.Status}
}

type UserProfile struct {
	UserID      string `json:"-"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Phone       string `json:"phone"`
	CompanyName string `json:"companyName"`
	Address     string `json:"address"`
	City        string `json:"city"`
	Province    string `json:"province"`
}

type CarrierProfile struct {
	UserID          string    `json:"-"`
	CompanyName     string    `json:"companyName"`
	BusinessLicense string    `json:"businessLicense"`
	CreatedAt       time.Time `json:"createdAt"`
}

type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Usable reports whether the stored record still authorizes a refresh at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}

// Registration is everything persisted atomically when an account is created.
type Registration struct {
	User         User
	Profile      UserProfile
	Carrier      *CarrierProfile
	RefreshToken RefreshToken
}

type AuthClaims struct {
	UserID  string `json:"sub"`
	Email   string `json:"email"`
	Role    Role   `json:"role"`
	Type    string `json:"typ"`
	TokenID string `json:"jti"`
}

type AuthUser struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Status Status `json:"status"`
}

type AuthUserList struct {
	Users []AuthUser `json:"users"`
}

type AuthResult struct {
	User         AuthUser `json:"user"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	TokenType    string   `json:"tokenType"`
	ExpiresIn    int64    `json:"expiresIn"`
}

type RefreshResult struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type AccountInfo struct {
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
}

type Account struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	Role        Role            `json:"role"`
	Status      Status          `json:"status"`
	Profile     UserProfile     `json:"profile"`
	Carrier     *CarrierProfile `json:"carrier,omitempty"`
	AccountInfo AccountInfo     `json:"accountInfo"`
}
