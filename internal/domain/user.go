package domain

import "time"

type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
)

// AdminUser is the tenant boundary. DeviceLimit is meaningful only for
// ADMIN; zero means no capacity, and only SUPER_ADMIN is unlimited.
type AdminUser struct {
	ID          string    `json:"id"`
	Username    string    `json:"username" validate:"required,min=3,max=30,alphanum"`
	Email       string    `json:"email" validate:"required,email"`
	Password    string    `json:"password,omitempty"` // Save to DB but omit from responses when empty
	Role        Role      `json:"role"`
	DeviceLimit int       `json:"deviceLimit"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (u *AdminUser) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}

// CanAccess reports whether the admin may act on records owned by dealerID.
func (u *AdminUser) CanAccess(dealerID string) bool {
	return u.IsSuperAdmin() || u.ID == dealerID
}

type CreateAdminRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=30,alphanum"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	Role        Role   `json:"role" validate:"omitempty,oneof=SUPER_ADMIN ADMIN"`
	DeviceLimit int    `json:"deviceLimit" validate:"min=0"`
}

type UpdateLimitRequest struct {
	DeviceLimit *int `json:"deviceLimit" validate:"required,min=0"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	User         *AdminUser `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresIn    int64      `json:"expiresIn"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// Usage is the quota snapshot taken before a device-creating mutation.
type Usage struct {
	Current   int  `json:"current"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}
