package model

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required,min=8,maxbytes=72"`
	Role            string `json:"role" validate:"omitempty,oneof=customer carrier"`
	FirstName       string `json:"firstName" validate:"max=100"`
	LastName        string `json:"lastName" validate:"max=100"`
	Phone           string `json:"phone" validate:"omitempty,max=30"`
	CompanyName     string `json:"companyName" validate:"required_if=Role carrier,max=255"`
	BusinessLicense string `json:"businessLicense" validate:"max=100"`
	Address         string `json:"address" validate:"max=255"`
	City            string `json:"city" validate:"max=100"`
	Province        string `json:"province" validate:"max=100"`
}

// Input converts the wire payload into the service's registration input.
func (r RegisterRequest) Input() RegisterInput {
	return RegisterInput{
		Email:           r.Email,
		Password:        r.Password,
		Role:            Role(r.Role),
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		Phone:           r.Phone,
		CompanyName:     r.CompanyName,
		BusinessLicense: r.BusinessLicense,
		Address:         r.Address,
		City:            r.City,
		Province:        r.Province,
	}
}

type RegisterInput struct {
	Email           string
	Password        string
	Role            Role
	FirstName       string
	LastName        string
	Phone           string
	CompanyName     string
	BusinessLicense string
	Address         string
	City            string
	Province        string
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive suspended pending"`
}
