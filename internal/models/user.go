package models

import (
	"time"

	"gorm.io/gorm"
)

// Role is the department a staff account works in.
type Role string

const (
	RoleMaster   Role = "Master"
	RoleOP       Role = "OP"
	RoleDoctor   Role = "Doctor"
	RolePharmacy Role = "Pharmacy"
	RoleLab      Role = "Lab"
	RoleOffice   Role = "Office"
)

// StaffRoles are the roles a Master may assign. Master accounts are only
// created by the seed command.
var StaffRoles = []Role{RoleDoctor, RoleOP, RolePharmacy, RoleLab, RoleOffice}

// User is one staff login.
type User struct {
	ID             uint64         `gorm:"primaryKey" json:"id"`
	Username       string         `gorm:"uniqueIndex;size:50;not null" json:"username"`
	Email          string         `gorm:"uniqueIndex;size:100;not null" json:"email"`
	Mobile         string         `gorm:"size:10" json:"mobile"`
	Role           Role           `gorm:"size:20;not null;index" json:"role"`
	PasswordHash   string         `gorm:"not null" json:"-"`
	ResetToken     *string        `gorm:"size:64;index" json:"-"` // sha256 hex of the emailed token
	ResetExpires   *time.Time     `json:"-"`
	SessionVersion uint           `gorm:"not null;default:0" json:"-"` // bumped on password change
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// RevokedToken blocks a JWT after logout until it would have expired anyway.
type RevokedToken struct {
	JTI       string    `gorm:"primaryKey;size:36" json:"jti"`
	UserID    uint64    `gorm:"index" json:"user_id"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// LoginInput is the staff login form.
type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type ForgotPasswordInput struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordInput struct {
	Password string `json:"password" binding:"required,min=6"`
}

// CreateStaffInput is posted by a Master to add a department account.
type CreateStaffInput struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Mobile   string `json:"mobile" binding:"omitempty,phone10"`
	Role     Role   `json:"role" binding:"required,staffrole"`
	Password string `json:"password" binding:"required,min=6"`
}

// UpdateStaffInput leaves the password untouched when it is empty.
type UpdateStaffInput struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Mobile   string `json:"mobile" binding:"omitempty,phone10"`
	Role     Role   `json:"role" binding:"required,staffrole"`
	Password string `json:"password" binding:"omitempty,min=6"`
}
