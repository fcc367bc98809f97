package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the fixed privilege enumeration. DepartmentStaff is the lowest
// privilege and the default for new registrations.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleClerk           Role = "clerk"
	RoleExecutive       Role = "executive"
	RoleDepartmentStaff Role = "department_staff"
)

var Roles = []Role{RoleAdmin, RoleClerk, RoleExecutive, RoleDepartmentStaff}

func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// User mirrors the 'users' table. The persistent store owns the record; the
// cache only ever holds copies.
type User struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	FullName     string    `gorm:"column:full_name;not null" json:"full_name"`
	Username     string    `gorm:"column:username;uniqueIndex;not null" json:"username"`
	Email        *string   `gorm:"column:email;uniqueIndex" json:"email"`
	Phone        *string   `gorm:"column:phone;uniqueIndex" json:"phone"`
	PasswordHash string    `gorm:"column:password_hash;not null" json:"-"`
	Role         Role      `gorm:"column:role;not null" json:"role"`
	IsActive     bool      `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

var ErrNotFound = errors.New("user not found")

// Filter narrows listings by role and/or active status. Nil fields match
// everything.
type Filter struct {
	Role     *Role
	IsActive *bool
}

// Repository is the persistent-store collaborator. Implementations must
// return ErrNotFound for missing records so callers can distinguish absence
// from transport faults.
type Repository interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByPhone(ctx context.Context, phone string) (*User, error)
	FindAll(ctx context.Context, f Filter) ([]*User, error)
	Search(ctx context.Context, term string) ([]*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context, f Filter) (int64, error)
	CountByRole(ctx context.Context) (map[Role]int64, error)
}

// Cache key namespace. The prefixes are load-bearing: operational tooling
// deployed alongside this service sweeps and inspects them by name.
const (
	CachePrefix       = "users:"
	credentialsPrefix = "user_credentials:"
)

func CacheKeyByID(id int64) string { return fmt.Sprintf("%sid:%d", CachePrefix, id) }

func CacheKeyList(f Filter) string {
	role := "all"
	if f.Role != nil {
		role = string(*f.Role)
	}
	active := "all"
	if f.IsActive != nil {
		active = fmt.Sprintf("%t", *f.IsActive)
	}
	return fmt.Sprintf("%slist:%s:%s", CachePrefix, role, active)
}

func CacheKeySearch(term string) string {
	return CachePrefix + "search:" + strings.ToLower(strings.TrimSpace(term))
}

const CacheKeyStats = CachePrefix + "stats"

// CredentialsCacheKey names the login-path credential snapshot for a
// username.
func CredentialsCacheKey(username string) string { return credentialsPrefix + username }
