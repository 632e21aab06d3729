package domain

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnknownRole = errors.New("unknown role")

// Role: типизированная роль. Единственный источник: подписанный claim.
type Role int

const (
	RoleUnknown Role = iota
	RoleStudent
	RoleGuardian
	RoleTeacher
	RoleAdmin
	RoleOwner
)

var roleNames = map[Role]string{
	RoleUnknown:  "unknown",
	RoleStudent:  "student",
	RoleGuardian: "guardian",
	RoleTeacher:  "teacher",
	RoleAdmin:    "admin",
	RoleOwner:    "owner",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return "unknown"
}

// ParseRole разбирает строку из claim. Неизвестная роль: ошибка, не дефолт.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, n := range roleNames {
		if r != RoleUnknown && n == s {
			return r, nil
		}
	}
	return RoleUnknown, ErrUnknownRole
}

// CustomClaims: payload RS256 токена
type CustomClaims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Principal: проверенная личность вызывающего
type Principal struct {
	UserID   string
	TenantID string
	Role     Role
}

// PrincipalFromClaims единственная точка превращения claims в роль
func PrincipalFromClaims(c *CustomClaims) (Principal, error) {
	if c == nil {
		return Principal{}, errors.New("claims are nil")
	}
	if c.Subject == "" || c.TenantID == "" {
		return Principal{}, errors.New("claims: sub and tenant_id are required")
	}
	role, err := ParseRole(c.Role)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: c.Subject, TenantID: c.TenantID, Role: role}, nil
}
