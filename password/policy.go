package password

import (
	"errors"
	"unicode"
)

var (
	ErrPolicyTooShort     = errors.New("password too short")
	ErrPolicyTooLong      = errors.New("password too long")
	ErrPolicyMissingUpper = errors.New("password needs an uppercase letter")
	ErrPolicyMissingLower = errors.New("password needs a lowercase letter")
	ErrPolicyMissingDigit = errors.New("password needs a digit")
	ErrPolicySpecial      = errors.New("password needs a special character")
)

// Policy is the credential strength rule shared by signup and reset.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		MaxLength:      128,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// Check returns the first rule the candidate breaks, or nil. Length counts
// runes.
func (p Policy) Check(candidate string) error {
	n := 0
	var upper, lower, digit, special bool
	for _, r := range candidate {
		n++
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			special = true
		}
	}

	switch {
	case n < p.MinLength:
		return ErrPolicyTooShort
	case p.MaxLength > 0 && n > p.MaxLength:
		return ErrPolicyTooLong
	case p.RequireUpper && !upper:
		return ErrPolicyMissingUpper
	case p.RequireLower && !lower:
		return ErrPolicyMissingLower
	case p.RequireDigit && !digit:
		return ErrPolicyMissingDigit
	case p.RequireSpecial && !special:
		return ErrPolicySpecial
	}
	return nil
}
