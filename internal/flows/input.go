package flows

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

const (
	maxEmailLength = 254
	maxNameLength  = 100
	dobLayout      = "2006-01-02"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

var (
	errFirstNameRequired = errors.New("first name is required")
	errLastNameRequired  = errors.New("last name is required")
	errNameTooLong       = errors.New("name is too long")
	errPhoneInvalid      = errors.New("phone must be 7 to 15 digits with an optional leading +")
	errDOBRequired       = errors.New("date of birth is required")
	errDOBFormat         = errors.New("date of birth must be YYYY-MM-DD")
	errDOBFuture         = errors.New("date of birth is in the future")
)

// ProfileFields are the user-supplied attributes stored in the profile.
type ProfileFields struct {
	FirstName string
	LastName  string
	Phone     string
	DOB       string
}

// NormalizeEmail trims and lower-cases an address so that lookups and
// record keys agree regardless of how the user typed it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail accepts a bare addr-spec with a dotted domain.
func ValidEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// ValidateProfile trims fields and checks them against signup rules. now
// bounds the date of birth.
func ValidateProfile(fields ProfileFields, now time.Time) (ProfileFields, error) {
	out := ProfileFields{
		FirstName: strings.TrimSpace(fields.FirstName),
		LastName:  strings.TrimSpace(fields.LastName),
		Phone:     strings.TrimSpace(fields.Phone),
		DOB:       strings.TrimSpace(fields.DOB),
	}

	if out.FirstName == "" {
		return out, errFirstNameRequired
	}
	if out.LastName == "" {
		return out, errLastNameRequired
	}
	if len(out.FirstName) > maxNameLength || len(out.LastName) > maxNameLength {
		return out, errNameTooLong
	}
	if out.Phone != "" && !phonePattern.MatchString(out.Phone) {
		return out, errPhoneInvalid
	}
	if out.DOB == "" {
		return out, errDOBRequired
	}
	dob, err := time.Parse(dobLayout, out.DOB)
	if err != nil {
		return out, errDOBFormat
	}
	if dob.After(now) {
		return out, errDOBFuture
	}

	return out, nil
}
