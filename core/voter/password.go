package voter

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/openchoicepolls/backend/core"
)

// Policy for manually chosen passwords. Generated credentials (enrollment
// codes and enrollment passwords) never pass through here.
var (
	pwdMinLen = 8
	pwdMaxSim = .7

	pwdMinLenText  = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)
	pwdNoSpaceText = "password must not contain whitespace"
	pwdAllNumText  = "password cannot be entirely numeric"
	pwdTooSimText  = "password cannot be similar to voter attributes"
)

// ValidatePassword checks a manually set password against the policy:
// minimum length, no whitespace, not entirely numeric and not similar to the
// voter's username or email.
func ValidatePassword(pwd string, v Voter) error {
	pwdErr := func(text string) error {
		return core.NewValidationError(nil, core.FieldError{Field: "password", Error: text})
	}

	if len(pwd) < pwdMinLen {
		return pwdErr(pwdMinLenText)
	}
	allNum := true
	for _, r := range pwd {
		if unicode.IsSpace(r) {
			return pwdErr(pwdNoSpaceText)
		}
		if !unicode.IsDigit(r) {
			allNum = false
		}
	}
	if allNum {
		return pwdErr(pwdAllNumText)
	}

	getRatio := func(pass, attr string) float64 {
		if attr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(pass, ""), strings.Split(attr, "")).QuickRatio()
	}
	lpwd := strings.ToLower(pwd)
	if getRatio(lpwd, strings.ToLower(v.Username)) >= pwdMaxSim ||
		getRatio(lpwd, strings.ToLower(v.Email)) >= pwdMaxSim {
		return pwdErr(pwdTooSimText)
	}
	return nil
}
