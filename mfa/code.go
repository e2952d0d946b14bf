package mfa

import (
	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
)

// CodeLength is the number of digits in a TOTP code.
const CodeLength = 6

// SanitizeCode keeps only ASCII digits and truncates to CodeLength, the way the code
// input field does.
func SanitizeCode(input string) string {
	out := make([]byte, 0, CodeLength)
	for i := 0; i < len(input) && len(out) < CodeLength; i++ {
		if input[i] >= '0' && input[i] <= '9' {
			out = append(out, input[i])
		}
	}
	return string(out)
}

// ValidateCode accepts exactly CodeLength ASCII digits.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return apperrors.ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return apperrors.ErrInvalidCode
		}
	}
	return nil
}
