package mfa_test

import (
	"encoding/base64"
	"strings"
	"testing"

	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
	"github.com/jrsteele09/neuroscan-portal/mfa"
	"github.com/stretchr/testify/require"
)

func TestSanitizeCode(t *testing.T) {
	require.Equal(t, "123456", mfa.SanitizeCode("12a3 45-678"))
	require.Equal(t, "42", mfa.SanitizeCode("4x2"))
	require.Equal(t, "", mfa.SanitizeCode("abc"))
	require.Equal(t, "", mfa.SanitizeCode("١٢٣٤٥٦"))
}

func TestValidateCode(t *testing.T) {
	require.NoError(t, mfa.ValidateCode("000000"))
	require.NoError(t, mfa.ValidateCode("123456"))

	for _, code := range []string{"", "12345", "1234567", "12345a", " 12345", "١٢٣٤٥٦"} {
		require.ErrorIs(t, mfa.ValidateCode(code), apperrors.ErrInvalidCode, "code %q", code)
	}
}

func TestNormalizeQRCode(t *testing.T) {
	t.Run("data url is kept", func(t *testing.T) {
		in := "data:image/png;base64,iVBORw0KGgo="
		out, err := mfa.NormalizeQRCode(in)
		require.NoError(t, err)
		require.Equal(t, in, out)
	})

	t.Run("svg markup is wrapped", func(t *testing.T) {
		svg := `<svg xmlns="http://www.w3.org/2000/svg">é</svg>`
		out, err := mfa.NormalizeQRCode(svg)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(out, "data:image/svg+xml;base64,"))

		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(out, "data:image/svg+xml;base64,"))
		require.NoError(t, err)
		require.Equal(t, svg, string(decoded))
	})

	t.Run("empty payload", func(t *testing.T) {
		_, err := mfa.NormalizeQRCode("  ")
		require.ErrorIs(t, err, apperrors.ErrQRCodeUnavailable)
	})
}
