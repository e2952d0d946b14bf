package mfa

import (
	"encoding/base64"
	"strings"

	apperrors "github.com/jrsteele09/neuroscan-portal/internal/errors"
)

// NormalizeQRCode turns the provider's QR payload into an image data URL. Data URLs
// pass through unchanged; anything else is treated as SVG markup.
func NormalizeQRCode(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperrors.ErrQRCodeUnavailable
	}
	if strings.HasPrefix(raw, "data:") {
		return raw, nil
	}
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(raw)), nil
}
