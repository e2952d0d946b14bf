package baas

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// accessClaims are the access-token claims the client reads. The provider has already
// verified the token, so no signature check happens here.
type accessClaims struct {
	Subject   string
	Level     AssuranceLevel
	Methods   []string
	ExpiresAt time.Time
}

func parseAccessToken(raw string) (*accessClaims, error) {
	token, _, err := jwtlib.NewParser().ParseUnverified(raw, jwtlib.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("[baas parseAccessToken] %w", err)
	}
	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, fmt.Errorf("[baas parseAccessToken] error extracting claims")
	}

	out := &accessClaims{}
	out.Subject, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if aal, ok := claims["aal"].(string); ok {
		out.Level = AssuranceLevel(aal)
	}
	if amr, ok := claims["amr"].([]any); ok {
		for _, entry := range amr {
			switch v := entry.(type) {
			case string:
				out.Methods = append(out.Methods, v)
			case map[string]any:
				if m, ok := v["method"].(string); ok {
					out.Methods = append(out.Methods, m)
				}
			}
		}
	}
	return out, nil
}
