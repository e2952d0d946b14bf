package mfa

import (
	"context"
	"fmt"

	"github.com/jrsteele09/neuroscan-portal/baas"
	"github.com/rs/zerolog/log"
)

// FailurePolicy decides what a failed status check reports.
type FailurePolicy int

const (
	// FailOpen reports that MFA is not required. A transient provider error then
	// cannot lock a user out with no visible way forward.
	FailOpen FailurePolicy = iota
	FailClosed
)

// StatusCheckFailurePolicy is the policy Checker applies.
const StatusCheckFailurePolicy = FailOpen

type Status struct {
	RequiresMFA    bool
	HasMFAEnrolled bool
	CurrentLevel   baas.AssuranceLevel
	NextLevel      baas.AssuranceLevel
	Factors        *baas.Factors
}

// Checker derives the step-up requirement for the current session.
type Checker struct {
	provider baas.MFAClient
	policy   FailurePolicy
}

func NewChecker(provider baas.MFAClient) *Checker {
	return &Checker{
		provider: provider,
		policy:   StatusCheckFailurePolicy,
	}
}

// Check queries the assurance level and the factor list. A user without a TOTP factor,
// or whose session is below aal2, requires MFA. On error the failure policy's default is
// returned together with the error.
func (c *Checker) Check(ctx context.Context) (Status, error) {
	levels, err := c.provider.AuthenticatorAssuranceLevel(ctx)
	if err != nil {
		return c.failed("assurance level", err)
	}
	factors, err := c.provider.ListFactors(ctx)
	if err != nil {
		return c.failed("list factors", err)
	}

	hasEnrolled := len(factors.TOTP) > 0
	return Status{
		RequiresMFA:    !hasEnrolled || levels.Current != baas.AAL2,
		HasMFAEnrolled: hasEnrolled,
		CurrentLevel:   levels.Current,
		NextLevel:      levels.Next,
		Factors:        factors,
	}, nil
}

func (c *Checker) failed(step string, err error) (Status, error) {
	log.Err(err).Str("component", "mfa").Str("step", step).Msg("MFA status check failed")
	return Status{RequiresMFA: c.policy == FailClosed}, fmt.Errorf("[mfa Check] %s: %w", step, err)
}
