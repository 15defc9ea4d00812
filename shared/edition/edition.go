package edition

import "fmt"

// Edition is the deployment mode of the platform.
type Edition string

const (
	Cloud      Edition = "cloud"
	Community  Edition = "community"
	Enterprise Edition = "enterprise"
)

// Parse validates a raw edition string from configuration.
func Parse(raw string) (Edition, error) {
	switch Edition(raw) {
	case Cloud, Community, Enterprise:
		return Edition(raw), nil
	default:
		return "", fmt.Errorf("unknown edition %q", raw)
	}
}

// Policy captures the edition-dependent behavior as explicit switches so call
// sites never branch on the raw edition value. It is computed once at startup.
type Policy struct {
	edition Edition

	// OTPRequiredOnSignUp requires a new email identity to confirm a one-time
	// code before it is considered verified.
	OTPRequiredOnSignUp bool

	// AutoVerifyIdentity marks new email identities as verified immediately.
	AutoVerifyIdentity bool

	// EnforceEnterpriseTenantIsolation confines sessions of enterprise-plan
	// tenants on the multi-tenant cloud to their own platform.
	EnforceEnterpriseTenantIsolation bool
}

// NewPolicy derives the policy for one edition.
func NewPolicy(e Edition) Policy {
	return Policy{
		edition:                          e,
		OTPRequiredOnSignUp:              e == Cloud,
		AutoVerifyIdentity:               e == Community || e == Enterprise,
		EnforceEnterpriseTenantIsolation: e == Cloud,
	}
}

// Edition returns the raw edition, for wire payloads that carry it (the OAuth2
// relay protocol includes the edition in every request).
func (p Policy) Edition() Edition {
	return p.edition
}

// IsEnterpriseCustomerOnCloud reports whether a platform with the given plan
// is a paying enterprise tenant on the multi-tenant cloud.
func (p Policy) IsEnterpriseCustomerOnCloud(plan string) bool {
	return p.EnforceEnterpriseTenantIsolation && plan == "enterprise"
}
