package edition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, raw := range []string{"cloud", "community", "enterprise"} {
		parsed, err := Parse(raw)
		require.NoError(t, err)
		require.Equal(t, Edition(raw), parsed)
	}

	_, err := Parse("CLOUD")
	require.Error(t, err)
	_, err = Parse("")
	require.Error(t, err)
}

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		edition             Edition
		otpOnSignUp         bool
		autoVerify          bool
		enterpriseIsolation bool
	}{
		{Cloud, true, false, true},
		{Community, false, true, false},
		{Enterprise, false, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.edition), func(t *testing.T) {
			policy := NewPolicy(tt.edition)
			require.Equal(t, tt.edition, policy.Edition())
			require.Equal(t, tt.otpOnSignUp, policy.OTPRequiredOnSignUp)
			require.Equal(t, tt.autoVerify, policy.AutoVerifyIdentity)
			require.Equal(t, tt.enterpriseIsolation, policy.EnforceEnterpriseTenantIsolation)
		})
	}
}

func TestIsEnterpriseCustomerOnCloud(t *testing.T) {
	cloud := NewPolicy(Cloud)
	require.True(t, cloud.IsEnterpriseCustomerOnCloud("enterprise"))
	require.False(t, cloud.IsEnterpriseCustomerOnCloud("community"))
	require.False(t, cloud.IsEnterpriseCustomerOnCloud(""))

	// Self-hosted enterprise platforms are single tenant; isolation only
	// applies on the cloud.
	selfHosted := NewPolicy(Enterprise)
	require.False(t, selfHosted.IsEnterpriseCustomerOnCloud("enterprise"))
}
