package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPairKeyCanonicalOrder(t *testing.T) {
	ab := NewPairKey("flow-a", "flow-b")
	ba := NewPairKey("flow-b", "flow-a")

	assert.Equal(t, ab, ba)
	assert.Equal(t, "flow-a", ab.Low)
	assert.Equal(t, "flow-b", ab.High)
	assert.Equal(t, "flow-a|flow-b", ab.String())
}

func TestCampaignStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to CampaignStatus
		allowed  bool
	}{
		{CampaignStatusActive, CampaignStatusMonitoring, true},
		{CampaignStatusActive, CampaignStatusResolved, true},
		{CampaignStatusActive, CampaignStatusArchived, true},
		{CampaignStatusMonitoring, CampaignStatusActive, true},
		{CampaignStatusMonitoring, CampaignStatusResolved, true},
		{CampaignStatusResolved, CampaignStatusArchived, true},
		{CampaignStatusResolved, CampaignStatusActive, false},
		{CampaignStatusArchived, CampaignStatusActive, false},
		{CampaignStatusArchived, CampaignStatusResolved, false},
		{CampaignStatusActive, CampaignStatusActive, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestScoringWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultScoringWeights().Validate())

	bad := ScoringWeights{IOCMatch: 0.6, TTPMatch: 0.2, Temporal: 0.2, Infrastructure: 0.2}
	var validation *ValidationError
	require.ErrorAs(t, bad.Validate(), &validation)

	// A tiny float drift must still validate.
	drift := ScoringWeights{IOCMatch: 0.3, TTPMatch: 0.3, Temporal: 0.3, Infrastructure: 0.1}
	assert.NoError(t, drift.Validate())
}

func TestIOCTypeWeights(t *testing.T) {
	assert.Greater(t, IOCTypeHash.TypeWeight(), IOCTypeIP.TypeWeight(),
		"hashes are more specific than IPs")
	assert.True(t, IOCTypeIP.IsInfrastructure())
	assert.True(t, IOCTypeDomain.IsInfrastructure())
	assert.False(t, IOCTypeHash.IsInfrastructure())
	assert.True(t, IOCTypeHash.Valid())
	assert.False(t, IOCType("bitcoin_address").Valid())
}

func TestErrorUnwrapping(t *testing.T) {
	inner := &ValidationError{Field: "ioc.type", Reason: "unsupported"}
	comp := &ComputationError{FlowID: "flow-a", Err: inner}

	var validation *ValidationError
	require.ErrorAs(t, comp, &validation)
	assert.Equal(t, "ioc.type", validation.Field)

	persistence := &PersistenceError{Op: "upsert", Err: errors.New("connection refused")}
	assert.Contains(t, persistence.Error(), "upsert")
}
