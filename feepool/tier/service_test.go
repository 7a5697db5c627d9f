package tier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxpool/feepool/feepool/tier"
	"github.com/dxpool/feepool/fp"
	"github.com/dxpool/feepool/lvldb"
	"github.com/dxpool/feepool/slot"
	"github.com/dxpool/feepool/state"
)

type levelMap map[fp.Address]uint8

func (m levelMap) HighestTierLevel(addr fp.Address) (uint8, error) {
	return m[addr], nil
}

func newTestService(t *testing.T) *tier.Service {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	sctx := slot.NewContext(fp.BytesToAddress([]byte("pool")), state.New(db))
	return tier.New(sctx)
}

func TestQualified(t *testing.T) {
	svc := newTestService(t)
	holder := fp.BytesToAddress([]byte("holder"))
	nobody := fp.BytesToAddress([]byte("nobody"))

	// without a source nobody qualifies
	q, err := svc.Qualified(holder)
	require.NoError(t, err)
	assert.False(t, q)

	svc.SetSource(levelMap{holder: 2})

	q, err = svc.Qualified(holder)
	require.NoError(t, err)
	assert.True(t, q)

	q, err = svc.Qualified(nobody)
	require.NoError(t, err)
	assert.False(t, q)
}

func TestEligibleForLevel(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.SetThresholds([]uint64{1, 5, 20}))

	tests := []struct {
		shares   uint64
		level    uint8
		eligible bool
	}{
		{0, 1, false},
		{1, 1, true},
		{4, 2, false},
		{5, 2, true},
		{19, 3, false},
		{20, 3, true},
		{100, 4, false}, // no such level
		{100, 0, false}, // level zero is never eligible
	}
	for _, tt := range tests {
		eligible, err := svc.EligibleForLevel(tt.shares, tt.level)
		require.NoError(t, err)
		assert.Equal(t, tt.eligible, eligible, "shares=%d level=%d", tt.shares, tt.level)
	}
}

func TestSetThresholdsReplacesWholesale(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.SetThresholds([]uint64{1, 5, 20}))
	require.NoError(t, svc.SetThresholds([]uint64{3, 30}))

	thresholds, err := svc.Thresholds()
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 30}, thresholds)

	eligible, err := svc.EligibleForLevel(25, 3)
	require.NoError(t, err)
	assert.False(t, eligible)
}

func TestCredentialAddress(t *testing.T) {
	svc := newTestService(t)

	addr, err := svc.CredentialAddress()
	require.NoError(t, err)
	assert.True(t, addr.IsZero())

	cred := fp.BytesToAddress([]byte("credential"))
	svc.SetCredentialAddress(cred)
	addr, err = svc.CredentialAddress()
	require.NoError(t, err)
	assert.Equal(t, cred, addr)
}
