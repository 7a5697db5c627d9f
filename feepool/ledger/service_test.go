package ledger_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxpool/feepool/feepool/ledger"
	"github.com/dxpool/feepool/fp"
	"github.com/dxpool/feepool/lvldb"
	"github.com/dxpool/feepool/slot"
	"github.com/dxpool/feepool/state"
)

// 0.01 native-currency units in the smallest unit.
var oneCent = uint256.NewInt(10_000_000_000_000_000)

func newTestService(t *testing.T) *ledger.Service {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	sctx := slot.NewContext(fp.BytesToAddress([]byte("pool")), state.New(db))
	return ledger.New(sctx)
}

func addr(name string) fp.Address {
	return fp.BytesToAddress([]byte(name))
}

func TestDistributeWithoutShares(t *testing.T) {
	svc := newTestService(t)

	distributed, err := svc.Distribute(oneCent, 2000)
	require.NoError(t, err)
	assert.False(t, distributed)

	accrued, pending, _, err := svc.FeeInfo()
	require.NoError(t, err)
	assert.True(t, accrued.IsZero())
	assert.True(t, pending.IsZero())
}

func TestDistributeSingleDepositor(t *testing.T) {
	svc := newTestService(t)
	d := addr("d1")

	require.NoError(t, svc.AddShare(d, false))

	distributed, err := svc.Distribute(oneCent, 2000)
	require.NoError(t, err)
	assert.True(t, distributed)

	// 80% of the deposit is the depositor's net reward
	accrued, pending, withdrawn, err := svc.RewardInfo(d)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(8_000_000_000_000_000), pending)
	assert.Equal(t, accrued, pending)
	assert.True(t, withdrawn.IsZero())

	// the commission of a non-qualified depositor is the protocol's,
	// readable without settling anyone
	feeAccrued, feePending, feeWithdrawn, err := svc.FeeInfo()
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2_000_000_000_000_000), feePending)
	assert.Equal(t, feeAccrued, feePending)
	assert.True(t, feeWithdrawn.IsZero())

	// no bonus accrues without tier qualification
	bonusPending, _, err := svc.BonusInfo(d)
	require.NoError(t, err)
	assert.True(t, bonusPending.IsZero())
}

func TestDistributeQualifiedDepositor(t *testing.T) {
	svc := newTestService(t)
	d := addr("d1")

	require.NoError(t, svc.AddShare(d, true))

	_, err := svc.Distribute(oneCent, 2000)
	require.NoError(t, err)

	// commission is redirected to the depositor's bonus
	bonusPending, bonusWithdrawn, err := svc.BonusInfo(d)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2_000_000_000_000_000), bonusPending)
	assert.True(t, bonusWithdrawn.IsZero())

	// the protocol ledger stays empty
	_, feePending, _, err := svc.FeeInfo()
	require.NoError(t, err)
	assert.True(t, feePending.IsZero())

	// net reward is unaffected by qualification
	_, pending, _, err := svc.RewardInfo(d)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(8_000_000_000_000_000), pending)
}

func TestDistributeTwoDepositors(t *testing.T) {
	svc := newTestService(t)
	d1, d2 := addr("d1"), addr("d2")

	require.NoError(t, svc.AddShare(d1, false))
	require.NoError(t, svc.AddShare(d2, false))

	_, err := svc.Distribute(oneCent, 2000)
	require.NoError(t, err)

	half := uint256.NewInt(4_000_000_000_000_000)
	for _, d := range []fp.Address{d1, d2} {
		_, pending, _, err := svc.RewardInfo(d)
		require.NoError(t, err)
		assert.Equal(t, half, pending)
	}

	_, feePending, _, err := svc.FeeInfo()
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2_000_000_000_000_000), feePending)
}

func TestSettleBeforeShareChange(t *testing.T) {
	svc := newTestService(t)
	d := addr("d1")

	require.NoError(t, svc.AddShare(d, false))
	_, err := svc.Distribute(oneCent, 2000)
	require.NoError(t, err)

	// adding a share settles first; the earlier deposit stays attributed
	// to the single-share period
	require.NoError(t, svc.AddShare(d, false))
	_, err = svc.Distribute(oneCent, 2000)
	require.NoError(t, err)

	_, pending, _, err := svc.RewardInfo(d)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(16_000_000_000_000_000), pending)

	total, err := svc.TotalShares()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), total)
}

func TestQualificationFlipsAtSettlement(t *testing.T) {
	svc := newTestService(t)
	d := addr("d1")

	require.NoError(t, svc.AddShare(d, false))
	_, err := svc.Distribute(oneCent, 2000)
	require.NoError(t, err)

	// the first deposit arrived while d was unqualified; flipping the
	// status now must not reclassify it
	_, err = svc.Settle(d, true)
	require.NoError(t, err)

	bonusPending, _, err := svc.BonusInfo(d)
	require.NoError(t, err)
	assert.True(t, bonusPending.IsZero())
	_, feePending, _, err := svc.FeeInfo()
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2_000_000_000_000_000), feePending)

	// deposits after the flip go to the bonus
	_, err = svc.Distribute(oneCent, 2000)
	require.NoError(t, err)

	bonusPending, _, err = svc.BonusInfo(d)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2_000_000_000_000_000), bonusPending)
	_, feePending, _, err = svc.FeeInfo()
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2_000_000_000_000_000), feePending)

	qualified, err := svc.QualifiedShares()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), qualified)
}

func TestAccruedEqualsPendingPlusWithdrawn(t *testing.T) {
	svc := newTestService(t)
	d := addr("d1")

	require.NoError(t, svc.AddShare(d, true))
	_, err := svc.Distribute(oneCent, 2000)
	require.NoError(t, err)
	_, err = svc.Distribute(uint256.NewInt(12345678901), 2000)
	require.NoError(t, err)

	claimed, err := svc.WithdrawReward(d, true, uint256.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1_000_000), claimed)

	accrued, pending, withdrawn, err := svc.RewardInfo(d)
	require.NoError(t, err)
	sum := new(uint256.Int).Add(pending, withdrawn)
	assert.Equal(t, accrued, sum)
}

func TestConservation(t *testing.T) {
	svc := newTestService(t)
	d1, d2, d3 := addr("d1"), addr("d2"), addr("d3")

	require.NoError(t, svc.AddShare(d1, false))
	require.NoError(t, svc.AddShare(d2, true))
	require.NoError(t, svc.AddShare(d3, false))
	require.NoError(t, svc.AddShare(d3, false))

	deposited := uint256.NewInt(0)
	for _, amount := range []uint64{10_000_000_000_000_000, 333_333_333, 1, 999_999_999_999} {
		_, err := svc.Distribute(uint256.NewInt(amount), 2000)
		require.NoError(t, err)
		deposited.Add(deposited, uint256.NewInt(amount))
	}

	total := uint256.NewInt(0)
	for _, d := range []fp.Address{d1, d2, d3} {
		accrued, _, _, err := svc.RewardInfo(d)
		require.NoError(t, err)
		total.Add(total, accrued)
		bonusPending, bonusWithdrawn, err := svc.BonusInfo(d)
		require.NoError(t, err)
		total.Add(total, bonusPending)
		total.Add(total, bonusWithdrawn)
	}
	feeAccrued, _, _, err := svc.FeeInfo()
	require.NoError(t, err)
	total.Add(total, feeAccrued)

	// distributed funds never exceed deposits, and integer-division dust
	// is bounded per deposit event
	assert.True(t, total.Cmp(deposited) <= 0)
	dustBound := uint256.NewInt(4 * 2 * 4) // shares * rounding points * deposits
	diff := new(uint256.Int).Sub(deposited, total)
	assert.True(t, diff.Cmp(dustBound) <= 0, "dust %s exceeds bound", diff.Dec())
}

func TestClaimFee(t *testing.T) {
	svc := newTestService(t)
	d := addr("d1")

	require.NoError(t, svc.AddShare(d, false))
	_, err := svc.Distribute(oneCent, 2000)
	require.NoError(t, err)

	// partial claim
	claimed, err := svc.ClaimFee(uint256.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(500), claimed)

	// zero claims everything left
	claimed, err = svc.ClaimFee(uint256.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2_000_000_000_000_000-500), claimed)

	accrued, pending, withdrawn, err := svc.FeeInfo()
	require.NoError(t, err)
	assert.True(t, pending.IsZero())
	assert.Equal(t, accrued, withdrawn)

	// claiming from an empty ledger claims nothing
	claimed, err = svc.ClaimFee(uint256.NewInt(0))
	require.NoError(t, err)
	assert.True(t, claimed.IsZero())
}

func TestWithdrawBonus(t *testing.T) {
	svc := newTestService(t)
	d := addr("d1")

	require.NoError(t, svc.AddShare(d, true))
	_, err := svc.Distribute(oneCent, 2000)
	require.NoError(t, err)

	claimed, err := svc.WithdrawBonus(d, true, uint256.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2_000_000_000_000_000), claimed)

	bonusPending, bonusWithdrawn, err := svc.BonusInfo(d)
	require.NoError(t, err)
	assert.True(t, bonusPending.IsZero())
	assert.Equal(t, claimed, bonusWithdrawn)
}

func TestDrainPending(t *testing.T) {
	svc := newTestService(t)
	d := addr("d1")

	require.NoError(t, svc.AddShare(d, false))
	_, err := svc.Distribute(oneCent, 2000)
	require.NoError(t, err)

	drained, err := svc.DrainPending(d, false)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(8_000_000_000_000_000), drained)

	accrued, pending, withdrawn, err := svc.RewardInfo(d)
	require.NoError(t, err)
	assert.True(t, pending.IsZero())
	assert.Equal(t, accrued, withdrawn)
}

func TestSubShare(t *testing.T) {
	svc := newTestService(t)
	d := addr("d1")

	require.NoError(t, svc.AddShare(d, false))
	_, err := svc.Distribute(oneCent, 2000)
	require.NoError(t, err)
	require.NoError(t, svc.SubShare(d, false))

	total, err := svc.TotalShares()
	require.NoError(t, err)
	assert.Zero(t, total)

	// the settled reward survives the share removal
	_, pending, _, err := svc.RewardInfo(d)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(8_000_000_000_000_000), pending)
}

func TestEmptyAccountTakesNoStorage(t *testing.T) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	st := state.New(db)
	pool := fp.BytesToAddress([]byte("pool"))
	svc := ledger.New(slot.NewContext(pool, st))

	d := addr("d1")
	pos := fp.Blake2b(d.Bytes(), fp.BytesToBytes32([]byte("ledger-accounts")).Bytes())

	// settling an account with no history must not materialize a record
	_, err = svc.Settle(d, false)
	require.NoError(t, err)
	raw, err := st.GetRawStorage(pool, pos)
	require.NoError(t, err)
	assert.Empty(t, raw)

	// a share materializes the record, a full unwind releases it again
	require.NoError(t, svc.AddShare(d, false))
	raw, err = st.GetRawStorage(pool, pos)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	require.NoError(t, svc.SubShare(d, false))
	raw, err = st.GetRawStorage(pool, pos)
	require.NoError(t, err)
	assert.Empty(t, raw)
}
