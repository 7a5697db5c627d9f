package ledger

import (
	"github.com/holiman/uint256"
)

// Account is the per-depositor ledger record.
//
// RewardDebt/CommissionDebt are the accumulator checkpoints of the last
// settlement. Qualified is the tier status the account's shares are currently
// counted under; it only changes through settlement, so pending accumulator
// deltas are always attributed under the status in force when the funds
// arrived.
type Account struct {
	Shares    uint64
	Qualified bool

	RewardAccrued   uint256.Int
	RewardPending   uint256.Int
	RewardWithdrawn uint256.Int
	RewardDebt      uint256.Int
	CommissionDebt  uint256.Int

	BonusAccrued   uint256.Int
	BonusPending   uint256.Int
	BonusWithdrawn uint256.Int
}

// IsEmpty returns whether the account has never been touched.
func (a *Account) IsEmpty() bool {
	return a.Shares == 0 && !a.Qualified &&
		a.RewardAccrued.IsZero() && a.RewardWithdrawn.IsZero() &&
		a.BonusAccrued.IsZero() && a.BonusWithdrawn.IsZero()
}

// FeeLedger is the protocol-wide commission ledger.
type FeeLedger struct {
	Accrued   uint256.Int
	Pending   uint256.Int
	Withdrawn uint256.Int
}
