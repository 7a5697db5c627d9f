package ledger

import (
	"github.com/holiman/uint256"

	"github.com/dxpool/feepool/feepool/reverts"
	"github.com/dxpool/feepool/fp"
	"github.com/dxpool/feepool/slot"
)

// RateDenominator is the commission rate domain, in basis points.
const RateDenominator = 10000

// precision scales the per-share accumulators so repeated integer division
// loses no more than negligible dust.
var precision = uint256.NewInt(1e18)

var (
	slotAccounts         = fp.BytesToBytes32([]byte("ledger-accounts"))
	slotAccReward        = fp.BytesToBytes32([]byte("acc-reward-per-share"))
	slotAccCommission    = fp.BytesToBytes32([]byte("acc-commission-per-share"))
	slotTotalShares      = fp.BytesToBytes32([]byte("total-active-shares"))
	slotQualifiedShares  = fp.BytesToBytes32([]byte("tier-qualified-shares"))
	slotCommissionLedger = fp.BytesToBytes32([]byte("protocol-commission-ledger"))
)

// Service is the pro-rata accumulator engine. Incoming funds raise two global
// per-share accumulators; per-account balances are settled lazily against
// checkpoint values, so a deposit never iterates accounts.
//
// The commission share of tier-qualified depositors flows through the
// accumulator into their personal bonus balance. The remainder is credited to
// the protocol ledger eagerly at distribution time, pro rata to the
// non-qualified share count, which keeps the protocol ledger readable without
// settling anyone.
type Service struct {
	accounts        *slot.Mapping[fp.Address, Account]
	accReward       *slot.Uint256
	accCommission   *slot.Uint256
	totalShares     *slot.Uint64
	qualifiedShares *slot.Uint64
	fee             *slot.Value[FeeLedger]
}

func New(sctx *slot.Context) *Service {
	return &Service{
		accounts:        slot.NewMapping[fp.Address, Account](sctx, slotAccounts),
		accReward:       slot.NewUint256(sctx, slotAccReward),
		accCommission:   slot.NewUint256(sctx, slotAccCommission),
		totalShares:     slot.NewUint64(sctx, slotTotalShares),
		qualifiedShares: slot.NewUint64(sctx, slotQualifiedShares),
		fee:             slot.NewValue[FeeLedger](sctx, slotCommissionLedger),
	}
}

func overflow() error {
	return reverts.New(reverts.ArithmeticOverflow, "arithmetic overflow")
}

// mulDiv returns x*y/d with truncation, failing closed on overflow.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, of := new(uint256.Int).MulDivOverflow(x, y, d)
	if of {
		return nil, overflow()
	}
	return z, nil
}

func add(z, x *uint256.Int) error {
	if _, of := z.AddOverflow(z, x); of {
		return overflow()
	}
	return nil
}

// saveAccount stores the record. A record back at its never-touched form
// releases its slot instead.
func (s *Service) saveAccount(addr fp.Address, acc *Account) error {
	if acc.IsEmpty() {
		s.accounts.Delete(addr)
		return nil
	}
	return s.accounts.Set(addr, *acc)
}

// Account returns the stored (not transiently settled) account record.
func (s *Service) Account(addr fp.Address) (*Account, error) {
	acc, err := s.accounts.Get(addr)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// TotalShares returns the total count of active shares.
func (s *Service) TotalShares() (uint64, error) {
	return s.totalShares.Get()
}

// QualifiedShares returns the count of shares owned by tier-qualified accounts.
func (s *Service) QualifiedShares() (uint64, error) {
	return s.qualifiedShares.Get()
}

// Distribute splits an incoming amount between the reward and commission
// accumulators. It reports whether the amount was distributable; funds arriving
// while no share is active are left undistributed in the pool balance.
func (s *Service) Distribute(amount *uint256.Int, rateBps uint16) (bool, error) {
	total, err := s.totalShares.Get()
	if err != nil {
		return false, err
	}
	if total == 0 {
		return false, nil
	}
	qualified, err := s.qualifiedShares.Get()
	if err != nil {
		return false, err
	}

	denom := uint256.NewInt(RateDenominator)
	netReward, err := mulDiv(amount, uint256.NewInt(uint64(RateDenominator-rateBps)), denom)
	if err != nil {
		return false, err
	}
	commission, err := mulDiv(amount, uint256.NewInt(uint64(rateBps)), denom)
	if err != nil {
		return false, err
	}

	totalInt := uint256.NewInt(total)
	accReward, err := s.accReward.Get()
	if err != nil {
		return false, err
	}
	delta, err := mulDiv(netReward, precision, totalInt)
	if err != nil {
		return false, err
	}
	if err := add(accReward, delta); err != nil {
		return false, err
	}
	s.accReward.Set(accReward)

	accCommission, err := s.accCommission.Get()
	if err != nil {
		return false, err
	}
	delta, err = mulDiv(commission, precision, totalInt)
	if err != nil {
		return false, err
	}
	if err := add(accCommission, delta); err != nil {
		return false, err
	}
	s.accCommission.Set(accCommission)

	// the non-qualified portion of the commission belongs to the protocol;
	// credit it now so the fee ledger never waits for a settlement
	protocolCut, err := mulDiv(commission, uint256.NewInt(total-qualified), totalInt)
	if err != nil {
		return false, err
	}
	if !protocolCut.IsZero() {
		fee, err := s.fee.Get()
		if err != nil {
			return false, err
		}
		if err := add(&fee.Accrued, protocolCut); err != nil {
			return false, err
		}
		if err := add(&fee.Pending, protocolCut); err != nil {
			return false, err
		}
		if err := s.fee.Set(fee); err != nil {
			return false, err
		}
	}
	return true, nil
}

// settleDeltas computes the account's unsettled reward and commission amounts.
func (s *Service) settleDeltas(acc *Account) (reward, commission *uint256.Int, err error) {
	shares := uint256.NewInt(acc.Shares)

	accReward, err := s.accReward.Get()
	if err != nil {
		return nil, nil, err
	}
	reward, err = mulDiv(shares, new(uint256.Int).Sub(accReward, &acc.RewardDebt), precision)
	if err != nil {
		return nil, nil, err
	}

	accCommission, err := s.accCommission.Get()
	if err != nil {
		return nil, nil, err
	}
	commission, err = mulDiv(shares, new(uint256.Int).Sub(accCommission, &acc.CommissionDebt), precision)
	if err != nil {
		return nil, nil, err
	}
	return reward, commission, nil
}

// settle folds unsettled accumulator deltas into the account under its stored
// tier status, then flips the status to nowQualified and adjusts the qualified
// share count. The returned account is not yet stored.
func (s *Service) settle(addr fp.Address, nowQualified bool) (*Account, error) {
	acc, err := s.Account(addr)
	if err != nil {
		return nil, err
	}
	reward, commission, err := s.settleDeltas(acc)
	if err != nil {
		return nil, err
	}

	if err := add(&acc.RewardAccrued, reward); err != nil {
		return nil, err
	}
	if err := add(&acc.RewardPending, reward); err != nil {
		return nil, err
	}
	if acc.Qualified {
		if err := add(&acc.BonusAccrued, commission); err != nil {
			return nil, err
		}
		if err := add(&acc.BonusPending, commission); err != nil {
			return nil, err
		}
	}
	// a non-qualified account's commission share was already credited to the
	// protocol ledger at distribution time

	accReward, err := s.accReward.Get()
	if err != nil {
		return nil, err
	}
	accCommission, err := s.accCommission.Get()
	if err != nil {
		return nil, err
	}
	acc.RewardDebt = *accReward
	acc.CommissionDebt = *accCommission

	if acc.Qualified != nowQualified {
		qualified, err := s.qualifiedShares.Get()
		if err != nil {
			return nil, err
		}
		if nowQualified {
			s.qualifiedShares.Set(qualified + acc.Shares)
		} else {
			s.qualifiedShares.Set(qualified - acc.Shares)
		}
		acc.Qualified = nowQualified
	}
	return acc, nil
}

// Settle settles and stores the account.
func (s *Service) Settle(addr fp.Address, nowQualified bool) (*Account, error) {
	acc, err := s.settle(addr, nowQualified)
	if err != nil {
		return nil, err
	}
	if err := s.saveAccount(addr, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// AddShare settles the account then raises its share count by one.
func (s *Service) AddShare(addr fp.Address, nowQualified bool) error {
	acc, err := s.settle(addr, nowQualified)
	if err != nil {
		return err
	}
	acc.Shares++
	if acc.Qualified {
		qualified, err := s.qualifiedShares.Get()
		if err != nil {
			return err
		}
		s.qualifiedShares.Set(qualified + 1)
	}
	if err := s.saveAccount(addr, acc); err != nil {
		return err
	}
	total, err := s.totalShares.Get()
	if err != nil {
		return err
	}
	s.totalShares.Set(total + 1)
	return nil
}

// SubShare settles the account then lowers its share count by one.
func (s *Service) SubShare(addr fp.Address, nowQualified bool) error {
	acc, err := s.settle(addr, nowQualified)
	if err != nil {
		return err
	}
	acc.Shares--
	if acc.Qualified {
		qualified, err := s.qualifiedShares.Get()
		if err != nil {
			return err
		}
		s.qualifiedShares.Set(qualified - 1)
	}
	if err := s.saveAccount(addr, acc); err != nil {
		return err
	}
	total, err := s.totalShares.Get()
	if err != nil {
		return err
	}
	s.totalShares.Set(total - 1)
	return nil
}

// RewardInfo computes the account's would-be settled reward balances without
// mutating stored state.
func (s *Service) RewardInfo(addr fp.Address) (accrued, pending, withdrawn *uint256.Int, err error) {
	acc, err := s.Account(addr)
	if err != nil {
		return nil, nil, nil, err
	}
	reward, _, err := s.settleDeltas(acc)
	if err != nil {
		return nil, nil, nil, err
	}
	accrued = new(uint256.Int).Set(&acc.RewardAccrued)
	if err := add(accrued, reward); err != nil {
		return nil, nil, nil, err
	}
	pending = new(uint256.Int).Set(&acc.RewardPending)
	if err := add(pending, reward); err != nil {
		return nil, nil, nil, err
	}
	return accrued, pending, new(uint256.Int).Set(&acc.RewardWithdrawn), nil
}

// BonusInfo computes the account's would-be settled tier bonus balances without
// mutating stored state.
func (s *Service) BonusInfo(addr fp.Address) (pending, withdrawn *uint256.Int, err error) {
	acc, err := s.Account(addr)
	if err != nil {
		return nil, nil, err
	}
	pending = new(uint256.Int).Set(&acc.BonusPending)
	if acc.Qualified {
		_, commission, err := s.settleDeltas(acc)
		if err != nil {
			return nil, nil, err
		}
		if err := add(pending, commission); err != nil {
			return nil, nil, err
		}
	}
	return pending, new(uint256.Int).Set(&acc.BonusWithdrawn), nil
}

// FeeInfo returns the protocol commission ledger.
func (s *Service) FeeInfo() (accrued, pending, withdrawn *uint256.Int, err error) {
	fee, err := s.fee.Get()
	if err != nil {
		return nil, nil, nil, err
	}
	return &fee.Accrued, &fee.Pending, &fee.Withdrawn, nil
}

// ClaimFee moves up to amount (everything pending when amount is zero) from the
// protocol ledger's pending balance to withdrawn, returning the claimed amount.
func (s *Service) ClaimFee(amount *uint256.Int) (*uint256.Int, error) {
	fee, err := s.fee.Get()
	if err != nil {
		return nil, err
	}
	claimed := new(uint256.Int).Set(&fee.Pending)
	if !amount.IsZero() && amount.Lt(claimed) {
		claimed.Set(amount)
	}
	fee.Pending.Sub(&fee.Pending, claimed)
	if err := add(&fee.Withdrawn, claimed); err != nil {
		return nil, err
	}
	if err := s.fee.Set(fee); err != nil {
		return nil, err
	}
	return claimed, nil
}

// WithdrawReward settles the account and moves up to amount (everything pending
// when amount is zero) from reward pending to withdrawn.
func (s *Service) WithdrawReward(addr fp.Address, nowQualified bool, amount *uint256.Int) (*uint256.Int, error) {
	acc, err := s.settle(addr, nowQualified)
	if err != nil {
		return nil, err
	}
	claimed := new(uint256.Int).Set(&acc.RewardPending)
	if !amount.IsZero() && amount.Lt(claimed) {
		claimed.Set(amount)
	}
	acc.RewardPending.Sub(&acc.RewardPending, claimed)
	if err := add(&acc.RewardWithdrawn, claimed); err != nil {
		return nil, err
	}
	if err := s.saveAccount(addr, acc); err != nil {
		return nil, err
	}
	return claimed, nil
}

// WithdrawBonus settles the account and moves up to amount (everything pending
// when amount is zero) from bonus pending to withdrawn.
func (s *Service) WithdrawBonus(addr fp.Address, nowQualified bool, amount *uint256.Int) (*uint256.Int, error) {
	acc, err := s.settle(addr, nowQualified)
	if err != nil {
		return nil, err
	}
	claimed := new(uint256.Int).Set(&acc.BonusPending)
	if !amount.IsZero() && amount.Lt(claimed) {
		claimed.Set(amount)
	}
	acc.BonusPending.Sub(&acc.BonusPending, claimed)
	if err := add(&acc.BonusWithdrawn, claimed); err != nil {
		return nil, err
	}
	if err := s.saveAccount(addr, acc); err != nil {
		return nil, err
	}
	return claimed, nil
}

// DrainPending settles the account and zeroes its reward pending balance,
// moving it to withdrawn. Used by emergency draining.
func (s *Service) DrainPending(addr fp.Address, nowQualified bool) (*uint256.Int, error) {
	return s.WithdrawReward(addr, nowQualified, uint256.NewInt(0))
}
