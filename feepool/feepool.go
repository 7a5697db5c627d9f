// Package feepool implements the pooled-staking fee and incentive ledger.
//
// The engine tracks which depositor controls which staking validator, receives
// the native-currency income those validators earn, and splits it pro rata
// among depositors by validator count. A configurable commission cut is kept by
// the protocol unless the depositor holds a qualifying tier credential, in
// which case the cut is redirected to that depositor's bonus balance.
//
// Every mutating operation runs inside a state checkpoint and either fully
// commits or fully reverts.
package feepool

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/dxpool/feepool/feepool/ledger"
	"github.com/dxpool/feepool/feepool/registry"
	"github.com/dxpool/feepool/feepool/reverts"
	"github.com/dxpool/feepool/feepool/tier"
	"github.com/dxpool/feepool/fp"
	"github.com/dxpool/feepool/metrics"
	"github.com/dxpool/feepool/slot"
	"github.com/dxpool/feepool/state"
)

// DefaultCommissionRateBps is the commission rate installed at initialization.
const DefaultCommissionRateBps = 2000

var (
	slotAdmin       = fp.BytesToBytes32([]byte("role-admin"))
	slotOperator    = fp.BytesToBytes32([]byte("role-operator"))
	slotInitialized = fp.BytesToBytes32([]byte("initialized"))
	slotRate        = fp.BytesToBytes32([]byte("commission-fee-rate"))
	slotOpen        = fp.BytesToBytes32([]byte("open-for-withdrawal"))
	slotColdTotal   = fp.BytesToBytes32([]byte("cold-wallet-total"))
)

var (
	metricIncomeDistributed = metrics.LazyLoadCounter("income_distributed_count")
	metricValidatorsActive  = metrics.LazyLoadGauge("validators_active_gauge")
	metricOpsReverted       = metrics.LazyLoadCounterVec("ops_reverted_count", []string{"code"})
)

// Engine is the pool facade. It owns the role and treasury configuration and
// coordinates the registry, ledger and tier services so that every share-count
// change settles the affected account first.
type Engine struct {
	addr  fp.Address
	state *state.State

	registry *registry.Service
	ledger   *ledger.Service
	tier     *tier.Service

	admin       *slot.Address
	operator    *slot.Address
	initialized *slot.Bool
	rate        *slot.Uint64
	open        *slot.Bool
	coldTotal   *slot.Uint256

	now  func() uint64
	sink EventSink
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the timestamp source used in events.
func WithNow(now func() uint64) Option {
	return func(e *Engine) { e.now = now }
}

// WithEventSink installs a sink for emitted events.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithTierSource installs the external tier-credential collaborator.
func WithTierSource(source tier.Source) Option {
	return func(e *Engine) { e.tier.SetSource(source) }
}

// New creates the engine bound to the pool address on the given state.
func New(addr fp.Address, st *state.State, opts ...Option) *Engine {
	sctx := slot.NewContext(addr, st)
	e := &Engine{
		addr:        addr,
		state:       st,
		registry:    registry.New(sctx),
		ledger:      ledger.New(sctx),
		tier:        tier.New(sctx),
		admin:       slot.NewAddress(sctx, slotAdmin),
		operator:    slot.NewAddress(sctx, slotOperator),
		initialized: slot.NewBool(sctx, slotInitialized),
		rate:        slot.NewUint64(sctx, slotRate),
		open:        slot.NewBool(sctx, slotOpen),
		coldTotal:   slot.NewUint256(sctx, slotColdTotal),
	}
	e.now = func() uint64 { return uint64(time.Now().Unix()) }
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Address returns the pool's own account address.
func (e *Engine) Address() fp.Address {
	return e.addr
}

// run executes fn inside a checkpoint, reverting every state change on error.
// On success the checkpoint is released, so the stack never grows with the
// operation count.
func (e *Engine) run(fn func() error) error {
	cp := e.state.NewCheckpoint()
	if err := fn(); err != nil {
		e.state.RevertTo(cp)
		if reverts.IsRevertErr(err) {
			metricOpsReverted().AddWithLabel(1, map[string]string{"code": reverts.CodeOf(err).String()})
		}
		return err
	}
	e.state.Release(cp)
	return nil
}

func (e *Engine) requireAdmin(caller fp.Address) error {
	admin, err := e.admin.Get()
	if err != nil {
		return err
	}
	if caller != admin || caller.IsZero() {
		return reverts.New(reverts.Unauthorized, "caller is not the admin")
	}
	return nil
}

func (e *Engine) requireOperator(caller fp.Address) error {
	operator, err := e.operator.Get()
	if err != nil {
		return err
	}
	if caller != operator || caller.IsZero() {
		return reverts.New(reverts.Unauthorized, "caller is not the operator")
	}
	return nil
}

func (e *Engine) qualified(addr fp.Address) (bool, error) {
	return e.tier.Qualified(addr)
}

// transferOut moves amount of the pool's native balance to the given account.
func (e *Engine) transferOut(to fp.Address, amount *uint256.Int) error {
	balance, err := e.state.GetBalance(e.addr)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return reverts.New(reverts.InsufficientBalance, "not enough balance")
	}
	e.state.SetBalance(e.addr, new(uint256.Int).Sub(balance, amount))
	toBalance, err := e.state.GetBalance(to)
	if err != nil {
		return err
	}
	if _, of := toBalance.AddOverflow(toBalance, amount); of {
		return reverts.New(reverts.ArithmeticOverflow, "arithmetic overflow")
	}
	e.state.SetBalance(to, toBalance)
	return nil
}

// Initialize installs the two roles and the treasury defaults. It succeeds at
// most once for the lifetime of the pool.
func (e *Engine) Initialize(operator, admin fp.Address) error {
	return e.run(func() error {
		done, err := e.initialized.Get()
		if err != nil {
			return err
		}
		if done {
			return reverts.New(reverts.AlreadyInitialized, "pool already initialized")
		}
		if operator.IsZero() || admin.IsZero() {
			return reverts.New(reverts.InvalidAddress, "invalid address")
		}
		e.operator.Set(operator)
		e.admin.Set(admin)
		e.initialized.Set(true)
		e.rate.Set(DefaultCommissionRateBps)
		e.open.Set(true)
		return nil
	})
}

// Initialized reports whether Initialize has run.
func (e *Engine) Initialized() (bool, error) {
	return e.initialized.Get()
}

// Admin returns the admin role holder.
func (e *Engine) Admin() (fp.Address, error) {
	return e.admin.Get()
}

// Operator returns the operator role holder.
func (e *Engine) Operator() (fp.Address, error) {
	return e.operator.Get()
}

// ChangeOperator reassigns the operator role. Admin only.
func (e *Engine) ChangeOperator(caller, newOperator fp.Address) error {
	return e.run(func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if newOperator.IsZero() {
			return reverts.New(reverts.InvalidAddress, "invalid address")
		}
		old, err := e.operator.Get()
		if err != nil {
			return err
		}
		e.operator.Set(newOperator)
		e.emit(OperatorChanged{OldOperator: old, NewOperator: newOperator})
		return nil
	})
}

// enter registers one validator and credits its owner with a share. The
// account is settled under its current tier status before the share is added.
func (e *Engine) enter(id fp.PubKey, depositor fp.Address) error {
	if depositor.IsZero() {
		return reverts.New(reverts.InvalidAddress, "invalid depositor address")
	}
	if err := e.registry.Enter(id, depositor); err != nil {
		return err
	}
	q, err := e.qualified(depositor)
	if err != nil {
		return err
	}
	if err := e.ledger.AddShare(depositor, q); err != nil {
		return err
	}
	e.emit(ValidatorEntered{ID: id, Depositor: depositor, Timestamp: e.now()})
	return nil
}

func (e *Engine) leave(id fp.PubKey) error {
	owner, err := e.registry.Leave(id)
	if err != nil {
		return err
	}
	q, err := e.qualified(owner)
	if err != nil {
		return err
	}
	if err := e.ledger.SubShare(owner, q); err != nil {
		return err
	}
	e.emit(ValidatorLeft{ID: id, Depositor: owner, Timestamp: e.now()})
	return nil
}

func (e *Engine) gaugeValidators() error {
	count, err := e.registry.ActiveCount()
	if err != nil {
		return err
	}
	metricValidatorsActive().Set(int64(count))
	return nil
}

// EnterPool registers a validator under the given depositor. Operator only.
func (e *Engine) EnterPool(caller fp.Address, id fp.PubKey, depositor fp.Address) error {
	return e.run(func() error {
		if err := e.requireOperator(caller); err != nil {
			return err
		}
		if err := e.enter(id, depositor); err != nil {
			return err
		}
		return e.gaugeValidators()
	})
}

// LeavePool deactivates a validator and removes its owner's share. Operator only.
func (e *Engine) LeavePool(caller fp.Address, id fp.PubKey) error {
	return e.run(func() error {
		if err := e.requireOperator(caller); err != nil {
			return err
		}
		if err := e.leave(id); err != nil {
			return err
		}
		return e.gaugeValidators()
	})
}

// BatchEnterPool registers the packed validator keys pairwise with the
// depositor list. The whole batch commits or none of it does. Operator only.
func (e *Engine) BatchEnterPool(caller fp.Address, packed []byte, depositors []fp.Address) error {
	return e.run(func() error {
		if err := e.requireOperator(caller); err != nil {
			return err
		}
		ids, err := registry.ParsePacked(packed)
		if err != nil {
			return err
		}
		if len(ids) != len(depositors) {
			return reverts.New(reverts.InvalidBatchLength, "key count does not match depositor count")
		}
		for i, id := range ids {
			if err := e.enter(id, depositors[i]); err != nil {
				return err
			}
		}
		return e.gaugeValidators()
	})
}

// BatchLeavePool deactivates the packed validator keys atomically. Operator only.
func (e *Engine) BatchLeavePool(caller fp.Address, packed []byte) error {
	return e.run(func() error {
		if err := e.requireOperator(caller); err != nil {
			return err
		}
		ids, err := registry.ParsePacked(packed)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := e.leave(id); err != nil {
				return err
			}
		}
		return e.gaugeValidators()
	})
}

// TransferValidatorByAdmin reassigns the packed validator keys pairwise to the
// new owner list. Both the old and new owner are settled before the share
// moves. Admin only.
func (e *Engine) TransferValidatorByAdmin(caller fp.Address, packed []byte, newOwners []fp.Address) error {
	return e.run(func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		ids, err := registry.ParsePacked(packed)
		if err != nil {
			return err
		}
		if len(ids) != len(newOwners) {
			return reverts.New(reverts.InvalidBatchLength, "key count does not match owner count")
		}
		for i, id := range ids {
			newOwner := newOwners[i]
			if newOwner.IsZero() {
				return reverts.New(reverts.InvalidAddress, "invalid new owner address")
			}
			oldOwner, err := e.registry.Transfer(id, newOwner)
			if err != nil {
				return err
			}
			q, err := e.qualified(oldOwner)
			if err != nil {
				return err
			}
			if err := e.ledger.SubShare(oldOwner, q); err != nil {
				return err
			}
			if q, err = e.qualified(newOwner); err != nil {
				return err
			}
			if err := e.ledger.AddShare(newOwner, q); err != nil {
				return err
			}
			e.emit(ValidatorTransferred{ID: id, OldOwner: oldOwner, NewOwner: newOwner, Timestamp: e.now()})
		}
		return nil
	})
}

// Receive credits incoming validator income to the pool balance and splits it
// between the reward and commission accumulators. Funds arriving while no
// share is active stay undistributed in the pool balance.
func (e *Engine) Receive(from fp.Address, amount *uint256.Int) error {
	return e.run(func() error {
		balance, err := e.state.GetBalance(e.addr)
		if err != nil {
			return err
		}
		if _, of := balance.AddOverflow(balance, amount); of {
			return reverts.New(reverts.ArithmeticOverflow, "arithmetic overflow")
		}
		e.state.SetBalance(e.addr, balance)

		rate, err := e.rate.Get()
		if err != nil {
			return err
		}
		distributed, err := e.ledger.Distribute(amount, uint16(rate))
		if err != nil {
			return err
		}
		if distributed {
			metricIncomeDistributed().Add(1)
		}
		e.emit(FundsReceived{From: from, Amount: new(uint256.Int).Set(amount), Distributed: distributed})
		return nil
	})
}

// OnTierCredentialTransferred settles both parties of a tier-credential
// transfer so their already-accrued commission stays attributed to the status
// in force when the funds arrived. Only the configured credential contract may
// call it.
func (e *Engine) OnTierCredentialTransferred(caller, from, to fp.Address) error {
	return e.run(func() error {
		credential, err := e.tier.CredentialAddress()
		if err != nil {
			return err
		}
		if caller != credential || caller.IsZero() {
			return reverts.New(reverts.Unauthorized, "caller is not the tier credential contract")
		}
		for _, addr := range []fp.Address{from, to} {
			if addr.IsZero() {
				continue
			}
			q, err := e.qualified(addr)
			if err != nil {
				return err
			}
			if _, err := e.ledger.Settle(addr, q); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetTierThresholds replaces the per-level validator-count thresholds. Admin only.
func (e *Engine) SetTierThresholds(caller fp.Address, thresholds []uint64) error {
	return e.run(func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		return e.tier.SetThresholds(thresholds)
	})
}

// SetTierCredentialAddress wires the external tier-credential contract. Admin only.
func (e *Engine) SetTierCredentialAddress(caller, addr fp.Address) error {
	return e.run(func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if addr.IsZero() {
			return reverts.New(reverts.InvalidAddress, "invalid address")
		}
		e.tier.SetCredentialAddress(addr)
		return nil
	})
}

// SetCommissionFeeRate updates the commission rate in basis points. Admin only.
func (e *Engine) SetCommissionFeeRate(caller fp.Address, rateBps uint16) error {
	return e.run(func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if rateBps > ledger.RateDenominator {
			return reverts.New(reverts.InvalidRate, "commission rate exceeds denominator")
		}
		old, err := e.rate.Get()
		if err != nil {
			return err
		}
		e.rate.Set(uint64(rateBps))
		e.emit(CommissionFeeRateChanged{OldRateBps: uint16(old), NewRateBps: rateBps})
		return nil
	})
}

// CommissionFeeRate returns the current commission rate in basis points.
func (e *Engine) CommissionFeeRate() (uint16, error) {
	rate, err := e.rate.Get()
	if err != nil {
		return 0, err
	}
	return uint16(rate), nil
}

// OpenPoolForWithdrawal enables user withdrawals. Admin only.
func (e *Engine) OpenPoolForWithdrawal(caller fp.Address) error {
	return e.run(func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		open, err := e.open.Get()
		if err != nil {
			return err
		}
		if open {
			return reverts.New(reverts.AlreadyOpen, "pool is already open for withdrawal")
		}
		e.open.Set(true)
		return nil
	})
}

// ClosePoolForWithdrawal disables user withdrawals. Idempotent. Admin only.
func (e *Engine) ClosePoolForWithdrawal(caller fp.Address) error {
	return e.run(func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		e.open.Set(false)
		return nil
	})
}

// IsOpenForWithdrawal reports whether user withdrawals are enabled.
func (e *Engine) IsOpenForWithdrawal() (bool, error) {
	return e.open.Get()
}

// ClaimCommissionFee moves up to amount (everything pending when amount is
// zero) of the protocol commission to the given account. Admin only.
func (e *Engine) ClaimCommissionFee(caller, to fp.Address, amount *uint256.Int) error {
	return e.run(func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if to.IsZero() {
			return reverts.New(reverts.InvalidAddress, "invalid address")
		}
		claimed, err := e.ledger.ClaimFee(amount)
		if err != nil {
			return err
		}
		if err := e.transferOut(to, claimed); err != nil {
			return err
		}
		e.emit(CommissionClaimed{To: to, Amount: claimed})
		return nil
	})
}

// SaveToColdWallet sweeps amount of the pool balance to a cold wallet and
// records the running total. Admin only.
func (e *Engine) SaveToColdWallet(caller, to fp.Address, amount *uint256.Int) error {
	return e.run(func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if to.IsZero() {
			return reverts.New(reverts.InvalidAddress, "invalid address")
		}
		if err := e.transferOut(to, amount); err != nil {
			return err
		}
		total, err := e.coldTotal.Get()
		if err != nil {
			return err
		}
		if _, of := total.AddOverflow(total, amount); of {
			return reverts.New(reverts.ArithmeticOverflow, "arithmetic overflow")
		}
		e.coldTotal.Set(total)
		return nil
	})
}

// ColdWalletTotal returns the running total swept to cold wallets.
func (e *Engine) ColdWalletTotal() (*uint256.Int, error) {
	return e.coldTotal.Get()
}

// EmergencyWithdraw settles every listed depositor, drains their pending
// reward, adds extra (the undistributed remainder held by the pool) on top,
// and pays the aggregate out to the destination set. The amount is split
// evenly across destinations with the division remainder going to the first.
// Admin only.
func (e *Engine) EmergencyWithdraw(caller fp.Address, depositors, destinations []fp.Address, extra *uint256.Int) error {
	return e.run(func() error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if len(destinations) == 0 {
			return reverts.New(reverts.LengthMismatch, "no destination given")
		}

		total := new(uint256.Int).Set(extra)
		for _, depositor := range depositors {
			q, err := e.qualified(depositor)
			if err != nil {
				return err
			}
			drained, err := e.ledger.DrainPending(depositor, q)
			if err != nil {
				return err
			}
			if _, of := total.AddOverflow(total, drained); of {
				return reverts.New(reverts.ArithmeticOverflow, "arithmetic overflow")
			}
		}

		n := uint256.NewInt(uint64(len(destinations)))
		each := new(uint256.Int).Div(total, n)
		first := new(uint256.Int).Mod(total, n)
		first.Add(first, each)
		for i, to := range destinations {
			if to.IsZero() {
				return reverts.New(reverts.InvalidAddress, "invalid destination address")
			}
			part := each
			if i == 0 {
				part = first
			}
			if err := e.transferOut(to, part); err != nil {
				return err
			}
		}
		return nil
	})
}

// WithdrawReward pays out up to amount (everything pending when amount is
// zero) of the caller's settled reward. Fails while the pool is closed.
func (e *Engine) WithdrawReward(caller, to fp.Address, amount *uint256.Int) error {
	return e.run(func() error {
		open, err := e.open.Get()
		if err != nil {
			return err
		}
		if !open {
			return reverts.New(reverts.WithdrawalClosed, "pool is closed for withdrawal")
		}
		if caller.IsZero() || to.IsZero() {
			return reverts.New(reverts.InvalidAddress, "invalid address")
		}
		q, err := e.qualified(caller)
		if err != nil {
			return err
		}
		claimed, err := e.ledger.WithdrawReward(caller, q, amount)
		if err != nil {
			return err
		}
		if err := e.transferOut(to, claimed); err != nil {
			return err
		}
		e.emit(RewardWithdrawn{Account: caller, To: to, Amount: claimed})
		return nil
	})
}

// WithdrawBonus pays out up to amount (everything pending when amount is zero)
// of the caller's settled tier bonus. Fails while the pool is closed.
func (e *Engine) WithdrawBonus(caller, to fp.Address, amount *uint256.Int) error {
	return e.run(func() error {
		open, err := e.open.Get()
		if err != nil {
			return err
		}
		if !open {
			return reverts.New(reverts.WithdrawalClosed, "pool is closed for withdrawal")
		}
		if caller.IsZero() || to.IsZero() {
			return reverts.New(reverts.InvalidAddress, "invalid address")
		}
		q, err := e.qualified(caller)
		if err != nil {
			return err
		}
		claimed, err := e.ledger.WithdrawBonus(caller, q, amount)
		if err != nil {
			return err
		}
		if err := e.transferOut(to, claimed); err != nil {
			return err
		}
		e.emit(BonusWithdrawn{Account: caller, To: to, Amount: claimed})
		return nil
	})
}

// UserInfo returns the depositor's active validator count.
func (e *Engine) UserInfo(depositor fp.Address) (uint64, error) {
	if depositor.IsZero() {
		return 0, reverts.New(reverts.InvalidAddress, "invalid address")
	}
	acc, err := e.ledger.Account(depositor)
	if err != nil {
		return 0, err
	}
	return acc.Shares, nil
}

// UserRewardInfo returns the depositor's would-be settled reward balances.
func (e *Engine) UserRewardInfo(depositor fp.Address) (accrued, pending, withdrawn *uint256.Int, err error) {
	if depositor.IsZero() {
		return nil, nil, nil, reverts.New(reverts.InvalidAddress, "invalid address")
	}
	return e.ledger.RewardInfo(depositor)
}

// UserNftInfo returns the depositor's would-be settled tier bonus balances.
func (e *Engine) UserNftInfo(depositor fp.Address) (pending, withdrawn *uint256.Int, err error) {
	if depositor.IsZero() {
		return nil, nil, reverts.New(reverts.InvalidAddress, "invalid address")
	}
	return e.ledger.BonusInfo(depositor)
}

// CommissionFeeInfo returns the protocol commission ledger.
func (e *Engine) CommissionFeeInfo() (accrued, pending, withdrawn *uint256.Int, err error) {
	return e.ledger.FeeInfo()
}

// ValidatorInPool reports whether the validator is active and who owns it.
func (e *Engine) ValidatorInPool(id fp.PubKey) (bool, fp.Address, error) {
	v, err := e.registry.Get(id)
	if err != nil {
		return false, fp.Address{}, err
	}
	return v.Active, v.Owner, nil
}

// TotalValidatorsCount returns the number of active validators.
func (e *Engine) TotalValidatorsCount() (uint64, error) {
	return e.registry.ActiveCount()
}

// EligibleForLevel reports whether the depositor owns enough validators to
// claim a credential of the given tier level.
func (e *Engine) EligibleForLevel(depositor fp.Address, level uint8) (bool, error) {
	if depositor.IsZero() {
		return false, reverts.New(reverts.InvalidAddress, "invalid address")
	}
	acc, err := e.ledger.Account(depositor)
	if err != nil {
		return false, err
	}
	return e.tier.EligibleForLevel(acc.Shares, level)
}

// TierThresholds returns the per-level validator-count thresholds.
func (e *Engine) TierThresholds() ([]uint64, error) {
	return e.tier.Thresholds()
}

// TierCredentialAddress returns the configured credential contract address.
func (e *Engine) TierCredentialAddress() (fp.Address, error) {
	return e.tier.CredentialAddress()
}

// PoolBalance returns the pool's native balance.
func (e *Engine) PoolBalance() (*uint256.Int, error) {
	return e.state.GetBalance(e.addr)
}

// TotalActiveShares returns the total active share count.
func (e *Engine) TotalActiveShares() (uint64, error) {
	return e.ledger.TotalShares()
}
