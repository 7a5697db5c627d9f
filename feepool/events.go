package feepool

import (
	"github.com/holiman/uint256"

	"github.com/dxpool/feepool/fp"
)

// Event is a record emitted after a successful state transition.
type Event interface {
	EventName() string
}

// EventSink receives events from the pool engine. A nil sink drops them.
type EventSink func(ev Event)

type ValidatorEntered struct {
	ID        fp.PubKey
	Depositor fp.Address
	Timestamp uint64
}

func (ValidatorEntered) EventName() string { return "ValidatorEntered" }

type ValidatorLeft struct {
	ID        fp.PubKey
	Depositor fp.Address
	Timestamp uint64
}

func (ValidatorLeft) EventName() string { return "ValidatorLeft" }

type ValidatorTransferred struct {
	ID        fp.PubKey
	OldOwner  fp.Address
	NewOwner  fp.Address
	Timestamp uint64
}

func (ValidatorTransferred) EventName() string { return "ValidatorTransferred" }

type OperatorChanged struct {
	OldOperator fp.Address
	NewOperator fp.Address
}

func (OperatorChanged) EventName() string { return "OperatorChanged" }

type CommissionFeeRateChanged struct {
	OldRateBps uint16
	NewRateBps uint16
}

func (CommissionFeeRateChanged) EventName() string { return "CommissionFeeRateChanged" }

type CommissionClaimed struct {
	To     fp.Address
	Amount *uint256.Int
}

func (CommissionClaimed) EventName() string { return "CommissionClaimed" }

type RewardWithdrawn struct {
	Account fp.Address
	To      fp.Address
	Amount  *uint256.Int
}

func (RewardWithdrawn) EventName() string { return "RewardWithdrawn" }

type BonusWithdrawn struct {
	Account fp.Address
	To      fp.Address
	Amount  *uint256.Int
}

func (BonusWithdrawn) EventName() string { return "BonusWithdrawn" }

type FundsReceived struct {
	From        fp.Address
	Amount      *uint256.Int
	Distributed bool
}

func (FundsReceived) EventName() string { return "FundsReceived" }

func (e *Engine) emit(ev Event) {
	if e.sink != nil {
		e.sink(ev)
	}
}
