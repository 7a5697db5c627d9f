package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// amountOut converts a ledger amount to its JSON representation.
func amountOut(v *uint256.Int) *math.HexOrDecimal256 {
	return (*math.HexOrDecimal256)(v.ToBig())
}

// amountIn converts a JSON amount to a ledger amount. A nil amount means zero.
func amountIn(v *math.HexOrDecimal256) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	z, of := uint256.FromBig((*big.Int)(v))
	if of {
		return nil, errors.New("amount out of range")
	}
	if z.Sign() < 0 {
		return nil, errors.New("amount must not be negative")
	}
	return z, nil
}

type Status struct {
	Initialized       bool                  `json:"initialized"`
	Admin             string                `json:"admin"`
	Operator          string                `json:"operator"`
	CommissionRateBps uint16                `json:"commissionRateBps"`
	OpenForWithdrawal bool                  `json:"openForWithdrawal"`
	TotalValidators   uint64                `json:"totalValidators"`
	TotalActiveShares uint64                `json:"totalActiveShares"`
	PoolBalance       *math.HexOrDecimal256 `json:"poolBalance"`
	ColdWalletTotal   *math.HexOrDecimal256 `json:"coldWalletTotal"`
}

type CommissionFee struct {
	Accrued   *math.HexOrDecimal256 `json:"accrued"`
	Pending   *math.HexOrDecimal256 `json:"pending"`
	Withdrawn *math.HexOrDecimal256 `json:"withdrawn"`
}

type Validator struct {
	InPool bool   `json:"inPool"`
	Owner  string `json:"owner"`
}

type AccountInfo struct {
	Validators uint64 `json:"validators"`
}

type RewardInfo struct {
	Accrued   *math.HexOrDecimal256 `json:"accrued"`
	Pending   *math.HexOrDecimal256 `json:"pending"`
	Withdrawn *math.HexOrDecimal256 `json:"withdrawn"`
}

type BonusInfo struct {
	Pending   *math.HexOrDecimal256 `json:"pending"`
	Withdrawn *math.HexOrDecimal256 `json:"withdrawn"`
}

type Eligibility struct {
	Eligible bool `json:"eligible"`
}

type InitRequest struct {
	Operator string `json:"operator"`
	Admin    string `json:"admin"`
}

type EnterRequest struct {
	Caller     string   `json:"caller"`
	PackedIDs  string   `json:"packedIds"`
	Depositors []string `json:"depositors"`
}

type LeaveRequest struct {
	Caller    string `json:"caller"`
	PackedIDs string `json:"packedIds"`
}

type TransferRequest struct {
	Caller    string   `json:"caller"`
	PackedIDs string   `json:"packedIds"`
	NewOwners []string `json:"newOwners"`
}

type IncomeRequest struct {
	From   string                `json:"from"`
	Amount *math.HexOrDecimal256 `json:"amount"`
}

type WithdrawRequest struct {
	Caller string                `json:"caller"`
	To     string                `json:"to"`
	Amount *math.HexOrDecimal256 `json:"amount"`
	Kind   string                `json:"kind"`
}

type OperatorRequest struct {
	Caller      string `json:"caller"`
	NewOperator string `json:"newOperator"`
}

type RateRequest struct {
	Caller  string `json:"caller"`
	RateBps uint16 `json:"rateBps"`
}

type ThresholdsRequest struct {
	Caller     string   `json:"caller"`
	Thresholds []uint64 `json:"thresholds"`
}

type CredentialAddressRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

type ToggleRequest struct {
	Caller string `json:"caller"`
}

type ClaimFeeRequest struct {
	Caller string                `json:"caller"`
	To     string                `json:"to"`
	Amount *math.HexOrDecimal256 `json:"amount"`
}

type ColdWalletRequest struct {
	Caller string                `json:"caller"`
	To     string                `json:"to"`
	Amount *math.HexOrDecimal256 `json:"amount"`
}

type EmergencyWithdrawRequest struct {
	Caller       string                `json:"caller"`
	Depositors   []string              `json:"depositors"`
	Destinations []string              `json:"destinations"`
	Amount       *math.HexOrDecimal256 `json:"amount"`
}

type CredentialTransferRequest struct {
	Caller string `json:"caller"`
	From   string `json:"from"`
	To     string `json:"to"`
}
