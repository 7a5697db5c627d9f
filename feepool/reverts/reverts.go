package reverts

import (
	"errors"
)

// Code classifies why an operation was rejected.
type Code int

const (
	Unauthorized Code = iota + 1
	AlreadyInitialized
	InvalidAddress
	DuplicateValidator
	NotInPool
	InvalidBatchLength
	SelfTransfer
	AlreadyOpen
	InsufficientBalance
	LengthMismatch
	ArithmeticOverflow
	WithdrawalClosed
	InvalidRate
)

func (c Code) String() string {
	switch c {
	case Unauthorized:
		return "Unauthorized"
	case AlreadyInitialized:
		return "AlreadyInitialized"
	case InvalidAddress:
		return "InvalidAddress"
	case DuplicateValidator:
		return "DuplicateValidator"
	case NotInPool:
		return "NotInPool"
	case InvalidBatchLength:
		return "InvalidBatchLength"
	case SelfTransfer:
		return "SelfTransfer"
	case AlreadyOpen:
		return "AlreadyOpen"
	case InsufficientBalance:
		return "InsufficientBalance"
	case LengthMismatch:
		return "LengthMismatch"
	case ArithmeticOverflow:
		return "ArithmeticOverflow"
	case WithdrawalClosed:
		return "WithdrawalClosed"
	case InvalidRate:
		return "InvalidRate"
	default:
		return "Unknown"
	}
}

// ErrRevert is an operation rejection. A rejected operation leaves no state
// change behind.
type ErrRevert struct {
	code    Code
	message string
}

func New(code Code, message string) *ErrRevert {
	return &ErrRevert{
		code:    code,
		message: message,
	}
}

func (e *ErrRevert) Error() string {
	return e.code.String() + ": " + e.message
}

func (e *ErrRevert) Code() Code {
	return e.code
}

// IsRevertErr reports whether err is an operation rejection.
func IsRevertErr(err error) bool {
	if err == nil {
		return false
	}
	var ve *ErrRevert
	return errors.As(err, &ve)
}

// CodeOf extracts the rejection code from err, or 0 if err is not a rejection.
func CodeOf(err error) Code {
	var ve *ErrRevert
	if errors.As(err, &ve) {
		return ve.code
	}
	return 0
}

// Is reports whether err is a rejection with the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
