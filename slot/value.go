package slot

import (
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/dxpool/feepool/fp"
)

// Value is a wrapper for storage and retrieval of a single RLP-encoded struct
// at a fixed slot position.
type Value[T any] struct {
	context *Context
	pos     fp.Bytes32
}

func NewValue[T any](context *Context, pos fp.Bytes32) *Value[T] {
	return &Value[T]{context: context, pos: pos}
}

func (v *Value[T]) Get() (value T, err error) {
	err = v.context.state.DecodeStorage(v.context.address, v.pos, func(raw []byte) error {
		if len(raw) == 0 {
			return nil
		}
		return rlp.DecodeBytes(raw, &value)
	})
	return
}

func (v *Value[T]) Set(value T) error {
	return v.context.state.EncodeStorage(v.context.address, v.pos, func() ([]byte, error) {
		return rlp.EncodeToBytes(value)
	})
}
