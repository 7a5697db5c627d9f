package slot

import (
	"github.com/dxpool/feepool/fp"
)

// Bool is a wrapper for storage and retrieval of a boolean flag.
type Bool struct {
	context *Context
	pos     fp.Bytes32
}

func NewBool(context *Context, pos fp.Bytes32) *Bool {
	return &Bool{context: context, pos: pos}
}

func (b *Bool) Get() (bool, error) {
	storage, err := b.context.state.GetStorage(b.context.address, b.pos)
	if err != nil {
		return false, err
	}
	return !storage.IsZero(), nil
}

func (b *Bool) Set(value bool) {
	var b32 fp.Bytes32
	if value {
		b32[31] = 1
	}
	b.context.state.SetStorage(b.context.address, b.pos, b32)
}
