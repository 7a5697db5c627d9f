package slot

import (
	"encoding/binary"

	"github.com/dxpool/feepool/fp"
)

// Uint64 is a wrapper for storage and retrieval of an uint64 counter.
type Uint64 struct {
	context *Context
	pos     fp.Bytes32
}

func NewUint64(context *Context, pos fp.Bytes32) *Uint64 {
	return &Uint64{context: context, pos: pos}
}

func (u *Uint64) Get() (uint64, error) {
	storage, err := u.context.state.GetStorage(u.context.address, u.pos)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(storage[24:]), nil
}

func (u *Uint64) Set(value uint64) {
	var b32 fp.Bytes32
	binary.BigEndian.PutUint64(b32[24:], value)
	u.context.state.SetStorage(u.context.address, u.pos, b32)
}
