package slot

import (
	"github.com/holiman/uint256"

	"github.com/dxpool/feepool/fp"
)

// Uint256 is a wrapper for storage and retrieval of a 256-bit unsigned integer,
// similar to storing an uint256 in a smart contract.
type Uint256 struct {
	context *Context
	pos     fp.Bytes32
}

func NewUint256(context *Context, pos fp.Bytes32) *Uint256 {
	return &Uint256{context: context, pos: pos}
}

func (u *Uint256) Get() (*uint256.Int, error) {
	storage, err := u.context.state.GetStorage(u.context.address, u.pos)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(storage.Bytes()), nil
}

func (u *Uint256) Set(value *uint256.Int) {
	u.context.state.SetStorage(u.context.address, u.pos, fp.BytesToBytes32(value.Bytes()))
}
