package slot

import (
	"github.com/dxpool/feepool/fp"
)

// Address is a wrapper for storage and retrieval of an account address.
type Address struct {
	context *Context
	pos     fp.Bytes32
}

func NewAddress(context *Context, pos fp.Bytes32) *Address {
	return &Address{context: context, pos: pos}
}

func (a *Address) Get() (fp.Address, error) {
	storage, err := a.context.state.GetStorage(a.context.address, a.pos)
	if err != nil {
		return fp.Address{}, err
	}
	return fp.BytesToAddress(storage.Bytes()), nil
}

func (a *Address) Set(addr fp.Address) {
	a.context.state.SetStorage(a.context.address, a.pos, fp.BytesToBytes32(addr.Bytes()))
}
