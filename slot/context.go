package slot

import (
	"github.com/dxpool/feepool/fp"
	"github.com/dxpool/feepool/state"
)

// Context binds storage wrappers to the ledger's own address within a state.
type Context struct {
	address fp.Address
	state   *state.State
}

func NewContext(address fp.Address, state *state.State) *Context {
	return &Context{
		address: address,
		state:   state,
	}
}

func (c *Context) Address() fp.Address {
	return c.address
}

func (c *Context) State() *state.State {
	return c.state
}
