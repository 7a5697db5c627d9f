package registry

import (
	"github.com/dxpool/feepool/fp"
)

// Validator is the registry record of a staking validator.
// A record survives leave as an inactive tombstone, so the same key may enter
// the pool again later.
type Validator struct {
	Owner  fp.Address
	Active bool
}
