package registry

import (
	"github.com/dxpool/feepool/feepool/reverts"
	"github.com/dxpool/feepool/fp"
	"github.com/dxpool/feepool/slot"
)

var (
	slotValidators  = fp.BytesToBytes32([]byte("validators"))
	slotActiveCount = fp.BytesToBytes32([]byte("validators-active-count"))
)

// Service maintains the validator-ownership registry. It enforces key
// uniqueness among active validators and tracks the total active count.
// Share-count bookkeeping lives in the distribution ledger; the pool engine
// keeps the two in sync.
type Service struct {
	validators  *slot.Mapping[fp.PubKey, Validator]
	activeCount *slot.Uint64
}

func New(sctx *slot.Context) *Service {
	return &Service{
		validators:  slot.NewMapping[fp.PubKey, Validator](sctx, slotValidators),
		activeCount: slot.NewUint64(sctx, slotActiveCount),
	}
}

// Get returns the record for the given validator key.
func (s *Service) Get(id fp.PubKey) (*Validator, error) {
	v, err := s.validators.Get(id)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Enter registers a validator under the given owner.
func (s *Service) Enter(id fp.PubKey, owner fp.Address) error {
	entry, err := s.Get(id)
	if err != nil {
		return err
	}
	if entry.Active {
		return reverts.New(reverts.DuplicateValidator, "validator already in pool")
	}
	if err := s.validators.Set(id, Validator{Owner: owner, Active: true}); err != nil {
		return err
	}
	count, err := s.activeCount.Get()
	if err != nil {
		return err
	}
	s.activeCount.Set(count + 1)
	return nil
}

// Leave deactivates a validator and returns its last owner.
func (s *Service) Leave(id fp.PubKey) (fp.Address, error) {
	entry, err := s.Get(id)
	if err != nil {
		return fp.Address{}, err
	}
	if !entry.Active {
		return fp.Address{}, reverts.New(reverts.NotInPool, "validator not in pool")
	}
	if err := s.validators.Set(id, Validator{Owner: entry.Owner, Active: false}); err != nil {
		return fp.Address{}, err
	}
	count, err := s.activeCount.Get()
	if err != nil {
		return fp.Address{}, err
	}
	s.activeCount.Set(count - 1)
	return entry.Owner, nil
}

// Transfer reassigns an active validator to a new owner and returns the old one.
func (s *Service) Transfer(id fp.PubKey, newOwner fp.Address) (fp.Address, error) {
	entry, err := s.Get(id)
	if err != nil {
		return fp.Address{}, err
	}
	if !entry.Active {
		return fp.Address{}, reverts.New(reverts.NotInPool, "validator not in pool")
	}
	if entry.Owner == newOwner {
		return fp.Address{}, reverts.New(reverts.SelfTransfer, "cannot transfer validator owner to oneself")
	}
	if err := s.validators.Set(id, Validator{Owner: newOwner, Active: true}); err != nil {
		return fp.Address{}, err
	}
	return entry.Owner, nil
}

// ActiveCount returns the number of currently active validators.
func (s *Service) ActiveCount() (uint64, error) {
	return s.activeCount.Get()
}

// ParsePacked splits a packed buffer of concatenated validator keys.
// The buffer length must be an exact multiple of the key length.
func ParsePacked(packed []byte) ([]fp.PubKey, error) {
	if len(packed)%fp.PubKeyLength != 0 {
		return nil, reverts.New(reverts.InvalidBatchLength, "packed keys length not a multiple of key size")
	}
	keys := make([]fp.PubKey, 0, len(packed)/fp.PubKeyLength)
	for i := 0; i < len(packed); i += fp.PubKeyLength {
		key, err := fp.BytesToPubKey(packed[i : i+fp.PubKeyLength])
		if err != nil {
			return nil, reverts.New(reverts.InvalidBatchLength, "malformed packed key")
		}
		keys = append(keys, key)
	}
	return keys, nil
}
