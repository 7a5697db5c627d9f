// Copyright (c) 2018 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package state

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/dxpool/feepool/fp"
	"github.com/dxpool/feepool/kv"
	"github.com/dxpool/feepool/stackedmap"
)

// Error is the error caused by state access failure.
type Error struct {
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("state: %v", e.cause)
}

// State manages the ledger world state: native balances plus keyed raw storage,
// with checkpoint/revert semantics on top of the backing kv store.
type State struct {
	kv kv.GetPutter
	sm *stackedmap.StackedMap
}

type (
	balanceKey fp.Address
	storageKey struct {
		addr fp.Address
		key  fp.Bytes32
	}
)

const (
	balanceKeyPrefix = 'b'
	storageKeyPrefix = 's'
)

func persistentBalanceKey(addr fp.Address) []byte {
	return append([]byte{balanceKeyPrefix}, addr[:]...)
}

func persistentStorageKey(addr fp.Address, key fp.Bytes32) []byte {
	k := make([]byte, 0, 1+fp.AddressLength+32)
	k = append(k, storageKeyPrefix)
	k = append(k, addr[:]...)
	return append(k, key[:]...)
}

// New create a state object backed by the given kv store.
func New(store kv.GetPutter) *State {
	state := State{kv: store}
	state.sm = stackedmap.New(func(key any) (any, bool, error) {
		return state.kvGetter(key)
	})
	// the base checkpoint, so Put never sees an empty stack
	state.sm.Push()
	return &state
}

// kvGetter implements stackedmap.MapGetter over the backing store.
func (s *State) kvGetter(key any) (value any, exist bool, err error) {
	switch k := key.(type) {
	case balanceKey:
		raw, err := s.kv.Get(persistentBalanceKey(fp.Address(k)))
		if err != nil {
			if s.kv.IsNotFound(err) {
				return uint256.NewInt(0), true, nil
			}
			return nil, false, err
		}
		var bal uint256.Int
		if err := rlp.DecodeBytes(raw, &bal); err != nil {
			return nil, false, err
		}
		return &bal, true, nil
	case storageKey:
		raw, err := s.kv.Get(persistentStorageKey(k.addr, k.key))
		if err != nil {
			if s.kv.IsNotFound(err) {
				return rlp.RawValue(nil), true, nil
			}
			return nil, false, err
		}
		return rlp.RawValue(raw), true, nil
	}
	panic(fmt.Errorf("unexpected key type %+v", key))
}

// GetBalance returns native-currency balance for the given address.
func (s *State) GetBalance(addr fp.Address) (*uint256.Int, error) {
	v, _, err := s.sm.Get(balanceKey(addr))
	if err != nil {
		return nil, &Error{err}
	}
	return new(uint256.Int).Set(v.(*uint256.Int)), nil
}

// SetBalance set native-currency balance for the given address.
func (s *State) SetBalance(addr fp.Address, balance *uint256.Int) {
	s.sm.Put(balanceKey(addr), new(uint256.Int).Set(balance))
}

// GetStorage returns storage value for the given address and key.
func (s *State) GetStorage(addr fp.Address, key fp.Bytes32) (fp.Bytes32, error) {
	raw, err := s.GetRawStorage(addr, key)
	if err != nil {
		return fp.Bytes32{}, err
	}
	if len(raw) == 0 {
		return fp.Bytes32{}, nil
	}
	_, content, _, err := rlp.Split(raw)
	if err != nil {
		return fp.Bytes32{}, &Error{err}
	}
	return fp.BytesToBytes32(content), nil
}

// SetStorage set storage value for the given address and key.
func (s *State) SetStorage(addr fp.Address, key, value fp.Bytes32) {
	if value.IsZero() {
		s.SetRawStorage(addr, key, nil)
		return
	}
	v, _ := rlp.EncodeToBytes(bytes.TrimLeft(value[:], "\x00"))
	s.SetRawStorage(addr, key, v)
}

// GetRawStorage returns storage value in rlp raw for given address and key.
func (s *State) GetRawStorage(addr fp.Address, key fp.Bytes32) (rlp.RawValue, error) {
	data, _, err := s.sm.Get(storageKey{addr, key})
	if err != nil {
		return nil, &Error{err}
	}
	return data.(rlp.RawValue), nil
}

// SetRawStorage set storage value in rlp raw.
func (s *State) SetRawStorage(addr fp.Address, key fp.Bytes32, raw rlp.RawValue) {
	s.sm.Put(storageKey{addr, key}, raw)
}

// EncodeStorage set storage value encoded by given enc method.
func (s *State) EncodeStorage(addr fp.Address, key fp.Bytes32, enc func() ([]byte, error)) error {
	raw, err := enc()
	if err != nil {
		return &Error{err}
	}
	s.SetRawStorage(addr, key, raw)
	return nil
}

// DecodeStorage get and decode storage value.
func (s *State) DecodeStorage(addr fp.Address, key fp.Bytes32, dec func([]byte) error) error {
	raw, err := s.GetRawStorage(addr, key)
	if err != nil {
		return err
	}
	if err := dec(raw); err != nil {
		return &Error{err}
	}
	return nil
}

// NewCheckpoint makes a checkpoint of current state.
// It returns revision of the checkpoint.
func (s *State) NewCheckpoint() int {
	return s.sm.Push()
}

// RevertTo revert to checkpoint specified by revision.
func (s *State) RevertTo(revision int) {
	s.sm.PopTo(revision)
}

// Release collapses the checkpoint specified by revision into its parent.
// All changes made since the checkpoint are kept but can no longer be
// reverted past it. Long-lived states must release or revert every
// checkpoint they take, or levels pile up forever.
func (s *State) Release(revision int) {
	s.sm.ReleaseTo(revision)
}

// Commit flushes all journaled changes to the backing store in a single batch.
// On success the journal is cleared, so a later Commit only writes changes
// made since this one.
func (s *State) Commit() error {
	batch := s.kv.NewBatch()

	var jerr error
	s.sm.Journal(func(k, v any) bool {
		switch key := k.(type) {
		case balanceKey:
			raw, err := rlp.EncodeToBytes(v.(*uint256.Int))
			if err != nil {
				jerr = err
				return false
			}
			jerr = batch.Put(persistentBalanceKey(fp.Address(key)), raw)
		case storageKey:
			raw := v.(rlp.RawValue)
			if len(raw) == 0 {
				jerr = batch.Delete(persistentStorageKey(key.addr, key.key))
			} else {
				jerr = batch.Put(persistentStorageKey(key.addr, key.key), raw)
			}
		}
		return jerr == nil
	})
	if jerr != nil {
		return &Error{jerr}
	}
	if err := batch.Write(); err != nil {
		return &Error{err}
	}
	s.sm.ClearJournal()
	return nil
}
