package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxpool/feepool/feepool/registry"
	"github.com/dxpool/feepool/feepool/reverts"
	"github.com/dxpool/feepool/fp"
	"github.com/dxpool/feepool/lvldb"
	"github.com/dxpool/feepool/slot"
	"github.com/dxpool/feepool/state"
)

func newTestService(t *testing.T) *registry.Service {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	sctx := slot.NewContext(fp.BytesToAddress([]byte("pool")), state.New(db))
	return registry.New(sctx)
}

func pubKey(b byte) (id fp.PubKey) {
	for i := range id {
		id[i] = b
	}
	return
}

func TestEnterLeave(t *testing.T) {
	svc := newTestService(t)
	id := pubKey(1)
	owner := fp.BytesToAddress([]byte("owner"))

	require.NoError(t, svc.Enter(id, owner))

	v, err := svc.Get(id)
	require.NoError(t, err)
	assert.True(t, v.Active)
	assert.Equal(t, owner, v.Owner)

	count, err := svc.ActiveCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	left, err := svc.Leave(id)
	require.NoError(t, err)
	assert.Equal(t, owner, left)

	v, err = svc.Get(id)
	require.NoError(t, err)
	assert.False(t, v.Active)
	// last owner stays on the tombstone
	assert.Equal(t, owner, v.Owner)

	count, err = svc.ActiveCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEnterDuplicate(t *testing.T) {
	svc := newTestService(t)
	id := pubKey(1)
	owner := fp.BytesToAddress([]byte("owner"))

	require.NoError(t, svc.Enter(id, owner))
	err := svc.Enter(id, fp.BytesToAddress([]byte("other")))
	assert.True(t, reverts.Is(err, reverts.DuplicateValidator))

	// an id may re-enter after leaving
	_, err = svc.Leave(id)
	require.NoError(t, err)
	assert.NoError(t, svc.Enter(id, owner))
}

func TestLeaveNotInPool(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Leave(pubKey(9))
	assert.True(t, reverts.Is(err, reverts.NotInPool))
}

func TestTransfer(t *testing.T) {
	svc := newTestService(t)
	id := pubKey(1)
	owner := fp.BytesToAddress([]byte("owner"))
	next := fp.BytesToAddress([]byte("next"))

	_, err := svc.Transfer(id, next)
	assert.True(t, reverts.Is(err, reverts.NotInPool))

	require.NoError(t, svc.Enter(id, owner))

	_, err = svc.Transfer(id, owner)
	assert.True(t, reverts.Is(err, reverts.SelfTransfer))

	old, err := svc.Transfer(id, next)
	require.NoError(t, err)
	assert.Equal(t, owner, old)

	v, err := svc.Get(id)
	require.NoError(t, err)
	assert.True(t, v.Active)
	assert.Equal(t, next, v.Owner)

	// transfer does not change the active count
	count, err := svc.ActiveCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestParsePacked(t *testing.T) {
	id1, id2 := pubKey(1), pubKey(2)
	packed := append(id1.Bytes(), id2.Bytes()...)

	keys, err := registry.ParsePacked(packed)
	require.NoError(t, err)
	assert.Equal(t, []fp.PubKey{id1, id2}, keys)

	keys, err = registry.ParsePacked(nil)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = registry.ParsePacked(packed[:len(packed)-1])
	assert.True(t, reverts.Is(err, reverts.InvalidBatchLength))
}
