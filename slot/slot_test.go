package slot_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxpool/feepool/fp"
	"github.com/dxpool/feepool/lvldb"
	"github.com/dxpool/feepool/slot"
	"github.com/dxpool/feepool/state"
)

func newTestContext(t *testing.T) *slot.Context {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	return slot.NewContext(fp.BytesToAddress([]byte("pool")), state.New(db))
}

func TestUint256Slot(t *testing.T) {
	sctx := newTestContext(t)
	u := slot.NewUint256(sctx, fp.Blake2b([]byte("u")))

	v, err := u.Get()
	assert.NoError(t, err)
	assert.True(t, v.IsZero())

	u.Set(uint256.NewInt(12345))
	v, err = u.Get()
	assert.NoError(t, err)
	assert.Equal(t, uint256.NewInt(12345), v)
}

func TestUint64Slot(t *testing.T) {
	sctx := newTestContext(t)
	u := slot.NewUint64(sctx, fp.Blake2b([]byte("u")))

	v, err := u.Get()
	assert.NoError(t, err)
	assert.Zero(t, v)

	u.Set(987654321)
	v, err = u.Get()
	assert.NoError(t, err)
	assert.Equal(t, uint64(987654321), v)
}

func TestBoolSlot(t *testing.T) {
	sctx := newTestContext(t)
	b := slot.NewBool(sctx, fp.Blake2b([]byte("b")))

	v, err := b.Get()
	assert.NoError(t, err)
	assert.False(t, v)

	b.Set(true)
	v, err = b.Get()
	assert.NoError(t, err)
	assert.True(t, v)

	b.Set(false)
	v, err = b.Get()
	assert.NoError(t, err)
	assert.False(t, v)
}

func TestAddressSlot(t *testing.T) {
	sctx := newTestContext(t)
	a := slot.NewAddress(sctx, fp.Blake2b([]byte("a")))

	v, err := a.Get()
	assert.NoError(t, err)
	assert.True(t, v.IsZero())

	addr := fp.BytesToAddress([]byte("someone"))
	a.Set(addr)
	v, err = a.Get()
	assert.NoError(t, err)
	assert.Equal(t, addr, v)
}

type record struct {
	Owner  fp.Address
	Active bool
}

func TestMappingSlot(t *testing.T) {
	sctx := newTestContext(t)
	m := slot.NewMapping[fp.Address, record](sctx, fp.Blake2b([]byte("m")))

	k1 := fp.BytesToAddress([]byte("k1"))
	k2 := fp.BytesToAddress([]byte("k2"))

	got, err := m.Get(k1)
	assert.NoError(t, err)
	assert.Equal(t, record{}, got)

	want := record{Owner: fp.BytesToAddress([]byte("owner")), Active: true}
	require.NoError(t, m.Set(k1, want))

	got, err = m.Get(k1)
	assert.NoError(t, err)
	assert.Equal(t, want, got)

	// other keys are untouched
	got, err = m.Get(k2)
	assert.NoError(t, err)
	assert.Equal(t, record{}, got)
}

func TestValueSlot(t *testing.T) {
	sctx := newTestContext(t)
	v := slot.NewValue[record](sctx, fp.Blake2b([]byte("v")))

	got, err := v.Get()
	assert.NoError(t, err)
	assert.Equal(t, record{}, got)

	want := record{Owner: fp.BytesToAddress([]byte("owner")), Active: true}
	require.NoError(t, v.Set(want))
	got, err = v.Get()
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}
