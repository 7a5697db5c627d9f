package pool_test

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxpool/feepool/api/pool"
	"github.com/dxpool/feepool/feepool"
	"github.com/dxpool/feepool/fp"
	"github.com/dxpool/feepool/lvldb"
	"github.com/dxpool/feepool/state"
)

var (
	admin    = fp.BytesToAddress([]byte("admin"))
	operator = fp.BytesToAddress([]byte("operator"))
)

func pubKey(b byte) (id fp.PubKey) {
	for i := range id {
		id[i] = b
	}
	return
}

func newTestServer(t *testing.T) (*httptest.Server, *feepool.Engine) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	st := state.New(db)
	engine := feepool.New(fp.BytesToAddress([]byte("pool")), st)
	require.NoError(t, engine.Initialize(operator, admin))
	require.NoError(t, st.Commit())

	router := mux.NewRouter()
	pool.New(engine, st).Mount(router, "/pool")
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, engine
}

// failingStore refuses to persist while failing is set.
type failingStore struct {
	*state.State
	failing bool
}

func (s *failingStore) Commit() error {
	if s.failing {
		return errors.New("disk full")
	}
	return s.State.Commit()
}

func httpGet(t *testing.T, url string, out interface{}) int {
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil && res.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func httpPost(t *testing.T, url string, body interface{}) int {
	data, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer res.Body.Close()
	return res.StatusCode
}

func TestGetStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	var status pool.Status
	code := httpGet(t, srv.URL+"/pool/status", &status)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, status.Initialized)
	assert.Equal(t, admin.String(), status.Admin)
	assert.Equal(t, operator.String(), status.Operator)
	assert.Equal(t, uint16(2000), status.CommissionRateBps)
	assert.True(t, status.OpenForWithdrawal)
}

func TestEnterAndQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	id := pubKey(1)
	depositor := fp.BytesToAddress([]byte("d1"))

	code := httpPost(t, srv.URL+"/pool/validators", pool.EnterRequest{
		Caller:     operator.String(),
		PackedIDs:  hexutil.Encode(id.Bytes()),
		Depositors: []string{depositor.String()},
	})
	assert.Equal(t, http.StatusOK, code)

	var v pool.Validator
	code = httpGet(t, srv.URL+"/pool/validators/"+id.String(), &v)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, v.InPool)
	assert.Equal(t, depositor.String(), v.Owner)

	var acc pool.AccountInfo
	code = httpGet(t, srv.URL+"/pool/accounts/"+depositor.String(), &acc)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, uint64(1), acc.Validators)
}

func TestFailedCommitRollsBack(t *testing.T) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	st := state.New(db)
	engine := feepool.New(fp.BytesToAddress([]byte("pool")), st)
	require.NoError(t, engine.Initialize(operator, admin))
	require.NoError(t, st.Commit())

	store := &failingStore{State: st, failing: true}
	router := mux.NewRouter()
	pool.New(engine, store).Mount(router, "/pool")
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	id := pubKey(9)
	enter := pool.EnterRequest{
		Caller:     operator.String(),
		PackedIDs:  hexutil.Encode(id.Bytes()),
		Depositors: []string{fp.BytesToAddress([]byte("d9")).String()},
	}
	code := httpPost(t, srv.URL+"/pool/validators", enter)
	assert.Equal(t, http.StatusInternalServerError, code)

	// the unpersisted change must not be readable afterwards
	var v pool.Validator
	code = httpGet(t, srv.URL+"/pool/validators/"+id.String(), &v)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, v.InPool)

	// once persistence works again the same operation goes through
	store.failing = false
	code = httpPost(t, srv.URL+"/pool/validators", enter)
	assert.Equal(t, http.StatusOK, code)
	code = httpGet(t, srv.URL+"/pool/validators/"+id.String(), &v)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, v.InPool)
}

func TestEnterUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)
	id := pubKey(1)

	code := httpPost(t, srv.URL+"/pool/validators", pool.EnterRequest{
		Caller:     fp.BytesToAddress([]byte("mallory")).String(),
		PackedIDs:  hexutil.Encode(id.Bytes()),
		Depositors: []string{fp.BytesToAddress([]byte("d1")).String()},
	})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestEnterInvalidBatch(t *testing.T) {
	srv, _ := newTestServer(t)
	id := pubKey(1)

	code := httpPost(t, srv.URL+"/pool/validators", pool.EnterRequest{
		Caller:     operator.String(),
		PackedIDs:  hexutil.Encode(id.Bytes()[:47]),
		Depositors: []string{fp.BytesToAddress([]byte("d1")).String()},
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestIncomeAndReward(t *testing.T) {
	srv, _ := newTestServer(t)
	id := pubKey(1)
	depositor := fp.BytesToAddress([]byte("d1"))

	code := httpPost(t, srv.URL+"/pool/validators", pool.EnterRequest{
		Caller:     operator.String(),
		PackedIDs:  hexutil.Encode(id.Bytes()),
		Depositors: []string{depositor.String()},
	})
	require.Equal(t, http.StatusOK, code)

	amount := uint256.NewInt(10_000_000_000_000_000)
	code = httpPost(t, srv.URL+"/pool/income", map[string]interface{}{
		"from":   fp.BytesToAddress([]byte("chain")).String(),
		"amount": amount.Dec(),
	})
	require.Equal(t, http.StatusOK, code)

	var reward pool.RewardInfo
	code = httpGet(t, srv.URL+"/pool/accounts/"+depositor.String()+"/reward", &reward)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "8000000000000000", (*big.Int)(reward.Pending).String())

	var fee pool.CommissionFee
	code = httpGet(t, srv.URL+"/pool/commission", &fee)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2000000000000000", (*big.Int)(fee.Pending).String())
}

func TestRewardInfoBadAddress(t *testing.T) {
	srv, _ := newTestServer(t)
	code := httpGet(t, srv.URL+"/pool/accounts/nothex/reward", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEligibility(t *testing.T) {
	srv, _ := newTestServer(t)
	depositor := fp.BytesToAddress([]byte("d1"))

	code := httpPost(t, srv.URL+"/pool/admin/thresholds", pool.ThresholdsRequest{
		Caller:     admin.String(),
		Thresholds: []uint64{1},
	})
	require.Equal(t, http.StatusOK, code)

	var eligibility pool.Eligibility
	code = httpGet(t, srv.URL+"/pool/accounts/"+depositor.String()+"/eligibility?level=1", &eligibility)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, eligibility.Eligible)

	id := pubKey(1)
	code = httpPost(t, srv.URL+"/pool/validators", pool.EnterRequest{
		Caller:     operator.String(),
		PackedIDs:  hexutil.Encode(id.Bytes()),
		Depositors: []string{depositor.String()},
	})
	require.Equal(t, http.StatusOK, code)

	code = httpGet(t, srv.URL+"/pool/accounts/"+depositor.String()+"/eligibility?level=1", &eligibility)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, eligibility.Eligible)
}

func TestAdminEndpoints(t *testing.T) {
	srv, engine := newTestServer(t)

	code := httpPost(t, srv.URL+"/pool/admin/commission-rate", pool.RateRequest{
		Caller:  admin.String(),
		RateBps: 1500,
	})
	assert.Equal(t, http.StatusOK, code)
	rate, err := engine.CommissionFeeRate()
	require.NoError(t, err)
	assert.Equal(t, uint16(1500), rate)

	code = httpPost(t, srv.URL+"/pool/admin/commission-rate", pool.RateRequest{
		Caller:  operator.String(),
		RateBps: 100,
	})
	assert.Equal(t, http.StatusForbidden, code)

	code = httpPost(t, srv.URL+"/pool/admin/close", pool.ToggleRequest{Caller: admin.String()})
	assert.Equal(t, http.StatusOK, code)
	open, err := engine.IsOpenForWithdrawal()
	require.NoError(t, err)
	assert.False(t, open)

	// opening twice fails
	code = httpPost(t, srv.URL+"/pool/admin/open", pool.ToggleRequest{Caller: admin.String()})
	assert.Equal(t, http.StatusOK, code)
	code = httpPost(t, srv.URL+"/pool/admin/open", pool.ToggleRequest{Caller: admin.String()})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStrictJSONBody(t *testing.T) {
	srv, _ := newTestServer(t)
	code := httpPost(t, srv.URL+"/pool/admin/close", map[string]interface{}{
		"caller":  admin.String(),
		"unknown": true,
	})
	assert.Equal(t, http.StatusBadRequest, code)
}
