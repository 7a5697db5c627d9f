package pool

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/dxpool/feepool/api/utils"
	"github.com/dxpool/feepool/feepool"
	"github.com/dxpool/feepool/feepool/reverts"
	"github.com/dxpool/feepool/fp"
)

// Store is the transactional surface the handlers need from the backing
// state: checkpoint an operation, persist it, and roll the memory image
// back when persisting fails.
type Store interface {
	NewCheckpoint() int
	RevertTo(revision int)
	Release(revision int)
	Commit() error
}

// Pool exposes the pool engine over HTTP. Mutating endpoints carry the caller
// address in the request body; role checks happen in the engine. Successful
// mutations are committed to the backing store before responding.
type Pool struct {
	engine *feepool.Engine
	store  Store
}

func New(engine *feepool.Engine, store Store) *Pool {
	return &Pool{engine, store}
}

// convertErr maps engine rejections to HTTP statuses.
func convertErr(err error) error {
	if !reverts.IsRevertErr(err) {
		return err
	}
	if reverts.Is(err, reverts.Unauthorized) {
		return utils.Forbidden(err)
	}
	return utils.BadRequest(err)
}

func parseAddr(s, name string) (fp.Address, error) {
	addr, err := fp.ParseAddress(s)
	if err != nil {
		return fp.Address{}, utils.BadRequest(errors.WithMessage(err, name))
	}
	return *addr, nil
}

func parseAddrList(list []string, name string) ([]fp.Address, error) {
	addrs := make([]fp.Address, 0, len(list))
	for _, s := range list {
		addr, err := parseAddr(s, name)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func parsePacked(s string) ([]byte, error) {
	packed, err := hexutil.Decode(s)
	if err != nil {
		return nil, utils.BadRequest(errors.WithMessage(err, "packedIds"))
	}
	return packed, nil
}

// exec runs a mutating engine operation and persists it. A failed commit
// rolls the in-memory state back, so reads never serve changes the store
// does not have.
func (p *Pool) exec(op func() error) error {
	cp := p.store.NewCheckpoint()
	if err := op(); err != nil {
		p.store.RevertTo(cp)
		return convertErr(err)
	}
	if err := p.store.Commit(); err != nil {
		p.store.RevertTo(cp)
		return err
	}
	p.store.Release(cp)
	return nil
}

func (p *Pool) handleGetStatus(w http.ResponseWriter, _ *http.Request) error {
	initialized, err := p.engine.Initialized()
	if err != nil {
		return err
	}
	admin, err := p.engine.Admin()
	if err != nil {
		return err
	}
	operator, err := p.engine.Operator()
	if err != nil {
		return err
	}
	rate, err := p.engine.CommissionFeeRate()
	if err != nil {
		return err
	}
	open, err := p.engine.IsOpenForWithdrawal()
	if err != nil {
		return err
	}
	validators, err := p.engine.TotalValidatorsCount()
	if err != nil {
		return err
	}
	shares, err := p.engine.TotalActiveShares()
	if err != nil {
		return err
	}
	balance, err := p.engine.PoolBalance()
	if err != nil {
		return err
	}
	coldTotal, err := p.engine.ColdWalletTotal()
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &Status{
		Initialized:       initialized,
		Admin:             admin.String(),
		Operator:          operator.String(),
		CommissionRateBps: rate,
		OpenForWithdrawal: open,
		TotalValidators:   validators,
		TotalActiveShares: shares,
		PoolBalance:       amountOut(balance),
		ColdWalletTotal:   amountOut(coldTotal),
	})
}

func (p *Pool) handleGetCommission(w http.ResponseWriter, _ *http.Request) error {
	accrued, pending, withdrawn, err := p.engine.CommissionFeeInfo()
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &CommissionFee{
		Accrued:   amountOut(accrued),
		Pending:   amountOut(pending),
		Withdrawn: amountOut(withdrawn),
	})
}

func (p *Pool) handleGetValidator(w http.ResponseWriter, req *http.Request) error {
	id, err := fp.ParsePubKey(mux.Vars(req)["id"])
	if err != nil {
		return utils.BadRequest(errors.WithMessage(err, "id"))
	}
	inPool, owner, err := p.engine.ValidatorInPool(*id)
	if err != nil {
		return err
	}
	return utils.WriteJSON(w, &Validator{InPool: inPool, Owner: owner.String()})
}

func (p *Pool) handleGetAccount(w http.ResponseWriter, req *http.Request) error {
	addr, err := parseAddr(mux.Vars(req)["address"], "address")
	if err != nil {
		return err
	}
	shares, err := p.engine.UserInfo(addr)
	if err != nil {
		return convertErr(err)
	}
	return utils.WriteJSON(w, &AccountInfo{Validators: shares})
}

func (p *Pool) handleGetReward(w http.ResponseWriter, req *http.Request) error {
	addr, err := parseAddr(mux.Vars(req)["address"], "address")
	if err != nil {
		return err
	}
	accrued, pending, withdrawn, err := p.engine.UserRewardInfo(addr)
	if err != nil {
		return convertErr(err)
	}
	return utils.WriteJSON(w, &RewardInfo{
		Accrued:   amountOut(accrued),
		Pending:   amountOut(pending),
		Withdrawn: amountOut(withdrawn),
	})
}

func (p *Pool) handleGetBonus(w http.ResponseWriter, req *http.Request) error {
	addr, err := parseAddr(mux.Vars(req)["address"], "address")
	if err != nil {
		return err
	}
	pending, withdrawn, err := p.engine.UserNftInfo(addr)
	if err != nil {
		return convertErr(err)
	}
	return utils.WriteJSON(w, &BonusInfo{
		Pending:   amountOut(pending),
		Withdrawn: amountOut(withdrawn),
	})
}

func (p *Pool) handleGetEligibility(w http.ResponseWriter, req *http.Request) error {
	addr, err := parseAddr(mux.Vars(req)["address"], "address")
	if err != nil {
		return err
	}
	level, err := strconv.ParseUint(req.URL.Query().Get("level"), 10, 8)
	if err != nil {
		return utils.BadRequest(errors.WithMessage(err, "level"))
	}
	eligible, err := p.engine.EligibleForLevel(addr, uint8(level))
	if err != nil {
		return convertErr(err)
	}
	return utils.WriteJSON(w, &Eligibility{Eligible: eligible})
}

func (p *Pool) handleInit(w http.ResponseWriter, req *http.Request) error {
	var body InitRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	operator, err := parseAddr(body.Operator, "operator")
	if err != nil {
		return err
	}
	admin, err := parseAddr(body.Admin, "admin")
	if err != nil {
		return err
	}
	if err := p.exec(func() error { return p.engine.Initialize(operator, admin) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"initialized": true})
}

func (p *Pool) handleEnter(w http.ResponseWriter, req *http.Request) error {
	var body EnterRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	packed, err := parsePacked(body.PackedIDs)
	if err != nil {
		return err
	}
	depositors, err := parseAddrList(body.Depositors, "depositors")
	if err != nil {
		return err
	}
	if err := p.exec(func() error { return p.engine.BatchEnterPool(caller, packed, depositors) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"entered": len(depositors)})
}

func (p *Pool) handleLeave(w http.ResponseWriter, req *http.Request) error {
	var body LeaveRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	packed, err := parsePacked(body.PackedIDs)
	if err != nil {
		return err
	}
	if err := p.exec(func() error { return p.engine.BatchLeavePool(caller, packed) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"left": len(packed) / fp.PubKeyLength})
}

func (p *Pool) handleTransfer(w http.ResponseWriter, req *http.Request) error {
	var body TransferRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	packed, err := parsePacked(body.PackedIDs)
	if err != nil {
		return err
	}
	newOwners, err := parseAddrList(body.NewOwners, "newOwners")
	if err != nil {
		return err
	}
	if err := p.exec(func() error { return p.engine.TransferValidatorByAdmin(caller, packed, newOwners) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"transferred": len(newOwners)})
}

func (p *Pool) handleIncome(w http.ResponseWriter, req *http.Request) error {
	var body IncomeRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	from, err := parseAddr(body.From, "from")
	if err != nil {
		return err
	}
	amount, err := amountIn(body.Amount)
	if err != nil {
		return utils.BadRequest(errors.WithMessage(err, "amount"))
	}
	if err := p.exec(func() error { return p.engine.Receive(from, amount) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"received": amountOut(amount)})
}

func (p *Pool) handleWithdraw(w http.ResponseWriter, req *http.Request) error {
	var body WithdrawRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	to, err := parseAddr(body.To, "to")
	if err != nil {
		return err
	}
	amount, err := amountIn(body.Amount)
	if err != nil {
		return utils.BadRequest(errors.WithMessage(err, "amount"))
	}
	var op func() error
	switch body.Kind {
	case "reward":
		op = func() error { return p.engine.WithdrawReward(caller, to, amount) }
	case "bonus":
		op = func() error { return p.engine.WithdrawBonus(caller, to, amount) }
	default:
		return utils.BadRequest(errors.New("kind must be reward or bonus"))
	}
	if err := p.exec(op); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"withdrawn": true})
}

func (p *Pool) handleChangeOperator(w http.ResponseWriter, req *http.Request) error {
	var body OperatorRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	newOperator, err := parseAddr(body.NewOperator, "newOperator")
	if err != nil {
		return err
	}
	if err := p.exec(func() error { return p.engine.ChangeOperator(caller, newOperator) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"operator": newOperator.String()})
}

func (p *Pool) handleSetRate(w http.ResponseWriter, req *http.Request) error {
	var body RateRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	if err := p.exec(func() error { return p.engine.SetCommissionFeeRate(caller, body.RateBps) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"rateBps": body.RateBps})
}

func (p *Pool) handleSetThresholds(w http.ResponseWriter, req *http.Request) error {
	var body ThresholdsRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	if err := p.exec(func() error { return p.engine.SetTierThresholds(caller, body.Thresholds) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"thresholds": body.Thresholds})
}

func (p *Pool) handleSetCredentialAddress(w http.ResponseWriter, req *http.Request) error {
	var body CredentialAddressRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	addr, err := parseAddr(body.Address, "address")
	if err != nil {
		return err
	}
	if err := p.exec(func() error { return p.engine.SetTierCredentialAddress(caller, addr) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"credentialAddress": addr.String()})
}

func (p *Pool) handleOpen(w http.ResponseWriter, req *http.Request) error {
	var body ToggleRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	if err := p.exec(func() error { return p.engine.OpenPoolForWithdrawal(caller) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"open": true})
}

func (p *Pool) handleClose(w http.ResponseWriter, req *http.Request) error {
	var body ToggleRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	if err := p.exec(func() error { return p.engine.ClosePoolForWithdrawal(caller) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"open": false})
}

func (p *Pool) handleClaimFee(w http.ResponseWriter, req *http.Request) error {
	var body ClaimFeeRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	to, err := parseAddr(body.To, "to")
	if err != nil {
		return err
	}
	amount, err := amountIn(body.Amount)
	if err != nil {
		return utils.BadRequest(errors.WithMessage(err, "amount"))
	}
	if err := p.exec(func() error { return p.engine.ClaimCommissionFee(caller, to, amount) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"claimed": true})
}

func (p *Pool) handleColdWallet(w http.ResponseWriter, req *http.Request) error {
	var body ColdWalletRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	to, err := parseAddr(body.To, "to")
	if err != nil {
		return err
	}
	amount, err := amountIn(body.Amount)
	if err != nil {
		return utils.BadRequest(errors.WithMessage(err, "amount"))
	}
	if err := p.exec(func() error { return p.engine.SaveToColdWallet(caller, to, amount) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"transferred": amountOut(amount)})
}

func (p *Pool) handleEmergencyWithdraw(w http.ResponseWriter, req *http.Request) error {
	var body EmergencyWithdrawRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	depositors, err := parseAddrList(body.Depositors, "depositors")
	if err != nil {
		return err
	}
	destinations, err := parseAddrList(body.Destinations, "destinations")
	if err != nil {
		return err
	}
	amount, err := amountIn(body.Amount)
	if err != nil {
		return utils.BadRequest(errors.WithMessage(err, "amount"))
	}
	if err := p.exec(func() error { return p.engine.EmergencyWithdraw(caller, depositors, destinations, amount) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"drained": len(depositors)})
}

func (p *Pool) handleCredentialTransfer(w http.ResponseWriter, req *http.Request) error {
	var body CredentialTransferRequest
	if err := utils.ParseJSON(req.Body, &body); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	caller, err := parseAddr(body.Caller, "caller")
	if err != nil {
		return err
	}
	var from, to fp.Address
	if body.From != "" {
		if from, err = parseAddr(body.From, "from"); err != nil {
			return err
		}
	}
	if body.To != "" {
		if to, err = parseAddr(body.To, "to"); err != nil {
			return err
		}
	}
	if err := p.exec(func() error { return p.engine.OnTierCredentialTransferred(caller, from, to) }); err != nil {
		return err
	}
	return utils.WriteJSON(w, utils.M{"settled": true})
}

func (p *Pool) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/status").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(p.handleGetStatus))
	sub.Path("/commission").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(p.handleGetCommission))
	sub.Path("/validators/{id}").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(p.handleGetValidator))
	sub.Path("/accounts/{address}").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(p.handleGetAccount))
	sub.Path("/accounts/{address}/reward").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(p.handleGetReward))
	sub.Path("/accounts/{address}/bonus").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(p.handleGetBonus))
	sub.Path("/accounts/{address}/eligibility").Methods(http.MethodGet).HandlerFunc(utils.WrapHandlerFunc(p.handleGetEligibility))

	sub.Path("/validators").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleEnter))
	sub.Path("/validators/leave").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleLeave))
	sub.Path("/validators/transfer").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleTransfer))
	sub.Path("/income").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleIncome))
	sub.Path("/withdrawals").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleWithdraw))
	sub.Path("/tier/transferred").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleCredentialTransfer))

	sub.Path("/admin/init").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleInit))
	sub.Path("/admin/operator").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleChangeOperator))
	sub.Path("/admin/commission-rate").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleSetRate))
	sub.Path("/admin/thresholds").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleSetThresholds))
	sub.Path("/admin/credential-address").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleSetCredentialAddress))
	sub.Path("/admin/open").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleOpen))
	sub.Path("/admin/close").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleClose))
	sub.Path("/admin/claim-fee").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleClaimFee))
	sub.Path("/admin/cold-wallet").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleColdWallet))
	sub.Path("/admin/emergency-withdraw").Methods(http.MethodPost).HandlerFunc(utils.WrapHandlerFunc(p.handleEmergencyWithdraw))
}
