package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/inconshreveable/log15"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/dxpool/feepool/api"
	"github.com/dxpool/feepool/metrics"
)

var (
	version   string
	gitCommit string
	gitTag    string
	log       = log15.New()
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version: fullVersion(),
		Name:    "FeePool",
		Usage:   "Pooled-staking fee and incentive ledger",
		Flags: []cli.Flag{
			dataDirFlag,
			apiAddrFlag,
			apiCorsFlag,
			verbosityFlag,
			poolAddrFlag,
			enableAPILogsFlag,
			enableMetricsFlag,
			pprofFlag,
		},
		Action: defaultAction,
		Commands: []cli.Command{
			{
				Name:      "init",
				Usage:     "install the operator and admin roles",
				ArgsUsage: "<operator> <admin>",
				Action:    initAction,
			},
			{
				Name:      "enter",
				Usage:     "register a validator under a depositor",
				ArgsUsage: "<pubkey> <depositor>",
				Flags:     []cli.Flag{callerFlag},
				Action:    enterAction,
			},
			{
				Name:      "leave",
				Usage:     "deactivate a validator",
				ArgsUsage: "<pubkey>",
				Flags:     []cli.Flag{callerFlag},
				Action:    leaveAction,
			},
			{
				Name:      "batch-enter",
				Usage:     "register packed validators pairwise with a depositor list",
				ArgsUsage: "<packed-pubkeys-hex> <depositor,...>",
				Flags:     []cli.Flag{callerFlag},
				Action:    batchEnterAction,
			},
			{
				Name:      "batch-leave",
				Usage:     "deactivate packed validators",
				ArgsUsage: "<packed-pubkeys-hex>",
				Flags:     []cli.Flag{callerFlag},
				Action:    batchLeaveAction,
			},
			{
				Name:      "transfer",
				Usage:     "reassign packed validators to new owners",
				ArgsUsage: "<packed-pubkeys-hex> <new-owner,...>",
				Flags:     []cli.Flag{callerFlag},
				Action:    transferAction,
			},
			{
				Name:      "change-operator",
				Usage:     "reassign the operator role",
				ArgsUsage: "<new-operator>",
				Flags:     []cli.Flag{callerFlag},
				Action:    changeOperatorAction,
			},
			{
				Name:      "set-rate",
				Usage:     "set the commission rate in basis points",
				ArgsUsage: "<bps>",
				Flags:     []cli.Flag{callerFlag},
				Action:    setRateAction,
			},
			{
				Name:      "set-thresholds",
				Usage:     "replace the per-level validator-count thresholds",
				ArgsUsage: "<count,...>",
				Flags:     []cli.Flag{callerFlag},
				Action:    setThresholdsAction,
			},
			{
				Name:      "set-credential-address",
				Usage:     "wire the tier credential contract address",
				ArgsUsage: "<address>",
				Flags:     []cli.Flag{callerFlag},
				Action:    setCredentialAddressAction,
			},
			{
				Name:   "open-withdrawal",
				Usage:  "enable user withdrawals",
				Flags:  []cli.Flag{callerFlag},
				Action: openWithdrawalAction,
			},
			{
				Name:   "close-withdrawal",
				Usage:  "disable user withdrawals",
				Flags:  []cli.Flag{callerFlag},
				Action: closeWithdrawalAction,
			},
			{
				Name:      "claim-fee",
				Usage:     "claim the protocol commission (amount 0 claims all)",
				ArgsUsage: "<to> <amount>",
				Flags:     []cli.Flag{callerFlag},
				Action:    claimFeeAction,
			},
			{
				Name:      "cold-wallet",
				Usage:     "sweep pool balance to a cold wallet",
				ArgsUsage: "<to> <amount>",
				Flags:     []cli.Flag{callerFlag},
				Action:    coldWalletAction,
			},
			{
				Name:      "emergency-withdraw",
				Usage:     "drain listed depositors and pay out to the destinations",
				ArgsUsage: "<depositor,...> <destination,...> <extra-amount>",
				Flags:     []cli.Flag{callerFlag},
				Action:    emergencyWithdrawAction,
			},
			{
				Name:      "income",
				Usage:     "credit incoming validator income to the pool",
				ArgsUsage: "<from> <amount>",
				Action:    incomeAction,
			},
			{
				Name:   "status",
				Usage:  "print the pool status",
				Action: statusAction,
			},
			{
				Name:      "account",
				Usage:     "print a depositor's balances",
				ArgsUsage: "<address>",
				Action:    accountAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultAction(ctx *cli.Context) error {
	defer func() { log.Info("exited") }()

	initLogger(ctx)
	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
	}

	inst := openInstance(ctx)
	defer func() { log.Info("closing database..."); inst.close() }()

	handler := api.New(inst.engine, inst.state, api.Options{
		AllowedOrigins:  ctx.String(apiCorsFlag.Name),
		PprofOn:         ctx.Bool(pprofFlag.Name),
		EnableReqLogger: ctx.Bool(enableAPILogsFlag.Name),
		EnableMetrics:   ctx.Bool(enableMetricsFlag.Name),
	})

	listener, err := net.Listen("tcp", ctx.String(apiAddrFlag.Name))
	if err != nil {
		fatal(err)
	}
	srv := &http.Server{Handler: handler}
	go func() {
		if err := srv.Serve(listener); err != http.ErrServerClosed {
			log.Error("API server stopped", "err", err)
		}
	}()
	log.Info("API server started", "addr", listener.Addr(), "pool", inst.engine.Address())

	<-handleExitSignal()

	log.Info("stopping API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runOp opens the instance, runs one operation and commits on success.
func runOp(ctx *cli.Context, fn func(*instance) error) error {
	initLogger(ctx)
	inst := openInstance(ctx)
	defer inst.close()

	if err := fn(inst); err != nil {
		return err
	}
	return inst.commit()
}

func initAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		operator := argAddress(ctx, 0, "operator")
		admin := argAddress(ctx, 1, "admin")
		return inst.engine.Initialize(operator, admin)
	})
}

func enterAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		id := argPubKey(ctx, 0, "pubkey")
		depositor := argAddress(ctx, 1, "depositor")
		return inst.engine.EnterPool(callerAddress(ctx), id, depositor)
	})
}

func leaveAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		id := argPubKey(ctx, 0, "pubkey")
		return inst.engine.LeavePool(callerAddress(ctx), id)
	})
}

func batchEnterAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		packed := argPacked(ctx, 0, "packed-pubkeys")
		depositors := argAddressList(ctx, 1, "depositors")
		return inst.engine.BatchEnterPool(callerAddress(ctx), packed, depositors)
	})
}

func batchLeaveAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		packed := argPacked(ctx, 0, "packed-pubkeys")
		return inst.engine.BatchLeavePool(callerAddress(ctx), packed)
	})
}

func transferAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		packed := argPacked(ctx, 0, "packed-pubkeys")
		newOwners := argAddressList(ctx, 1, "new-owners")
		return inst.engine.TransferValidatorByAdmin(callerAddress(ctx), packed, newOwners)
	})
}

func changeOperatorAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		newOperator := argAddress(ctx, 0, "new-operator")
		return inst.engine.ChangeOperator(callerAddress(ctx), newOperator)
	})
}

func setRateAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		rate := argAmount(ctx, 0, "bps")
		return inst.engine.SetCommissionFeeRate(callerAddress(ctx), uint16(rate.Uint64()))
	})
}

func setThresholdsAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		thresholds := argUint64List(ctx, 0, "thresholds")
		return inst.engine.SetTierThresholds(callerAddress(ctx), thresholds)
	})
}

func setCredentialAddressAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		addr := argAddress(ctx, 0, "address")
		return inst.engine.SetTierCredentialAddress(callerAddress(ctx), addr)
	})
}

func openWithdrawalAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		return inst.engine.OpenPoolForWithdrawal(callerAddress(ctx))
	})
}

func closeWithdrawalAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		return inst.engine.ClosePoolForWithdrawal(callerAddress(ctx))
	})
}

func claimFeeAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		to := argAddress(ctx, 0, "to")
		amount := argAmount(ctx, 1, "amount")
		return inst.engine.ClaimCommissionFee(callerAddress(ctx), to, amount)
	})
}

func coldWalletAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		to := argAddress(ctx, 0, "to")
		amount := argAmount(ctx, 1, "amount")
		return inst.engine.SaveToColdWallet(callerAddress(ctx), to, amount)
	})
}

func emergencyWithdrawAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		depositors := argAddressList(ctx, 0, "depositors")
		destinations := argAddressList(ctx, 1, "destinations")
		extra := argAmount(ctx, 2, "extra-amount")
		return inst.engine.EmergencyWithdraw(callerAddress(ctx), depositors, destinations, extra)
	})
}

func incomeAction(ctx *cli.Context) error {
	return runOp(ctx, func(inst *instance) error {
		from := argAddress(ctx, 0, "from")
		amount := argAmount(ctx, 1, "amount")
		return inst.engine.Receive(from, amount)
	})
}

func statusAction(ctx *cli.Context) error {
	initLogger(ctx)
	inst := openInstance(ctx)
	defer inst.close()

	initialized, err := inst.engine.Initialized()
	if err != nil {
		return err
	}
	admin, err := inst.engine.Admin()
	if err != nil {
		return err
	}
	operator, err := inst.engine.Operator()
	if err != nil {
		return err
	}
	rate, err := inst.engine.CommissionFeeRate()
	if err != nil {
		return err
	}
	open, err := inst.engine.IsOpenForWithdrawal()
	if err != nil {
		return err
	}
	validators, err := inst.engine.TotalValidatorsCount()
	if err != nil {
		return err
	}
	balance, err := inst.engine.PoolBalance()
	if err != nil {
		return err
	}
	coldTotal, err := inst.engine.ColdWalletTotal()
	if err != nil {
		return err
	}
	fmt.Printf(`pool        %v
initialized %v
admin       %v
operator    %v
rate (bps)  %v
open        %v
validators  %v
balance     %v
cold total  %v
`, inst.engine.Address(), initialized, admin, operator, rate, open, validators, balance.Dec(), coldTotal.Dec())
	return nil
}

func accountAction(ctx *cli.Context) error {
	initLogger(ctx)
	inst := openInstance(ctx)
	defer inst.close()

	addr := argAddress(ctx, 0, "address")
	shares, err := inst.engine.UserInfo(addr)
	if err != nil {
		return err
	}
	accrued, pending, withdrawn, err := inst.engine.UserRewardInfo(addr)
	if err != nil {
		return err
	}
	bonusPending, bonusWithdrawn, err := inst.engine.UserNftInfo(addr)
	if err != nil {
		return err
	}
	fmt.Printf(`account          %v
validators       %v
reward accrued   %v
reward pending   %v
reward withdrawn %v
bonus pending    %v
bonus withdrawn  %v
`, addr, shares, accrued.Dec(), pending.Dec(), withdrawn.Dec(), bonusPending.Dec(), bonusWithdrawn.Dec())
	return nil
}
