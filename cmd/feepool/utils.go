package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/dxpool/feepool/feepool"
	"github.com/dxpool/feepool/fp"
	"github.com/dxpool/feepool/lvldb"
	"github.com/dxpool/feepool/state"
)

func fatal(args ...interface{}) {
	var w io.Writer
	if runtime.GOOS == "windows" {
		// The SameFile check below doesn't work on Windows.
		// stdout is unlikely to get redirected though, so just print there.
		w = os.Stdout
	} else {
		outf, _ := os.Stdout.Stat()
		errf, _ := os.Stderr.Stat()
		if outf != nil && errf != nil && os.SameFile(outf, errf) {
			w = os.Stderr
		} else {
			w = io.MultiWriter(os.Stdout, os.Stderr)
		}
	}
	fmt.Fprint(w, "Fatal: ")
	fmt.Fprintln(w, args...)
	os.Exit(1)
}

func initLogger(ctx *cli.Context) {
	logLevel := ctx.GlobalInt(verbosityFlag.Name)
	log15.Root().SetHandler(log15.LvlFilterHandler(log15.Lvl(logLevel), log15.StderrHandler))
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".feepool")
}

func handleExitSignal() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		s := <-sig
		log.Info("exit signal received", "signal", s)
		close(done)
	}()
	return done
}

// instance bundles the opened store, state and engine for one command run.
type instance struct {
	db     *lvldb.LevelDB
	state  *state.State
	engine *feepool.Engine
}

func openInstance(ctx *cli.Context) *instance {
	dir := ctx.GlobalString(dataDirFlag.Name)
	if dir == "" {
		fatal("unable to resolve data directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		fatal(errors.WithMessage(err, "create data directory"))
	}
	db, err := lvldb.New(filepath.Join(dir, "pool.db"), lvldb.Options{})
	if err != nil {
		fatal(errors.WithMessage(err, "open database"))
	}
	st := state.New(db)
	engine := feepool.New(poolAddress(ctx), st, feepool.WithEventSink(logEvents))
	return &instance{db: db, state: st, engine: engine}
}

func (i *instance) close() {
	if err := i.db.Close(); err != nil {
		log.Warn("closing database", "err", err)
	}
}

// commit flushes the state journal to the store.
func (i *instance) commit() error {
	return i.state.Commit()
}

func logEvents(ev feepool.Event) {
	log.Info("event", "name", ev.EventName(), "detail", fmt.Sprintf("%+v", ev))
}

func poolAddress(ctx *cli.Context) fp.Address {
	if s := ctx.GlobalString(poolAddrFlag.Name); s != "" {
		addr, err := fp.ParseAddress(s)
		if err != nil {
			fatal(errors.WithMessage(err, "pool-addr"))
		}
		return *addr
	}
	return fp.BytesToAddress([]byte("fee-pool"))
}

func callerAddress(ctx *cli.Context) fp.Address {
	s := ctx.String(callerFlag.Name)
	if s == "" {
		fatal("--caller required")
	}
	addr, err := fp.ParseAddress(s)
	if err != nil {
		fatal(errors.WithMessage(err, "caller"))
	}
	return *addr
}

func argAddress(ctx *cli.Context, index int, name string) fp.Address {
	addr, err := fp.ParseAddress(ctx.Args().Get(index))
	if err != nil {
		fatal(errors.WithMessage(err, name))
	}
	return *addr
}

func argAddressList(ctx *cli.Context, index int, name string) []fp.Address {
	parts := strings.Split(ctx.Args().Get(index), ",")
	addrs := make([]fp.Address, 0, len(parts))
	for _, part := range parts {
		addr, err := fp.ParseAddress(strings.TrimSpace(part))
		if err != nil {
			fatal(errors.WithMessage(err, name))
		}
		addrs = append(addrs, *addr)
	}
	return addrs
}

func argPubKey(ctx *cli.Context, index int, name string) fp.PubKey {
	key, err := fp.ParsePubKey(ctx.Args().Get(index))
	if err != nil {
		fatal(errors.WithMessage(err, name))
	}
	return *key
}

func argPacked(ctx *cli.Context, index int, name string) []byte {
	s := ctx.Args().Get(index)
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	packed, err := hexutil.Decode(s)
	if err != nil {
		fatal(errors.WithMessage(err, name))
	}
	return packed
}

func argAmount(ctx *cli.Context, index int, name string) *uint256.Int {
	s := ctx.Args().Get(index)
	if s == "" {
		return uint256.NewInt(0)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		fatal(errors.WithMessage(err, name))
	}
	return v
}

func argUint64List(ctx *cli.Context, index int, name string) []uint64 {
	parts := strings.Split(ctx.Args().Get(index), ",")
	values := make([]uint64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			fatal(errors.WithMessage(err, name))
		}
		values = append(values, v)
	}
	return values
}
