// Command riskctl sends operator commands to a running trader through Redis,
// or edits the saved state of a stopped trader when no Redis is configured.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/internal/config"
	"perpexec/internal/svc"
	"perpexec/pkg/exchange"
	"perpexec/pkg/journal"
	managerpkg "perpexec/pkg/manager"
	"perpexec/pkg/state"
)

var configFile = flag.String("f", "etc/riskctl.yaml", "the config file")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"usage: riskctl [-f config] <kill|resume|confirm|force-resume|reset-baseline|status|update-tpsl> [flags]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	logx.DisableStat()

	cfg := config.MustLoad(*configFile)
	sc, err := svc.NewServiceContext(*cfg)
	logx.Must(err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := run(ctx, sc, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "riskctl:", err)
		os.Exit(1)
	}
}

// optionalFloat is a float flag that remembers whether it was set.
type optionalFloat struct{ v *float64 }

func (o *optionalFloat) String() string {
	if o.v == nil {
		return ""
	}
	return strconv.FormatFloat(*o.v, 'f', -1, 64)
}

func (o *optionalFloat) Set(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	o.v = &f
	return nil
}

func parseCommand(args []string) (managerpkg.Command, error) {
	if len(args) == 0 {
		return managerpkg.Command{}, errors.New("missing command")
	}
	kind, err := managerpkg.ParseCommandKind(args[0])
	if err != nil {
		return managerpkg.Command{}, err
	}
	fs := flag.NewFlagSet(string(kind), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	reason := fs.String("reason", "", "kill-switch reason")
	coin := fs.String("coin", "", "coin for update-tpsl")
	var sl, tp optionalFloat
	fs.Var(&sl, "sl", "new stop-loss price")
	fs.Var(&tp, "tp", "new take-profit price")
	if err := fs.Parse(args[1:]); err != nil {
		return managerpkg.Command{}, fmt.Errorf("%s: %w", kind, err)
	}
	cmd := managerpkg.Command{Kind: kind, Reason: *reason, Coin: *coin, StopLoss: sl.v, TakeProfit: tp.v}
	if kind == managerpkg.CmdUpdateTPSL && (cmd.Coin == "" || (cmd.StopLoss == nil && cmd.TakeProfit == nil)) {
		return managerpkg.Command{}, errors.New("update-tpsl: -coin and at least one of -sl/-tp are required")
	}
	return cmd, nil
}

func run(ctx context.Context, sc *svc.ServiceContext, args []string, out io.Writer) error {
	cmd, err := parseCommand(args)
	if err != nil {
		return err
	}
	if sc.Status != nil {
		return runOnline(ctx, sc, cmd, out)
	}
	return runOffline(ctx, sc, cmd, out)
}

func runOnline(ctx context.Context, sc *svc.ServiceContext, cmd managerpkg.Command, out io.Writer) error {
	if cmd.Kind == managerpkg.CmdStatus {
		st, err := sc.Status.LastStatus(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return errors.New("no status published yet; is the trader running?")
		}
		return printJSON(out, st)
	}
	if err := sc.Inbox.Push(ctx, cmd); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "queued %s; it applies at the next iteration boundary\n", cmd.Kind)
	return err
}

// runOffline edits the state file directly. The trader must be stopped.
func runOffline(ctx context.Context, sc *svc.ServiceContext, cmd managerpkg.Command, out io.Writer) error {
	if cmd.Kind == managerpkg.CmdUpdateTPSL {
		return errors.New("update-tpsl needs a running trader; configure Redis")
	}
	snap, err := sc.Store.Load(ctx)
	switch {
	case errors.Is(err, journal.ErrNoState):
		snap = state.NewSession(sc.ManagerConfig.Capital(sc.Router.IsLive())).Snapshot(time.Now())
	case err != nil:
		return err
	}
	sess := state.FromSnapshot(snap)

	if cmd.Kind == managerpkg.CmdStatus {
		return printJSON(out, managerpkg.Status{
			Iteration: sess.Iteration,
			UpdatedAt: snap.UpdatedAt,
			Backend:   backendName(sc),
			Balance:   sess.Balance,
			Equity:    sess.Equity(nil),
			Positions: sess.Coins(),
			Risk:      sc.Risk.Snapshot(sess.Risk),
		})
	}

	outcome, err := managerpkg.ApplyRisk(sc.Risk, sess, cmd, sess.Equity(nil), time.Now())
	if err != nil {
		return err
	}
	if outcome.Changed() {
		if err := sc.Store.Save(ctx, sess.Snapshot(time.Now())); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(out, "%s: %s\n", cmd.Kind, outcome)
	return err
}

func backendName(sc *svc.ServiceContext) string {
	if sc.Live == "" {
		return exchange.BackendPaper
	}
	return sc.Live
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
