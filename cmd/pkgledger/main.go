// Command pkgledger is an operator tool for inspecting and correcting
// patients' package ledgers against a configured backend.
//
// Usage:
//
//	pkgledger [-config file] <command> [flags]
//
// Commands: purchase, consume, refund, list, status, reconcile.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/xraph/pkgledger"
	"github.com/xraph/pkgledger/cart"
	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	"github.com/xraph/pkgledger/store/backend"
	"github.com/xraph/pkgledger/types"
)

var errUsage = errors.New("usage")

type app struct {
	ledger *pkgledger.Ledger
	cfg    config
	stdin  io.Reader
	out    io.Writer
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"purchase":  {"-patient ID -name NAME -uses N -days N [-offering ID] [-price CENTS]", runPurchase},
	"consume":   {"-patient ID -entry ID", runConsume},
	"refund":    {"-patient ID -entry ID [-line ID]", runRefund},
	"list":      {"-patient ID [-all]", runList},
	"status":    {"-patient ID -entry ID", runStatus},
	"reconcile": {"-patient ID -file PATH (- for stdin)", runReconcile},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "pkgledger:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("pkgledger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (default ./pkgledger.yaml)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: pkgledger [-config file] <command> [flags]")
		for _, name := range []string{"purchase", "consume", "refund", "list", "status", "reconcile"} {
			fmt.Fprintf(stderr, "  %-10s %s\n", name, commands[name].usage)
		}
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fs.Usage()
		return errUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg.LogLevel)
	if cfg.Store.Driver == backend.DriverMemory {
		logger.Warn("memory store does not persist between invocations")
	}

	s, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	l := pkgledger.New(s, pkgledger.WithLogger(logger))
	if err := l.Start(ctx); err != nil {
		_ = s.Close()
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		if err := l.Stop(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()

	return cmd.run(ctx, &app{ledger: l, cfg: cfg, stdin: stdin, out: stdout}, fs.Args()[1:])
}

// ──────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────

func runPurchase(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("purchase", flag.ContinueOnError)
	patient := fs.String("patient", "", "patient id")
	offering := fs.String("offering", "", "offering id")
	name := fs.String("name", "", "package name")
	uses := fs.Int("uses", 0, "number of uses")
	days := fs.Int("days", 0, "validity in days")
	price := fs.Int64("price", 0, "price in the smallest currency unit")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	o := entry.Offering{
		ID:           *offering,
		Name:         *name,
		TotalUses:    *uses,
		ValidityDays: *days,
		Price:        types.New(*price, a.cfg.Currency),
	}
	e, err := a.ledger.Purchase(ctx, *patient, o)
	if err != nil {
		return err
	}
	return a.printJSON(purchaseResult{Entry: e, Price: o.Price})
}

// purchaseResult is the entry plus what was charged for it. The price is
// not part of the entry; billing owns it.
type purchaseResult struct {
	*entry.Entry
	Price types.Money `json:"price"`
}

type balanceChange struct {
	Outcome pkgledger.Outcome `json:"outcome"`
	Reason  pkgledger.Reason  `json:"reason,omitempty"`
	Clamped bool              `json:"clamped,omitempty"`
	Entry   *entry.Entry      `json:"entry,omitempty"`
	Status  string            `json:"status,omitempty"`
}

func runConsume(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("consume", flag.ContinueOnError)
	patient := fs.String("patient", "", "patient id")
	entryArg := fs.String("entry", "", "entry id")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	entryID, err := id.ParseEntryID(*entryArg)
	if err != nil {
		return err
	}

	res := a.ledger.Consume(ctx, *patient, entryID)
	out := balanceChange{Outcome: res.Outcome, Reason: res.Reason, Entry: res.Entry}
	if res.Entry != nil {
		out.Status = a.ledger.DescribeStatus(res.Entry)
	}
	if err := a.printJSON(out); err != nil {
		return err
	}
	return res.Err()
}

func runRefund(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("refund", flag.ContinueOnError)
	patient := fs.String("patient", "", "patient id")
	entryArg := fs.String("entry", "", "entry id")
	lineArg := fs.String("line", "", "billing line id, for the log only")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	entryID, err := id.ParseEntryID(*entryArg)
	if err != nil {
		return err
	}
	var lineID id.LineID
	if *lineArg != "" {
		if lineID, err = id.ParseLineID(*lineArg); err != nil {
			return err
		}
	}

	res := a.ledger.Refund(ctx, *patient, entryID, lineID, nil)
	out := balanceChange{Outcome: res.Outcome, Reason: res.Reason, Clamped: res.Clamped, Entry: res.Entry}
	if res.Entry != nil {
		out.Status = a.ledger.DescribeStatus(res.Entry)
	}
	if err := a.printJSON(out); err != nil {
		return err
	}
	return res.Err()
}

func runList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	patient := fs.String("patient", "", "patient id")
	all := fs.Bool("all", false, "include expired and exhausted entries")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	var (
		entries []*entry.Entry
		err     error
	)
	if *all {
		entries, err = a.ledger.ListEntries(ctx, *patient)
	} else {
		entries, err = a.ledger.ListActiveEntries(ctx, *patient)
	}
	if err != nil {
		return err
	}

	now := a.ledger.Now()
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tSTATUS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Name, e.State(now), a.ledger.DescribeStatus(e))
	}
	return tw.Flush()
}

func runStatus(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	patient := fs.String("patient", "", "patient id")
	entryArg := fs.String("entry", "", "entry id")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	entryID, err := id.ParseEntryID(*entryArg)
	if err != nil {
		return err
	}

	e, err := a.ledger.GetEntry(ctx, *patient, entryID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "%s: %s\n", e.Name, a.ledger.DescribeStatus(e))
	return err
}

func runReconcile(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	patient := fs.String("patient", "", "patient id")
	file := fs.String("file", "-", "saved billing description")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	var (
		text []byte
		err  error
	)
	if *file == "-" {
		text, err = io.ReadAll(a.stdin)
	} else {
		text, err = os.ReadFile(*file)
	}
	if err != nil {
		return err
	}

	var uses []*cart.PackageUse
	for _, l := range cart.ParseDescription(string(text), a.cfg.Currency) {
		if pu, ok := l.(*cart.PackageUse); ok {
			uses = append(uses, pu)
		}
	}

	report, err := a.ledger.ReconcilePackageUseLines(ctx, strings.TrimSpace(*patient), uses)
	if err != nil {
		return err
	}
	return a.printJSON(report)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
