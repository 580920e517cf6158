package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/game-service/adminclient"
	"github.com/radieske/arena-wager-platform/pkg/contracts/events"
)

type StatusCmd struct {
	Round uint64 `arg:"" optional:"" help:"Round id (default: active round)"`
}

func (c *StatusCmd) Run(ctx context.Context, cl *adminclient.Client) error {
	return show(cl.Round(ctx, c.Round))
}

type HaltCmd struct {
	Round  uint64 `arg:"" help:"Round id"`
	Reason string `short:"r" default:"operator halt" help:"Reason recorded on the round"`
}

func (c *HaltCmd) Run(ctx context.Context, cl *adminclient.Client) error {
	return show(cl.Halt(ctx, c.Round, c.Reason))
}

type UnlockCmd struct {
	Round uint64 `arg:"" help:"Round id"`
}

func (c *UnlockCmd) Run(ctx context.Context, cl *adminclient.Client) error {
	return show(cl.Unlock(ctx, c.Round))
}

type ForceResetCmd struct {
	Round  uint64 `arg:"" help:"Round id"`
	Reason string `short:"r" required:"" help:"Reason recorded on the round"`
}

func (c *ForceResetCmd) Run(ctx context.Context, cl *adminclient.Client) error {
	return show(cl.ForceReset(ctx, c.Round, c.Reason))
}

type ClaimCmd struct {
	Round uint64 `arg:"" help:"Round id"`
}

func (c *ClaimCmd) Run(ctx context.Context, cl *adminclient.Client) error {
	return show(cl.Claims(ctx, c.Round))
}

type CollectFeeCmd struct {
	Round uint64 `arg:"" help:"Round id"`
}

func (c *CollectFeeCmd) Run(ctx context.Context, cl *adminclient.Client) error {
	return show(cl.CollectHouseFee(ctx, c.Round))
}

type WatchCmd struct {
	Round string `arg:"" optional:"" default:"*" help:"Round id to follow (default: all rounds)"`
}

// Run segue o feed até Ctrl-C; ignora o --timeout das outras ações
func (c *WatchCmd) Run(cl *adminclient.Client) error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	enc := json.NewEncoder(os.Stdout)
	w := &adminclient.Watcher{
		URL:     cl.BaseURL,
		RoundID: c.Round,
		Log:     log,
		OnEvent: func(ev events.RoundEvent) { _ = enc.Encode(ev) },
	}
	w.Start(ctx)
	return nil
}

var CLI struct {
	URL     string        `default:"http://localhost:8080" env:"ARENA_URL" help:"game-service base URL"`
	Token   string        `env:"ADMIN_TOKEN" help:"Admin bearer token"`
	Timeout time.Duration `default:"10s" help:"Request timeout"`

	Status     StatusCmd     `cmd:"" help:"Show a round"`
	Halt       HaltCmd       `cmd:"" help:"Halt automatic progression of a round"`
	Unlock     UnlockCmd     `cmd:"" help:"Reopen betting on a halted or stuck round"`
	ForceReset ForceResetCmd `cmd:"" help:"Refund every stake of a stuck round"`
	Claim      ClaimCmd      `cmd:"" help:"Retry pending payouts of a round"`
	CollectFee CollectFeeCmd `cmd:"" help:"Mark the house fee of a finished round as collected"`
	Watch      WatchCmd      `cmd:"" help:"Stream round events from the WebSocket feed"`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("arena-admin"),
		kong.Description("Operator commands for the wager arena"),
		kong.UsageOnError(),
	)

	client := adminclient.New(CLI.URL, CLI.Token)
	client.HTTP.Timeout = CLI.Timeout

	ctx, cancel := context.WithTimeout(context.Background(), CLI.Timeout)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run(client))
}

func show[T any](v T, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
