// Binary ucm places and cancels orders against the marketplace processes and
// waits for their settlement.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/permaweb/ao-ucm/internal/config"
	"github.com/permaweb/ao-ucm/internal/ledger"
	"github.com/permaweb/ao-ucm/internal/metrics"
	"github.com/permaweb/ao-ucm/internal/orders"
	"github.com/permaweb/ao-ucm/internal/progress"
	"github.com/permaweb/ao-ucm/internal/util"
	"github.com/permaweb/ao-ucm/internal/wallet"
)

const usage = `usage: ucm [-config path] <command> [flags]

commands:
  create-order      transfer into an orderbook and wait for the order
  cancel-order      request cancellation of an open order
  claim-order       allow, claim and create an order
  deposit-order     verify a deposit and create an order
  create-orderbook  spawn and link an asset orderbook
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := util.NewLogger(cfg.App.LogLevel)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine, closeFn, err := build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}
	defer closeFn()

	if err := dispatch(ctx, engine, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Error().Err(err).Str("command", flag.Arg(0)).Msg("command failed")
		closeFn()
		os.Exit(1)
	}
}

// loadConfig reads path when it exists and falls back to defaults plus the
// environment otherwise.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	if _, err := os.Stat(path); err == nil {
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	} else {
		cfg = &config.Config{}
		if err := config.ParseEnv(cfg); err != nil {
			return nil, err
		}
		cfg.ApplyDefaults()
	}
	return cfg, cfg.Validate()
}

func loadSigner(cfg *config.Config) (wallet.Signer, error) {
	if cfg.Wallet.PrivateKeyBase58 != "" {
		return wallet.FromBase58(cfg.Wallet.PrivateKeyBase58)
	}
	return wallet.LoadFromEnv(cfg.Wallet.KeyEnv)
}

func build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*orders.Engine, func(), error) {
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		closers = nil
	}

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr, reg)
		closers = append(closers, func() { _ = srv.Close() })
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	observers := progress.Multi{progress.NewLogger(log)}
	if cfg.App.ProgressPath != "" {
		recorder, err := progress.NewJSONLRecorder(cfg.App.ProgressPath)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = recorder.Close() })
		observers = append(observers, recorder)
	}

	signer, err := loadSigner(cfg)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("wallet: %w", err)
	}

	httpClient := ledger.NewHTTPClient(cfg.Ledger.MUURL, cfg.Ledger.CUURL, cfg.Ledger.Timeout(), log, rec)
	var client ledger.Client = httpClient
	if cfg.Ledger.StreamURL != "" {
		// token and overridden processes are read from the CU
		processes := []string{cfg.Processes.Marketplace, cfg.Processes.Creator}
		stream := ledger.NewStream(cfg.Ledger.StreamURL, processes, cfg.Ledger.Window, log, rec).WithFallback(httpClient)
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("ledger stream stopped")
			}
		}()
		client = ledger.WithReader(httpClient, stream)
	}

	engine, err := orders.New(orders.Options{
		Client:    client,
		Signer:    signer,
		Processes: cfg.Processes,
		Policies:  orders.PoliciesFromConfig(cfg.Retry),
		Window:    cfg.Ledger.Window,
		Observer:  observers,
		Log:       log,
		Metrics:   rec,
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return engine, closeAll, nil
}

// orderFlags registers the order fields on fs. The route is applied by the
// returned func once fs has been parsed.
func orderFlags(fs *flag.FlagSet, cfg *config.Config) (*orders.Order, func()) {
	o := &orders.Order{}
	fs.StringVar(&o.OrderbookID, "orderbook", cfg.Processes.Marketplace, "orderbook process id")
	fs.StringVar(&o.CreatorID, "creator", cfg.Processes.Creator, "creator (profile) process id")
	fs.StringVar(&o.DominantToken, "dominant", "", "dominant token process id")
	fs.StringVar(&o.SwapToken, "swap", "", "swap token process id")
	fs.StringVar(&o.Quantity, "quantity", "", "order quantity")
	fs.StringVar(&o.UnitPrice, "price", "", "unit price, empty for market orders")
	fs.StringVar(&o.Denomination, "denomination", "", "transfer denomination")
	route := fs.String("route", string(orders.RouteTransfer), "Transfer or Run-Action")
	return o, func() { o.Route = orders.Route(*route) }
}

func dispatch(ctx context.Context, engine *orders.Engine, cfg *config.Config, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	switch command {
	case "create-order":
		o, applyRoute := orderFlags(fs, cfg)
		if err := fs.Parse(args); err != nil {
			return err
		}
		applyRoute()
		id, err := engine.CreateOrder(ctx, *o)
		if err != nil {
			return err
		}
		fmt.Println(id)

	case "cancel-order":
		c := orders.CancelRequest{}
		fs.StringVar(&c.OrderbookID, "orderbook", cfg.Processes.Marketplace, "orderbook process id")
		fs.StringVar(&c.CreatorID, "creator", cfg.Processes.Creator, "creator (profile) process id")
		fs.StringVar(&c.OrderID, "order", "", "order id to cancel")
		fs.StringVar(&c.DominantToken, "dominant", "", "dominant token process id")
		fs.StringVar(&c.SwapToken, "swap", "", "swap token process id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		d, err := engine.CancelOrder(ctx, c)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", d.MessageID, d.CorrelationID)

	case "claim-order":
		o, applyRoute := orderFlags(fs, cfg)
		marketplace := fs.String("marketplace", cfg.Processes.Marketplace, "marketplace process id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		applyRoute()
		id, err := engine.PlaceClaimedOrder(ctx, orders.ClaimOrder{Order: *o, Marketplace: *marketplace})
		if err != nil {
			return err
		}
		fmt.Println(id)

	case "deposit-order":
		o, applyRoute := orderFlags(fs, cfg)
		deposit := fs.String("deposit", "", "deposit transaction id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		applyRoute()
		id, err := engine.PlaceDepositedOrder(ctx, orders.DepositOrder{Order: *o, DepositTxID: *deposit})
		if err != nil {
			return err
		}
		fmt.Println(id)

	case "create-orderbook":
		params := orders.OrderbookSpec{}
		fs.StringVar(&params.AssetID, "asset", "", "asset process id")
		fs.StringVar(&params.CollectionID, "collection", "", "collection process id")
		fs.BoolVar(&params.WriteToAsset, "write-to-asset", false, "record the orderbook id in the asset")
		if err := fs.Parse(args); err != nil {
			return err
		}
		ob, err := engine.CreateOrderbook(ctx, params)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", ob.OrderbookID, ob.ActivityID)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
