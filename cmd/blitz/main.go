package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/iqblitz/internal/journal"
	"github.com/betbot/iqblitz/internal/metrics"
	"github.com/betbot/iqblitz/pkg/config"
	"github.com/betbot/iqblitz/pkg/logger"
	"github.com/betbot/iqblitz/pkg/sdk/http"
	"github.com/betbot/iqblitz/pkg/sdk/iqoption"
	"github.com/betbot/iqblitz/pkg/sdk/stream"
	"github.com/betbot/iqblitz/pkg/shutdown"
)

var (
	configPath = flag.String("config", "", "YAML or JSON config file")
	verbose    = flag.Bool("verbose", false, "debug logging")
	rawFrames  = flag.Bool("raw", false, "log every inbound frame")
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: blitz [flags] <command> [command flags]

commands:
  balances   list account balances
  candles    fetch historical candles
  stream     print live candles until interrupted (-tui for a live table)
  trade      place one blitz option and wait for the result (-side auto
             lets the momentum decider pick the side)
  journal    show recent settlements from the local journal

flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if err := logger.InitDefault(); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if f := logger.GetCurrentLogFile(); f != "" {
		logger.Infof("logging to %s", f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Errorf("%s: %v", flag.Arg(0), err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, command string, args []string) error {
	if command == "journal" {
		return runJournal(ctx, cfg, args)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sm := shutdown.NewManager()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sm.Shutdown(shutdownCtx)
	}()

	var auth iqoption.Authenticator
	if cfg.Account.SSID == "" {
		httpCfg := http.DefaultClientConfig()
		httpCfg.Timeout = cfg.Connection.LoginTimeout
		httpCfg.RetryCount = cfg.Connection.LoginRetries
		httpCfg.ProxyURL = cfg.Connection.Proxy
		auth = http.NewLoginClient(cfg.Connection.LoginURL, cfg.Account.Email, cfg.Account.Password, httpCfg)
	}

	client := iqoption.NewClient(cfg.ClientConfig(), auth)
	if *rawFrames {
		client.SetFrameHook(func(f stream.Frame) { logger.Debugf("<- %s", f) })
	}
	metrics.Bind(client)
	sm.OnShutdown("client", func(context.Context) error { return client.Close() })

	if cfg.MetricsAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.MetricsAddr); err != nil {
			logger.Warnf("metrics server disabled: %v", err)
		}
	}

	if err := client.Start(ctx); err != nil {
		return err
	}

	switch command {
	case "balances":
		return runBalances(ctx, client)
	case "candles":
		return runCandles(ctx, cfg, client, args)
	case "stream":
		return runStream(ctx, cfg, client, args)
	case "trade":
		return runTrade(ctx, cfg, client, sm, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runBalances(ctx context.Context, client *iqoption.Client) error {
	balances, err := client.GetBalances(ctx)
	if err != nil {
		return err
	}
	for _, b := range balances {
		fmt.Printf("%-12d %-10s %14s %s\n", b.ID, b.TypeName(), b.Amount.StringFixed(2), b.Currency)
	}
	return nil
}

func runCandles(ctx context.Context, cfg *config.Config, client *iqoption.Client, args []string) error {
	fs := flag.NewFlagSet("candles", flag.ContinueOnError)
	active := fs.Int64("active", cfg.Trade.ActiveID, "active id")
	interval := fs.Int("interval", cfg.Trade.Interval, "candle size in seconds")
	count := fs.Int("count", 20, "number of candles")
	to := fs.Int64("to", 0, "end time in unix seconds (0 = now)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	candles, err := client.GetCandles(ctx, *active, *interval, *count, *to)
	if err != nil {
		return err
	}
	for _, c := range candles {
		fmt.Printf("%s  o=%.6f h=%.6f l=%.6f c=%.6f v=%.0f\n",
			c.FromTime().UTC().Format("2006-01-02 15:04:05"), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	return nil
}

func runStream(ctx context.Context, cfg *config.Config, client *iqoption.Client, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	active := fs.Int64("active", cfg.Trade.ActiveID, "active id")
	interval := fs.Int("interval", cfg.Trade.Interval, "candle size in seconds")
	tui := fs.Bool("tui", false, "render a live candle table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tui {
		return runWatch(ctx, cfg, client, *active, *interval)
	}

	sub, err := client.StartCandleStream(ctx, *active, *interval, func(raw json.RawMessage) {
		tick, err := iqoption.ParseCandleTick(raw)
		if err != nil {
			logger.Warnf("bad candle tick: %v", err)
			return
		}
		fmt.Printf("[%s] %d/%ds close=%.6f\n", time.Now().Format("15:04:05"), tick.ActiveID, tick.Size, tick.Close)
	})
	if err != nil {
		return err
	}
	logger.WithField("active_id", *active).Info("streaming, press Ctrl+C to stop")
	<-ctx.Done()

	stopCandleStream(client, *active, *interval, sub)
	return nil
}

// runWatch drives the bubbletea candle table. Console logging is switched
// off while the program owns the terminal.
func runWatch(ctx context.Context, cfg *config.Config, client *iqoption.Client, active int64, interval int) error {
	history, err := client.GetCandles(ctx, active, interval, watchRows, 0)
	if err != nil {
		return err
	}

	lc := cfg.LoggerConfig()
	lc.NoConsole = true
	if lc.OutputFile == "" {
		lc.OutputFile = "logs/blitz-tui.log"
	}
	if err := logger.Init(lc); err != nil {
		return err
	}
	defer func() {
		if err := logger.Init(cfg.LoggerConfig()); err == nil {
			logger.Infof("watch log written to %s", lc.OutputFile)
		}
	}()

	p := tea.NewProgram(newWatchModel(active, interval, history), tea.WithAltScreen())
	sub, err := client.StartCandleStream(ctx, active, interval, func(raw json.RawMessage) {
		tick, err := iqoption.ParseCandleTick(raw)
		if err != nil {
			logger.Warnf("bad candle tick: %v", err)
			return
		}
		p.Send(candleMsg(tick))
	})
	if err != nil {
		return err
	}
	defer stopCandleStream(client, active, interval, sub)

	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err = p.Run()
	return err
}

func stopCandleStream(client *iqoption.Client, active int64, interval int, sub *stream.Subscription) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.StopCandleStream(stopCtx, active, interval, sub); err != nil {
		logger.Warnf("stop candle stream: %v", err)
	}
}

func runTrade(ctx context.Context, cfg *config.Config, client *iqoption.Client, sm *shutdown.Manager, args []string) error {
	fs := flag.NewFlagSet("trade", flag.ContinueOnError)
	active := fs.Int64("active", cfg.Trade.ActiveID, "active id")
	side := fs.String("side", "", "call, put or auto (required)")
	lookback := fs.Int("lookback", 10, "candles the auto decider looks at")
	minConfidence := fs.Float64("min-confidence", 0.3, "skip auto trades below this confidence")
	amount := fs.String("amount", cfg.Trade.Amount.String(), "stake")
	duration := fs.Int("duration", cfg.Trade.Duration, "option duration in seconds")
	balanceID := fs.Int64("balance", 0, "balance id (default: first balance of trade.balance_type)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var dir iqoption.Direction
	if *side == "auto" {
		d, err := client.Decide(ctx, iqoption.Momentum(), *active, cfg.Trade.Interval, *lookback)
		if err != nil {
			return err
		}
		if d == nil || d.Confidence < *minConfidence {
			logger.WithFields(logrus.Fields{"active_id": *active, "decision": d}).Info("no trade")
			return nil
		}
		logger.WithFields(logrus.Fields{"side": d.Side, "confidence": d.Confidence}).Info("decider picked a side")
		dir = d.Side
	} else {
		var err error
		if dir, err = iqoption.ParseDirection(*side); err != nil {
			return err
		}
	}
	stake, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}

	if *balanceID == 0 {
		id, err := pickBalance(ctx, client, cfg.BalanceTypeID())
		if err != nil {
			return err
		}
		*balanceID = id
	}
	client.SelectBalance(*balanceID)

	var j *journal.Journal
	if cfg.JournalPath != "" {
		j, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		sm.OnShutdown("journal", func(context.Context) error { return j.Close() })
	}

	s, err := client.PlaceTrade(ctx, *active, dir, stake, *duration)
	if s != nil && j != nil {
		recordCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if jerr := j.Record(recordCtx, s); jerr != nil {
			logger.Warnf("journal: %v", jerr)
		}
		cancel()
	}
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(map[string]interface{}{
		"status":      s.Status(),
		"state":       s.State.String(),
		"result":      s.Result,
		"pnl":         s.PnL,
		"server_pnl":  s.ServerPnL,
		"position_id": s.PositionID,
	}, "", "  ")
	fmt.Println(string(out))
	return nil
}

func pickBalance(ctx context.Context, client *iqoption.Client, typeID int) (int64, error) {
	balances, err := client.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Type == typeID {
			return b.ID, nil
		}
	}
	return 0, errors.New("no balance of the configured type; pass -balance")
}

func runJournal(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "entries to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.JournalPath == "" {
		return errors.New("journal_path is not configured")
	}
	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %-10s %6d %-4s %10s %-8s %-10s pnl=%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.PositionID, e.ActiveID, e.Direction,
			e.Amount.String(), e.Result, e.State, e.PnL.String())
	}
	return nil
}
