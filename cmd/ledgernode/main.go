// Command ledgernode runs a single peer in the didactic distributed
// ledger network: an HTTP RPC surface over a Ledger and PeerRegistry,
// with optional background mining (spec.md §6, SPEC_FULL.md §4.9).
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics/exp"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/debangeedas/DBP-2025/internal/chain"
	"github.com/debangeedas/DBP-2025/internal/node"
	"github.com/debangeedas/DBP-2025/internal/peers"
	"github.com/debangeedas/DBP-2025/internal/rpcapi"
)

const flagCategory = "NODE"

var (
	hostFlag = &cli.StringFlag{
		Name:     "host",
		Value:    "0.0.0.0",
		Usage:    "host address to bind the RPC surface to",
		Category: flagCategory,
	}
	portFlag = &cli.IntFlag{
		Name:     "port",
		Value:    5000,
		Usage:    "port to bind the RPC surface to",
		Category: flagCategory,
	}
	difficultyFlag = &cli.IntFlag{
		Name:     "difficulty",
		Value:    4,
		Usage:    "number of leading hex zeros required of a mined block hash",
		Category: flagCategory,
	}
	nodeTypeFlag = &cli.StringFlag{
		Name:     "node-type",
		Value:    "full",
		Usage:    "full or miner",
		Category: flagCategory,
	}
	miningIntervalFlag = &cli.DurationFlag{
		Name:     "mining-interval",
		Value:    30 * time.Second,
		Usage:    "interval between backup mining sweeps",
		Category: flagCategory,
	}
	peersFlag = &cli.StringSliceFlag{
		Name:     "peers",
		Usage:    "peer URLs to register and announce to at startup",
		Category: flagCategory,
	}
	dataDirFlag = &cli.StringFlag{
		Name:     "data-dir",
		Value:    ".",
		Usage:    "directory holding nodes_config.json",
		Category: flagCategory,
	}
	logFileFlag = &cli.StringFlag{
		Name:     "log-file",
		Usage:    "path to a rotating log file; stderr only if unset",
		Category: flagCategory,
	}
	logLevelFlag = &cli.StringFlag{
		Name:     "log-level",
		Value:    "info",
		Usage:    "trace|debug|info|warn|error|crit",
		Category: flagCategory,
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:     "metrics-addr",
		Usage:    "address to expose metrics on; disabled if unset",
		Category: flagCategory,
	}
)

func main() {
	app := &cli.App{
		Name:  "ledgernode",
		Usage: "run a peer in the didactic distributed ledger network",
		Flags: []cli.Flag{
			hostFlag, portFlag, difficultyFlag, nodeTypeFlag, miningIntervalFlag,
			peersFlag, dataDirFlag, logFileFlag, logLevelFlag, metricsAddrFlag,
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Crit("ledgernode: fatal error", "err", err)
	}
}

// setupLogging installs a terminal handler (colorized when attached to a
// TTY) and, when --log-file is set, additionally mirrors output to a
// lumberjack-rotated file (SPEC_FULL.md §4.10).
func setupLogging(ctx *cli.Context) error {
	level, err := log.LvlFromString(ctx.String(logLevelFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	var out io.Writer = os.Stderr
	format := log.LogfmtFormat()
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = colorable.NewColorableStderr()
		format = log.TerminalFormat(true)
	}

	if path := ctx.String(logFileFlag.Name); path != "" {
		rotator := &lumberjack.Logger{Filename: path, MaxSize: 100, MaxBackups: 5, MaxAge: 28}
		out = io.MultiWriter(out, rotator)
	}

	log.Root().SetHandler(log.LvlFilterHandler(level, log.StreamHandler(out, format)))
	return nil
}

func run(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}

	dataDir := ctx.String(dataDirFlag.Name)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	if addr := ctx.String(metricsAddrFlag.Name); addr != "" {
		log.Info("ledgernode: exposing metrics", "addr", addr)
		exp.Setup(addr)
	}

	host := ctx.String(hostFlag.Name)
	port := ctx.Int(portFlag.Name)
	isMiner := ctx.String(nodeTypeFlag.Name) == "miner"

	ledger := chain.NewLedger(ctx.Int(difficultyFlag.Name))

	registry, err := peers.New(filepath.Join(dataDir, "nodes_config.json"), identityHost(host), port, isMiner)
	if err != nil {
		return fmt.Errorf("loading peer registry: %w", err)
	}

	n := node.New(identityHost(host), port, ledger, registry, isMiner, ctx.Duration(miningIntervalFlag.Name))

	for _, url := range ctx.StringSlice(peersFlag.Name) {
		if registry.Register(url) {
			log.Info("ledgernode: registered startup peer", "url", url)
		}
	}
	if len(ctx.StringSlice(peersFlag.Name)) > 0 {
		n.AnnounceToPeers()
		n.Consensus(context.Background())
	}

	if isMiner {
		n.StartMining()
	}

	server := rpcapi.New(fmt.Sprintf("%s:%d", host, port), n)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case sig := <-sigCh:
		log.Info("ledgernode: shutting down", "signal", sig)
		n.StopMining()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down RPC server: %w", err)
		}
	}
	return nil
}

// identityHost normalizes loopback addresses the way node.py does, so two
// nodes on the same machine agree on this node's identity regardless of
// which loopback form they used to reach it.
func identityHost(host string) string {
	if host == "localhost" || host == "127.0.0.1" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}
