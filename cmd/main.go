package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vidar/internal/common"
	"vidar/internal/engine"
	"vidar/internal/ledger"
	"vidar/internal/metrics"
	"vidar/internal/net"
)

// Genesis assets and pair, registered so a fresh node is tradable
// without an admin round-trip.
var (
	genesisBase  = common.AssetID([]byte{1, 2})
	genesisQuote = common.AssetID([]byte{3, 4})
)

func main() {
	address := flag.String("address", "0.0.0.0", "listen address")
	port := flag.Int("port", 9001, "listen port")
	metricsAddr := flag.String("metrics", "127.0.0.1:9090", "metrics listen address")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Genesis state: default token types and their pair.
	l := ledger.New()
	l.AddAssetType(genesisBase, 1000)
	l.AddAssetType(genesisQuote, 1000)

	eng := engine.New(l)
	if err := eng.AddOrderPair(common.OrderPair{Base: genesisBase, Quote: genesisQuote}); err != nil {
		log.Fatal().Err(err).Msg("unable to register genesis pair")
	}

	// Setup the TCP server and wire it back as the engine's reporter.
	srv := net.New(*address, *port, eng)
	eng.SetReporter(srv)

	go metrics.Serve(ctx, *metricsAddr)
	go srv.Run(ctx)
	// Block on running the server.
	<-ctx.Done()
}
