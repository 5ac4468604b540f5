// Package metrics exposes the engine's serving-path counters. The
// registry is served over HTTP from the main binary.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	OrdersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidar_orders_submitted_total",
		Help: "Orders received over the wire.",
	})
	OrdersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidar_orders_rejected_total",
		Help: "Orders refused by validation or balance checks.",
	})
	OrdersCanceled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidar_orders_canceled_total",
		Help: "Orders canceled by their owner.",
	})
	Trades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidar_trades_total",
		Help: "Settled fills.",
	})
	TradeVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidar_trade_volume_total",
		Help: "Base-asset quantity settled across all fills.",
	})
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", fmt.Sprintf("http://%s/metrics", addr)).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server failed")
	}
}
