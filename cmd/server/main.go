package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jacobstahl/agent-exchange/internal/abm"
	"github.com/jacobstahl/agent-exchange/internal/broker"
	"github.com/jacobstahl/agent-exchange/internal/domain"
	"github.com/jacobstahl/agent-exchange/internal/handler"
	"github.com/jacobstahl/agent-exchange/internal/marketdata"
	"github.com/jacobstahl/agent-exchange/internal/middleware"
)

func main() {
	log.Println("Starting agent exchange service...")

	// --- Core components ---

	// Simulation engine (agents + per-asset matchers)
	sim := abm.NewABM()

	// Market data publisher (tick bars, moving averages, execution log)
	barInterval := envUint("BAR_INTERVAL_TICKS", 10)
	publisher := marketdata.NewPublisher(domain.Tick(barInterval))

	// Broker (trader accounts, funds checks, earmarks, settlement)
	accounts := broker.NewBroker()

	// The broker vets every placement against tradable funds and earmarks
	// what open orders hold; every delivered match fans out to market data,
	// settlement and metrics.
	sim.SetOrderObserver(accounts)
	sim.AddMatchListener(publisher.OnMatch)
	sim.AddMatchListener(accounts.OnMatch)
	sim.AddMatchListener(func(match domain.Match, now domain.Tick) {
		middleware.MatchesTotal.WithLabelValues(match.Buyer.Asset).Inc()
		middleware.MatchedQtyTotal.WithLabelValues(match.Buyer.Asset).Add(float64(match.Qty))
	})

	// --- HTTP server ---
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	r := gin.Default()
	r.Use(middleware.PrometheusMiddleware())

	h := handler.NewHandler(sim, publisher, accounts)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// --- Metrics server ---
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		metricsPort = "9090"
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    ":" + metricsPort,
		Handler: metricsMux,
	}

	go func() {
		log.Printf("Metrics server listening on :%s", metricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server error: %v", err)
		}
	}()

	go func() {
		log.Printf("HTTP server listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		log.Printf("Metrics server shutdown error: %v", err)
	}

	log.Println("Agent exchange service stopped.")
}

func envUint(key string, defaultValue uint64) uint64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, raw, defaultValue)
		return defaultValue
	}
	return parsed
}
