// Package rpcapi implements the HTTP adapter over Node/Ledger described in
// spec.md §6, CORS-enabled and metrics-instrumented (SPEC_FULL.md §4.11,
// §6).
package rpcapi

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rs/cors"

	"github.com/debangeedas/DBP-2025/internal/node"
)

var (
	requestCounter = metrics.NewRegisteredCounter("rpcapi/requests", nil)
	requestTimer   = metrics.NewRegisteredTimer("rpcapi/duration", nil)
)

// Server is the HTTP surface described in spec.md §6.
type Server struct {
	node *node.Node
	feed *liveFeed
	http *http.Server
}

// New builds a Server bound to addr (e.g. "localhost:5000"), adapting n's
// operations onto the endpoint table of spec.md §6.
func New(addr string, n *node.Node) *Server {
	s := &Server{
		node: n,
		feed: newLiveFeed(n),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	handler := cors.AllowAll().Handler(metricsMiddleware(mux))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestCounter.Inc(1)
		next.ServeHTTP(w, r)
		requestTimer.UpdateSince(start)
	})
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /transactions/new", s.handleNewTransaction)
	mux.HandleFunc("GET /transactions/pending", s.handlePendingTransactions)
	mux.HandleFunc("GET /transactions/rejected", s.handleRejectedTransactions)
	mux.HandleFunc("GET /transactions/address/{addr}", s.handleTransactionsForAddress)

	mux.HandleFunc("GET /chain", s.handleChain)
	mux.HandleFunc("GET /chain/validate", s.handleChainValidate)

	mux.HandleFunc("GET /blocks/{index}", s.handleBlockAt)
	mux.HandleFunc("POST /blocks/new", s.handleNewBlock)

	mux.HandleFunc("GET /mine", s.handleMine)
	mux.HandleFunc("GET /mine/start", s.handleMineStart)
	mux.HandleFunc("GET /mine/stop", s.handleMineStop)

	mux.HandleFunc("POST /nodes/announce", s.handleNodesAnnounce)
	mux.HandleFunc("POST /nodes/register", s.handleNodesRegister)
	mux.HandleFunc("GET /nodes/peers", s.handleNodesPeers)
	mux.HandleFunc("GET /nodes/resolve", s.handleNodesResolve)
	mux.HandleFunc("GET /nodes/info", s.handleNodesInfo)

	mux.HandleFunc("GET /balance/{addr}", s.handleBalance)

	mux.HandleFunc("GET /ws", s.feed.handleWS)
}

// ListenAndServe starts serving. It blocks until the server stops or
// errors.
func (s *Server) ListenAndServe() error {
	log.Info("rpcapi: listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.feed.close()
	return s.http.Shutdown(ctx)
}
