package rpcapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/debangeedas/DBP-2025/internal/chain"
	"github.com/debangeedas/DBP-2025/internal/node"
	"github.com/debangeedas/DBP-2025/internal/peers"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("rpcapi: failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, errMsg, reason string) {
	writeJSON(w, status, map[string]string{"error": errMsg, "reason": reason})
}

type newTransactionRequest struct {
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
}

func (s *Server) handleNewTransaction(w http.ResponseWriter, r *http.Request) {
	var req newTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Sender == "" || req.Recipient == "" {
		writeError(w, http.StatusBadRequest, "missing required fields", "sender and recipient are required")
		return
	}

	tx := chain.NewTransaction(req.Sender, req.Recipient, req.Amount)
	ok, reason := s.node.HandleNewTransaction(tx)
	if !ok {
		writeError(w, http.StatusBadRequest, "transaction rejected", reason)
		return
	}

	if !node.LoopSuppressed(r) {
		go s.node.BroadcastTransaction(tx)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":     "Transaction added to pool",
		"transaction": tx,
	})
}

func (s *Server) handlePendingTransactions(w http.ResponseWriter, r *http.Request) {
	txs := s.node.Ledger().PendingTransactions()
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs, "count": len(txs)})
}

func (s *Server) handleRejectedTransactions(w http.ResponseWriter, r *http.Request) {
	rejected := s.node.Ledger().RejectedTransactions()
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": rejected, "count": len(rejected)})
}

func (s *Server) handleTransactionsForAddress(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	txs := s.node.Ledger().TransactionsForAddress(addr)
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs, "count": len(txs)})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	c := s.node.Ledger().Chain()
	writeJSON(w, http.StatusOK, map[string]interface{}{"chain": c, "length": len(c)})
}

func (s *Server) handleChainValidate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":  s.node.Ledger().IsChainValid(),
		"length": s.node.Ledger().ChainLength(),
	})
}

func (s *Server) handleBlockAt(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusNotFound, "block not found", "index must be an integer")
		return
	}
	block, ok := s.node.Ledger().BlockAt(idx)
	if !ok {
		writeError(w, http.StatusNotFound, "block not found", "index out of range")
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *Server) handleNewBlock(w http.ResponseWriter, r *http.Request) {
	var block chain.Block
	if err := json.NewDecoder(r.Body).Decode(&block); err != nil {
		writeError(w, http.StatusBadRequest, "invalid block payload", err.Error())
		return
	}

	ok, err := s.node.HandleNewBlock(&block)
	if err != nil {
		writeError(w, http.StatusBadRequest, "block rejected", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "block rejected", "block does not extend the current chain")
		return
	}

	if !node.LoopSuppressed(r) {
		go s.node.BroadcastBlock(&block)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"message": "Block added to chain", "block": &block})
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsMiner() {
		writeError(w, http.StatusForbidden, "not a miner node", "only miner nodes can mine blocks")
		return
	}
	block, err := s.node.MineNow()
	if err != nil {
		writeError(w, http.StatusBadRequest, "nothing to mine", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "New block mined", "block": block})
}

func (s *Server) handleMineStart(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsMiner() {
		writeError(w, http.StatusForbidden, "not a miner node", "only miner nodes can mine blocks")
		return
	}
	s.node.StartMining()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Mining started"})
}

func (s *Server) handleMineStop(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsMiner() {
		writeError(w, http.StatusForbidden, "not a miner node", "only miner nodes can mine blocks")
		return
	}
	s.node.StopMining()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Mining stopped"})
}

type announceRequest struct {
	Host        string                  `json:"host"`
	Port        int                     `json:"port"`
	NodeType    string                  `json:"node_type"`
	Name        string                  `json:"name"`
	ActiveNodes []peers.ActiveNodeInfo  `json:"active_nodes"`
}

func (s *Server) handleNodesAnnounce(w http.ResponseWriter, r *http.Request) {
	var req announceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Host == "" || req.Port == 0 || req.NodeType == "" {
		writeError(w, http.StatusBadRequest, "missing required node information", "host, port and node_type are required")
		return
	}

	s.node.Registry().RecordActive(req.Host, req.Port, req.NodeType, req.Name)
	for _, a := range req.ActiveNodes {
		s.node.Registry().RecordActive(a.Host, a.Port, a.NodeType, "")
	}

	var known []peers.ActiveNodeInfo
	for _, p := range s.node.Registry().ActiveNodes(true, false) {
		known = append(known, peers.ActiveNodeInfo{Host: p.Host, Port: p.Port, NodeType: p.NodeType})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Node " + req.Host + " recorded as active",
		"node": map[string]interface{}{
			"host":         s.node.Host(),
			"port":         s.node.Port(),
			"node_type":    minerNodeType(s.node.IsMiner()),
			"name":         "Node " + s.node.Identity(),
			"active_nodes": known,
		},
	})
}

func minerNodeType(isMiner bool) string {
	if isMiner {
		return "miner"
	}
	return "full"
}

type registerRequest struct {
	Nodes []string `json:"nodes"`
}

func (s *Server) handleNodesRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Nodes) == 0 {
		writeError(w, http.StatusBadRequest, "invalid node list", "please supply a valid list of nodes")
		return
	}

	registered := 0
	for _, url := range req.Nodes {
		if s.node.Registry().Register(url) {
			registered++
		}
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":     "Registered " + strconv.Itoa(registered) + " new nodes",
		"total_nodes": len(s.node.Registry().AllPeers()),
	})
}

func (s *Server) handleNodesPeers(w http.ResponseWriter, r *http.Request) {
	all := s.node.Registry().AllPeers()
	activeCount := 0
	nodes := make([]map[string]interface{}, 0, len(all))
	for _, p := range all {
		active := s.node.Registry().IsActive(p.Host, p.Port, false)
		if active {
			activeCount++
		}
		nodes = append(nodes, map[string]interface{}{
			"host":      p.Host,
			"port":      p.Port,
			"name":      p.Name,
			"node_type": p.NodeType,
			"active":    active,
			"url":       p.URL(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes":        nodes,
		"active_count": activeCount,
		"total_count":  len(all),
	})
}

func (s *Server) handleNodesResolve(w http.ResponseWriter, r *http.Request) {
	replaced := s.node.Consensus(r.Context())
	c := s.node.Ledger().Chain()
	if replaced {
		writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Chain was replaced", "new_chain": c})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Our chain is authoritative", "chain": c})
}

func (s *Server) handleNodesInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Info())
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": addr,
		"balance": s.node.Ledger().Balance(addr),
	})
}
