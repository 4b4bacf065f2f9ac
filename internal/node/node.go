// Package node wires a Ledger and a PeerRegistry together into a gossiping,
// consensus-seeking participant in the network (spec.md §4.5).
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/debangeedas/DBP-2025/internal/chain"
	"github.com/debangeedas/DBP-2025/internal/peers"
)

const (
	broadcastTimeout = 5 * time.Second
	chainPullTimeout = 5 * time.Second

	// autoMineThreshold is the exact pending non-system transaction count
	// that triggers a synchronous mine, matching node.py's
	// "exactly 3 pending transactions" rule (spec.md §4.5/§8).
	autoMineThreshold = 3
)

// sourceBroadcastHeader/sourceNodeHeader are the loop-suppression headers
// every node sets on outbound broadcasts and checks on inbound ones
// (spec.md §6).
const (
	sourceBroadcastHeader = "X-Source-Type"
	sourceBroadcastValue  = "node_broadcast"
	sourceNodeHeader      = "X-Source-Node"
)

// broadcastFailures counts peer POSTs during fan-out that failed in
// transport or were answered with a non-success status.
var broadcastFailures = metrics.NewRegisteredCounter("node/broadcast/failures", nil)

// TransactionEvent is pushed to subscribers on every admitted transaction,
// whether submitted locally or received from a peer.
type TransactionEvent struct {
	Transaction chain.Transaction
}

// BlockEvent is pushed to subscribers on every block appended to this
// node's chain.
type BlockEvent struct {
	Block *chain.Block
}

// Node owns a Ledger and a PeerRegistry and implements gossip, consensus,
// and cooperative mining over them (spec.md §4.5).
type Node struct {
	host string
	port int

	nodeAddress   string
	miningAddress string
	isMiner       bool

	ledger   *chain.Ledger
	registry *peers.Registry

	client *http.Client

	mining struct {
		sync.Mutex
		interval time.Duration
		stop     chan struct{}
		wg       sync.WaitGroup
		running  bool
	}

	txFeed    event.Feed
	blockFeed event.Feed
}

// New constructs a Node bound to host:port, owning ledger and registry.
// miningInterval governs the backup mining loop started by StartMining.
func New(host string, port int, ledger *chain.Ledger, registry *peers.Registry, isMiner bool, miningInterval time.Duration) *Node {
	n := &Node{
		host:          host,
		port:          port,
		nodeAddress:   strings.ReplaceAll(uuid.NewString(), "-", ""),
		isMiner:       isMiner,
		ledger:        ledger,
		registry:      registry,
		client:        &http.Client{},
	}
	n.miningAddress = "miner-" + n.nodeAddress
	n.mining.interval = miningInterval
	log.Info("node: initialized", "identity", n.Identity(), "address", n.nodeAddress, "miner", isMiner)
	return n
}

// Identity returns the "host:port" string used to identify this node on
// the wire (spec.md §4.4 active-node keys).
func (n *Node) Identity() string {
	return fmt.Sprintf("%s:%d", n.host, n.port)
}

func (n *Node) Host() string        { return n.host }
func (n *Node) Port() int           { return n.port }
func (n *Node) NodeAddress() string { return n.nodeAddress }
func (n *Node) IsMiner() bool       { return n.isMiner }
func (n *Node) Ledger() *chain.Ledger      { return n.ledger }
func (n *Node) Registry() *peers.Registry  { return n.registry }

func (n *Node) nodeType() string {
	if n.isMiner {
		return "miner"
	}
	return "full"
}

// SubscribeTransactions registers ch to receive every future admitted
// transaction (spec.md §4.13 live feed addition).
func (n *Node) SubscribeTransactions(ch chan<- TransactionEvent) event.Subscription {
	return n.txFeed.Subscribe(ch)
}

// SubscribeBlocks registers ch to receive every future appended block.
func (n *Node) SubscribeBlocks(ch chan<- BlockEvent) event.Subscription {
	return n.blockFeed.Subscribe(ch)
}

// HandleNewTransaction admits tx to the ledger. On success it triggers the
// auto-mine-at-3 rule (mirroring node.py:handle_new_transaction) when this
// node is a miner, and publishes a TransactionEvent either way.
func (n *Node) HandleNewTransaction(tx chain.Transaction) (bool, string) {
	ok, reason := n.ledger.AddTransaction(tx)
	if !ok {
		return false, reason
	}

	n.txFeed.Send(TransactionEvent{Transaction: tx})

	pending := n.ledger.NonSystemPendingCount()
	switch {
	case n.isMiner && pending == autoMineThreshold:
		log.Info("node: exactly 3 pending transactions, mining synchronously")
		n.mineAndBroadcast()
	case n.isMiner && pending > autoMineThreshold:
		log.Warn("node: pending transactions exceed auto-mine threshold", "pending", pending)
	case !n.isMiner && pending == autoMineThreshold:
		log.Warn("node: 3 pending transactions but this node is not a miner")
	}
	return true, ""
}

// HandleNewBlock applies a block received from a peer. If it extends the
// current tip by exactly one, it is appended directly; if it represents a
// longer chain, full consensus is triggered instead (spec.md §4.5,
// node.py:handle_new_block).
func (n *Node) HandleNewBlock(block *chain.Block) (bool, error) {
	tip := n.ledger.LatestBlock()

	if block.Index == tip.Index+1 && block.PreviousHash == tip.Hash {
		if err := n.ledger.AppendBlock(block); err != nil {
			return false, err
		}
		n.blockFeed.Send(BlockEvent{Block: block})
		return true, nil
	}

	if block.Index > tip.Index {
		n.Consensus(context.Background())
		return true, nil
	}

	return false, nil
}

// LoopSuppressed reports whether r carries the loop-suppression headers
// set by BroadcastTransaction/BroadcastBlock, meaning the RPC layer must
// not re-broadcast whatever it admits from this request (spec.md §6).
func LoopSuppressed(r *http.Request) bool {
	return r.Header.Get(sourceBroadcastHeader) == sourceBroadcastValue
}

// BroadcastTransaction gossips tx to every active peer, tagging the
// request so receivers never re-broadcast it (spec.md §6 loop
// suppression).
func (n *Node) BroadcastTransaction(tx chain.Transaction) {
	active := n.registry.ActiveNodes(true, true)
	if len(active) == 0 {
		log.Warn("node: no active peers to broadcast transaction to")
		return
	}
	body, err := json.Marshal(tx)
	if err != nil {
		log.Error("node: failed to marshal transaction for broadcast", "err", err)
		return
	}
	n.fanOut(active, "/transactions/new", body)
}

// BroadcastBlock gossips block to every active peer.
func (n *Node) BroadcastBlock(block *chain.Block) {
	active := n.registry.ActiveNodes(true, true)
	if len(active) == 0 {
		log.Warn("node: no active peers to broadcast block to")
		return
	}
	body, err := json.Marshal(block)
	if err != nil {
		log.Error("node: failed to marshal block for broadcast", "err", err)
		return
	}
	n.fanOut(active, "/blocks/new", body)
}

func (n *Node) fanOut(targets []peers.Peer, path string, body []byte) {
	var g errgroup.Group
	var okCount int
	var mu sync.Mutex

	for _, p := range targets {
		p := p
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL()+path, bytes.NewReader(body))
			if err != nil {
				return nil
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(sourceBroadcastHeader, sourceBroadcastValue)
			req.Header.Set(sourceNodeHeader, n.Identity())

			resp, err := n.client.Do(req)
			if err != nil {
				broadcastFailures.Inc(1)
				log.Error("node: broadcast failed", "peer", p.URL(), "path", path, "err", err)
				return nil
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
				mu.Lock()
				okCount++
				mu.Unlock()
			} else {
				broadcastFailures.Inc(1)
				log.Warn("node: broadcast rejected by peer", "peer", p.URL(), "path", path, "status", resp.StatusCode)
			}
			return nil
		})
	}
	_ = g.Wait()
	log.Info("node: broadcast complete", "path", path, "succeeded", okCount, "of", len(targets))
}

type chainResponse struct {
	Chain  []*chain.Block `json:"chain"`
	Length int            `json:"length"`
}

// Consensus pulls the chain from every active peer and adopts the longest
// one that validates, matching node.py:consensus.
func (n *Node) Consensus(ctx context.Context) bool {
	active := n.registry.ActiveNodes(true, false)
	log.Info("node: running consensus", "active_peers", len(active))

	type candidate struct {
		blocks []*chain.Block
		length int
	}
	results := make(chan candidate, len(active))

	var g errgroup.Group
	for _, p := range active {
		p := p
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(ctx, chainPullTimeout)
			defer cancel()

			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.URL()+"/chain", nil)
			if err != nil {
				return nil
			}
			resp, err := n.client.Do(req)
			if err != nil {
				log.Error("node: failed to fetch chain from peer", "peer", p.URL(), "err", err)
				return nil
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil
			}
			var cr chainResponse
			if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
				return nil
			}
			results <- candidate{blocks: cr.Chain, length: cr.Length}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	maxLength := n.ledger.ChainLength()
	var winner []*chain.Block
	for c := range results {
		if c.length > maxLength {
			// Validate on a scratch ledger so an invalid longest chain does
			// not hide a shorter valid one that is still longer than ours.
			if ok, _ := chain.NewLedger(n.ledger.Difficulty()).ReplaceChain(c.blocks); !ok {
				continue
			}
			maxLength = c.length
			winner = c.blocks
		}
	}

	if winner == nil {
		return false
	}
	replaced, err := n.ledger.ReplaceChain(winner)
	if err != nil {
		log.Warn("node: longer chain rejected during consensus", "err", err)
		return false
	}
	if replaced {
		log.Info("node: chain replaced via consensus", "length", maxLength)
		if tip := n.ledger.LatestBlock(); tip != nil {
			n.blockFeed.Send(BlockEvent{Block: tip})
		}
	}
	return replaced
}

// AnnounceToPeers marks this node active, shares its known-active set with
// every registered peer, and learns theirs in return (spec.md §4.4/§4.5,
// node.py:announce_to_peers).
func (n *Node) AnnounceToPeers() {
	n.registry.MarkSelfActive()

	var known []peers.ActiveNodeInfo
	for _, p := range n.registry.ActiveNodes(true, false) {
		known = append(known, peers.ActiveNodeInfo{Host: p.Host, Port: p.Port, NodeType: p.NodeType})
	}

	self := peers.SelfInfo{
		Host:     n.host,
		Port:     n.port,
		NodeType: n.nodeType(),
		Name:     fmt.Sprintf("Node %s:%d", n.host, n.port),
	}
	n.registry.Announce(self, known)
}

// NodeInfo is the payload for GET /nodes/info (spec.md §6).
type NodeInfo struct {
	Address              string `json:"address"`
	Host                  string `json:"host"`
	Port                  int    `json:"port"`
	NodeType              string `json:"node_type"`
	RegisteredNodes       int    `json:"registered_nodes"`
	ActiveNodes           int    `json:"active_nodes"`
	ChainLength           int    `json:"chain_length"`
	PendingTransactions   int    `json:"pending_transactions"`
	IsMining              bool   `json:"is_mining"`
	MinerMode             bool   `json:"miner_mode"`
}

// Info reports a snapshot of this node's identity and state.
func (n *Node) Info() NodeInfo {
	active := n.registry.ActiveNodes(true, false)
	return NodeInfo{
		Address:             n.nodeAddress,
		Host:                n.host,
		Port:                n.port,
		NodeType:            n.nodeType(),
		RegisteredNodes:     len(n.registry.AllPeers()),
		ActiveNodes:         len(active),
		ChainLength:         n.ledger.ChainLength(),
		PendingTransactions: len(n.ledger.PendingTransactions()),
		IsMining:            n.IsMining(),
		MinerMode:           n.isMiner,
	}
}
