package node

import (
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/debangeedas/DBP-2025/internal/chain"
)

// MineNow mines whatever is pending right now and gossips the result. It is
// shared by the manual GET /mine endpoint, the auto-mine-at-3 trigger in
// HandleNewTransaction, and the backup ticker loop below.
func (n *Node) MineNow() (*chain.Block, error) {
	block, err := n.ledger.MinePending(n.miningAddress)
	if err != nil {
		return nil, err
	}
	log.Info("node: mined block", "index", block.Index, "transactions", len(block.Transactions))
	n.blockFeed.Send(BlockEvent{Block: block})
	n.BroadcastBlock(block)
	return block, nil
}

func (n *Node) mineAndBroadcast() {
	if _, err := n.MineNow(); err != nil {
		log.Debug("node: nothing to mine", "err", err)
	}
}

// StartMining launches the backup mining loop: a failsafe that mines
// whenever exactly 3 non-system transactions are pending, on a fixed
// interval, for miner nodes whose auto-mine trigger was never hit
// synchronously (spec.md §4.7, node.py:_mine_continuously).
func (n *Node) StartMining() {
	if !n.isMiner {
		log.Warn("node: cannot start mining, node is not in miner mode")
		return
	}

	n.mining.Lock()
	defer n.mining.Unlock()
	if n.mining.running {
		log.Info("node: background mining already running")
		return
	}

	n.mining.stop = make(chan struct{})
	n.mining.running = true
	n.mining.wg.Add(1)
	go n.mineContinuously(n.mining.stop)
	log.Info("node: started backup mining loop", "interval", n.mining.interval)
}

// StopMining halts the backup mining loop, if running.
func (n *Node) StopMining() {
	n.mining.Lock()
	if !n.mining.running {
		n.mining.Unlock()
		return
	}
	stop := n.mining.stop
	n.mining.Unlock()

	close(stop)
	n.mining.wg.Wait()

	n.mining.Lock()
	n.mining.running = false
	n.mining.Unlock()
	log.Info("node: stopped mining")
}

// IsMining reports whether the backup mining loop is currently active.
func (n *Node) IsMining() bool {
	n.mining.Lock()
	defer n.mining.Unlock()
	return n.mining.running
}

func (n *Node) mineContinuously(stop chan struct{}) {
	defer n.mining.wg.Done()

	ticker := time.NewTicker(n.mining.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pending := n.ledger.NonSystemPendingCount()
			switch {
			case pending == autoMineThreshold:
				log.Info("node: backup mining 3 pending transactions")
				n.mineAndBroadcast()
			case pending > 0:
				log.Info("node: waiting for more transactions", "pending", pending, "threshold", autoMineThreshold)
			default:
				log.Debug("node: no pending transactions to mine")
			}
		}
	}
}
