package rpcapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"

	"github.com/debangeedas/DBP-2025/internal/node"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEvent is the envelope pushed to every connected client (SPEC_FULL.md
// §4.13): additive, never consulted by consensus or admission.
type wsEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// liveFeed fans node-local transaction/block events out to WebSocket
// subscribers, decoupling admission/append from slow consumers the way
// core/txpool/tx_vectorfee_pool.go decouples pool mutation from its
// event.Feed subscribers.
type liveFeed struct {
	n *node.Node

	mu      sync.Mutex
	clients map[*websocket.Conn]chan wsEvent

	txCh    chan node.TransactionEvent
	blockCh chan node.BlockEvent
	done    chan struct{}
}

func newLiveFeed(n *node.Node) *liveFeed {
	f := &liveFeed{
		n:       n,
		clients: make(map[*websocket.Conn]chan wsEvent),
		txCh:    make(chan node.TransactionEvent, 64),
		blockCh: make(chan node.BlockEvent, 64),
		done:    make(chan struct{}),
	}
	n.SubscribeTransactions(f.txCh)
	n.SubscribeBlocks(f.blockCh)
	go f.pump()
	return f
}

func (f *liveFeed) pump() {
	for {
		select {
		case <-f.done:
			return
		case ev := <-f.txCh:
			f.broadcast(wsEvent{Type: "transaction", Data: ev.Transaction})
		case ev := <-f.blockCh:
			f.broadcast(wsEvent{Type: "block", Data: ev.Block})
		}
	}
}

func (f *liveFeed) broadcast(ev wsEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn, ch := range f.clients {
		select {
		case ch <- ev:
		default:
			log.Warn("rpcapi: dropping live feed event for slow websocket client", "remote", conn.RemoteAddr())
		}
	}
}

func (f *liveFeed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("rpcapi: websocket upgrade failed", "err", err)
		return
	}

	ch := make(chan wsEvent, 16)
	f.mu.Lock()
	f.clients[conn] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, conn)
		f.mu.Unlock()
		conn.Close()
	}()

	for ev := range ch {
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

func (f *liveFeed) close() {
	close(f.done)
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.clients {
		conn.Close()
	}
}
