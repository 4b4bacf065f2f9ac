// Package peers implements the persisted peer list and liveness tracking
// used for gossip and consensus (spec.md §4.4).
package peers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
)

// ActivityTimeout is the window after which a peer not heard from is
// considered inactive (spec.md glossary: "active peer").
const ActivityTimeout = 300 * time.Second

const (
	probeTimeout    = 2 * time.Second
	announceTimeout = 5 * time.Second
)

// Peer is one entry in the persisted peer list.
type Peer struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Name     string `json:"name"`
	NodeType string `json:"node_type"`
}

// URL returns the HTTP base URL for this peer.
func (p Peer) URL() string {
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

type peerFile struct {
	Nodes []Peer `json:"nodes"`
}

// Registry owns the peer list (persisted to a JSON file) and the
// active-node liveness table. It does not share mutable state with the
// Ledger (spec.md §3 ownership).
type Registry struct {
	mu sync.RWMutex

	path            string
	selfHost        string
	selfPort        int
	activityTimeout time.Duration

	peers       []Peer
	activeNodes map[string]time.Time

	client *http.Client
}

// New loads (or creates) the peer list at path. If the file does not
// exist, it is created with a single primary entry, matching
// node.py:_load_registered_nodes's bootstrap behavior.
func New(path, selfHost string, selfPort int, selfIsMiner bool) (*Registry, error) {
	r := &Registry{
		path:            path,
		selfHost:        selfHost,
		selfPort:        selfPort,
		activityTimeout: ActivityTimeout,
		activeNodes:     make(map[string]time.Time),
		client:          &http.Client{},
	}
	if err := r.load(selfIsMiner); err != nil {
		return nil, err
	}
	return r, nil
}

// SetActivityTimeout overrides the default 300s activity window. Intended
// for tests.
func (r *Registry) SetActivityTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activityTimeout = d
}

func (r *Registry) withFileLock(exclusive bool, fn func() error) error {
	fl := flock.New(r.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var locked bool
	var err error
	if exclusive {
		locked, err = fl.TryLockContext(ctx, 50*time.Millisecond)
	} else {
		locked, err = fl.TryRLockContext(ctx, 50*time.Millisecond)
	}
	if err != nil {
		log.Warn("peers: could not acquire config file lock, proceeding without it", "path", r.path, "err", err)
	}
	if locked {
		defer fl.Unlock()
	}
	return fn()
}

func (r *Registry) load(selfIsMiner bool) error {
	return r.withFileLock(false, func() error {
		b, err := os.ReadFile(r.path)
		if os.IsNotExist(err) {
			nodeType := "full"
			if selfIsMiner {
				nodeType = "miner"
			}
			defaultFile := peerFile{Nodes: []Peer{
				{Host: "localhost", Port: 5000, Name: "Primary Node", NodeType: nodeType},
			}}
			r.peers = defaultFile.Nodes
			log.Warn("peers: config file not found, creating default", "path", r.path)
			return r.saveLocked(defaultFile)
		}
		if err != nil {
			return fmt.Errorf("peers: reading config file: %w", err)
		}

		var pf peerFile
		if err := json.Unmarshal(b, &pf); err != nil {
			log.Error("peers: error loading config file", "err", err)
			r.peers = nil
			return nil
		}
		r.peers = pf.Nodes
		log.Info("peers: loaded registered nodes from config", "count", len(r.peers))
		return nil
	})
}

func (r *Registry) saveLocked(pf peerFile) error {
	b, err := json.MarshalIndent(pf, "", "    ")
	if err != nil {
		return fmt.Errorf("peers: marshaling config file: %w", err)
	}
	if err := os.WriteFile(r.path, b, 0o644); err != nil {
		return fmt.Errorf("peers: writing config file: %w", err)
	}
	return nil
}

func (r *Registry) persist() {
	err := r.withFileLock(true, func() error {
		return r.saveLocked(peerFile{Nodes: r.peers})
	})
	if err != nil {
		log.Error("peers: error saving config file", "err", err)
	}
}

// parseHostPort accepts bare "host:port" or a full "http://host:port" URL.
func parseHostPort(raw string) (string, int, error) {
	host, portStr := raw, ""
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", 0, fmt.Errorf("invalid URL %q: %w", raw, err)
		}
		host, portStr = u.Hostname(), u.Port()
	} else if idx := strings.LastIndex(raw, ":"); idx >= 0 {
		host, portStr = raw[:idx], raw[idx+1:]
	}
	if portStr == "" {
		portStr = "80"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", raw, err)
	}
	return host, port, nil
}

// Register adds a new peer to the persisted list and reports whether it
// was added. It refuses to register the node itself, and returns false
// without changing the list for an already-registered peer.
func (r *Registry) Register(rawURL string) bool {
	host, port, err := parseHostPort(rawURL)
	if err != nil {
		log.Error("peers: invalid peer URL", "url", rawURL, "err", err)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if host == r.selfHost && port == r.selfPort {
		log.Warn("peers: refusing to register self as peer")
		return false
	}
	for _, p := range r.peers {
		if p.Host == host && p.Port == port {
			return false
		}
	}

	r.peers = append(r.peers, Peer{Host: host, Port: port, Name: fmt.Sprintf("Node %s:%d", host, port), NodeType: "unknown"})
	r.persist()
	log.Info("peers: registered new peer", "host", host, "port", port)
	return true
}

// RecordActive marks host:port as active right now and upserts it into the
// persisted peer list (announce handling, spec.md §4.4).
func (r *Registry) RecordActive(host string, port int, nodeType, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s:%d", host, port)
	r.activeNodes[key] = time.Now()

	for i := range r.peers {
		if r.peers[i].Host == host && r.peers[i].Port == port {
			if nodeType != "" {
				r.peers[i].NodeType = nodeType
			}
			if name != "" {
				r.peers[i].Name = name
			}
			r.persist()
			return
		}
	}

	if name == "" {
		name = fmt.Sprintf("Node %s:%d", host, port)
	}
	r.peers = append(r.peers, Peer{Host: host, Port: port, Name: name, NodeType: nodeType})
	r.persist()
}

// MarkSelfActive records this node's own identity as active, so that an
// entry for this node in its own peer list reads as active (GET
// /nodes/peers). ActiveNodes callers that exclude self never see it.
func (r *Registry) MarkSelfActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeNodes[fmt.Sprintf("%s:%d", r.selfHost, r.selfPort)] = time.Now()
}

// IsActive reports whether host:port has been heard from within the
// activity window. If forceProbe is set and the entry is stale (or
// unknown), a liveness GET against /nodes/info is attempted with a 2s
// timeout; a 200 response refreshes the liveness timestamp.
func (r *Registry) IsActive(host string, port int, forceProbe bool) bool {
	key := fmt.Sprintf("%s:%d", host, port)

	r.mu.RLock()
	lastSeen, ok := r.activeNodes[key]
	timeout := r.activityTimeout
	r.mu.RUnlock()

	if ok && time.Since(lastSeen) < timeout {
		return true
	}
	if !forceProbe {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s:%d/nodes/info", host, port), nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		log.Debug("peers: liveness probe failed", "host", host, "port", port, "err", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	r.mu.Lock()
	r.activeNodes[key] = time.Now()
	r.mu.Unlock()
	return true
}

// ActiveNodes returns the subset of registered peers currently considered
// active, optionally excluding this node's own identity.
func (r *Registry) ActiveNodes(excludeSelf, forceProbe bool) []Peer {
	r.mu.RLock()
	candidates := make([]Peer, len(r.peers))
	copy(candidates, r.peers)
	r.mu.RUnlock()

	var out []Peer
	for _, p := range candidates {
		if excludeSelf && p.Host == r.selfHost && p.Port == r.selfPort {
			continue
		}
		if r.IsActive(p.Host, p.Port, forceProbe) {
			out = append(out, p)
		}
	}
	return out
}

// AllPeers returns a copy of the full registered peer list, active or not.
func (r *Registry) AllPeers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, len(r.peers))
	copy(out, r.peers)
	return out
}

// SelfInfo is this node's own identity, sent in announcements.
type SelfInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	NodeType string `json:"node_type"`
	Name     string `json:"name,omitempty"`
}

// ActiveNodeInfo is a peer announced as active, either our own view or one
// relayed back to us by a peer we announced to.
type ActiveNodeInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	NodeType string `json:"node_type,omitempty"`
}

type announcePayload struct {
	Host        string           `json:"host"`
	Port        int              `json:"port"`
	NodeType    string           `json:"node_type"`
	Name        string           `json:"name,omitempty"`
	ActiveNodes []ActiveNodeInfo `json:"active_nodes"`
}

type announceResponse struct {
	Message string `json:"message"`
	Node    struct {
		Host        string           `json:"host"`
		Port        int              `json:"port"`
		NodeType    string           `json:"node_type"`
		Name        string           `json:"name"`
		ActiveNodes []ActiveNodeInfo `json:"active_nodes"`
	} `json:"node"`
}

// Announce POSTs selfInfo and the known-active set to every registered
// peer's /nodes/announce, and folds each 200 response's reported actives
// back into this registry's liveness table (spec.md §4.4).
func (r *Registry) Announce(self SelfInfo, knownActives []ActiveNodeInfo) {
	payload := announcePayload{
		Host:        self.Host,
		Port:        self.Port,
		NodeType:    self.NodeType,
		Name:        self.Name,
		ActiveNodes: knownActives,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("peers: failed to marshal announce payload", "err", err)
		return
	}

	for _, p := range r.AllPeers() {
		r.announceTo(p, body)
	}
}

func (r *Registry) announceTo(p Peer, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL()+"/nodes/announce", strings.NewReader(string(body)))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Debug("peers: announce failed", "peer", p.URL(), "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return
	}
	var ar announceResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return
	}
	if ar.Node.Host != "" {
		r.RecordActive(ar.Node.Host, ar.Node.Port, ar.Node.NodeType, ar.Node.Name)
	}
	for _, a := range ar.Node.ActiveNodes {
		r.RecordActive(a.Host, a.Port, a.NodeType, "")
	}
}
