package ctlclient

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// Session bundles a Client with the printers ledgerctl's commands share.
type Session struct {
	*Client
}

// NewSession wraps a Client for command dispatch.
func NewSession(c *Client) *Session {
	return &Session{Client: c}
}

var (
	errColor = color.New(color.FgRed, color.Bold)
	okColor  = color.New(color.FgGreen)
	hdrColor = color.New(color.FgCyan, color.Bold)
)

func printError(prefix string, err error) {
	errColor.Printf("Error: %s: %v\n", prefix, err)
}

func apiError(resp map[string]interface{}) (string, bool) {
	if e, ok := resp["error"]; ok {
		if r, ok := resp["reason"]; ok {
			return fmt.Sprintf("%v: %v", e, r), true
		}
		return fmt.Sprintf("%v", e), true
	}
	return "", false
}

// Help prints the command summary, grounded on cli.py's show_help.
func (s *Session) Help() {
	hdrColor.Println("\nAvailable Commands:")
	fmt.Println("------------------")
	rows := [][]string{
		{"help", "Show this help message"},
		{"info", "Show node information"},
		{"chain", "Show the blockchain"},
		{"validate", "Validate the blockchain"},
		{"balance <address>", "Show balance for an address"},
		{"transaction <from> <to> <amount>", "Create a new transaction"},
		{"pending", "Show pending transactions"},
		{"rejected", "Show rejected transactions"},
		{"mine", "Mine a new block"},
		{"mining start|stop", "Start/stop continuous mining"},
		{"peers", "Show registered peer nodes"},
		{"register <url>", "Register a new peer node"},
		{"consensus", "Run the consensus algorithm"},
		{"block <index>", "Show block details"},
		{"history <address>", "Show transaction history for an address"},
		{"exit", "Exit the CLI"},
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Command", "Description"})
	table.AppendBulk(rows)
	table.Render()
}

// Info fetches and prints GET /nodes/info.
func (s *Session) Info() {
	var resp map[string]interface{}
	if err := s.Get("nodes/info", &resp); err != nil {
		printError("fetching node info", err)
		return
	}
	hdrColor.Println("\nNode Information:")
	fmt.Println("-----------------")
	fmt.Printf("Address: %v\n", resp["address"])
	fmt.Printf("Host: %v\n", resp["host"])
	fmt.Printf("Port: %v\n", resp["port"])
	fmt.Printf("Node Type: %v\n", resp["node_type"])
	fmt.Printf("Registered Nodes: %v\n", resp["registered_nodes"])
	fmt.Printf("Active Nodes: %v\n", resp["active_nodes"])
	fmt.Printf("Chain Length: %v\n", resp["chain_length"])
	fmt.Printf("Pending Transactions: %v\n", resp["pending_transactions"])
	fmt.Printf("Mining Status: %s\n", boolLabel(resp["is_mining"], "Running", "Stopped"))
	fmt.Printf("Mining Mode: %s\n", boolLabel(resp["miner_mode"], "Enabled", "Disabled"))
}

func boolLabel(v interface{}, onTrue, onFalse string) string {
	if b, ok := v.(bool); ok && b {
		return onTrue
	}
	return onFalse
}

// Chain fetches and prints GET /chain as a table.
func (s *Session) Chain() {
	var resp struct {
		Chain []map[string]interface{} `json:"chain"`
		Length int                     `json:"length"`
	}
	if err := s.Get("chain", &resp); err != nil {
		printError("fetching chain", err)
		return
	}
	hdrColor.Printf("\nBlockchain Length: %d\n", resp.Length)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Index", "Hash", "Previous Hash", "Timestamp", "Txs", "Nonce"})
	for _, b := range resp.Chain {
		table.Append([]string{
			fmt.Sprintf("%v", b["index"]),
			truncate(fmt.Sprintf("%v", b["hash"]), 16),
			truncate(fmt.Sprintf("%v", b["previous_hash"]), 16),
			formatTimestamp(b["timestamp"]),
			fmt.Sprintf("%d", len(toSlice(b["transactions"]))),
			fmt.Sprintf("%v", b["nonce"]),
		})
	}
	table.Render()
}

// Validate fetches and prints GET /chain/validate.
func (s *Session) Validate() {
	var resp map[string]interface{}
	if err := s.Get("chain/validate", &resp); err != nil {
		printError("validating chain", err)
		return
	}
	length := resp["length"]
	if valid, _ := resp["valid"].(bool); valid {
		okColor.Printf("\nBlockchain is valid (length: %v)\n", length)
	} else {
		errColor.Printf("\nBlockchain is NOT valid (length: %v)\n", length)
	}
}

// Balance fetches and prints GET /balance/{addr}.
func (s *Session) Balance(address string) {
	if address == "" {
		errColor.Println("Error: address required. Usage: balance <address>")
		return
	}
	var resp map[string]interface{}
	if err := s.Get("balance/"+address, &resp); err != nil {
		printError("fetching balance", err)
		return
	}
	fmt.Printf("\nBalance for %s: %v\n", address, resp["balance"])
}

// Transaction submits POST /transactions/new.
func (s *Session) Transaction(sender, recipient, amountStr string) {
	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		errColor.Println("Error: amount must be a number")
		return
	}
	body := map[string]interface{}{"sender": sender, "recipient": recipient, "amount": amount}
	var resp map[string]interface{}
	if err := s.Post("transactions/new", body, &resp); err != nil {
		printError("creating transaction", err)
		return
	}
	if msg, bad := apiError(resp); bad {
		errColor.Printf("Error: %s\n", msg)
		return
	}
	okColor.Printf("\nTransaction created: %v\n", resp["message"])
}

// Pending fetches and prints GET /transactions/pending.
func (s *Session) Pending() {
	var resp struct {
		Transactions []map[string]interface{} `json:"transactions"`
		Count        int                       `json:"count"`
	}
	if err := s.Get("transactions/pending", &resp); err != nil {
		printError("fetching pending transactions", err)
		return
	}
	hdrColor.Printf("\nPending Transactions: %d\n", resp.Count)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"From", "To", "Amount", "Timestamp"})
	for _, tx := range resp.Transactions {
		table.Append([]string{
			fmt.Sprintf("%v", tx["sender"]),
			fmt.Sprintf("%v", tx["recipient"]),
			fmt.Sprintf("%v", tx["amount"]),
			formatTimestamp(tx["timestamp"]),
		})
	}
	table.Render()
}

// Rejected fetches and prints GET /transactions/rejected.
func (s *Session) Rejected() {
	var resp struct {
		Transactions []map[string]interface{} `json:"transactions"`
		Count        int                       `json:"count"`
	}
	if err := s.Get("transactions/rejected", &resp); err != nil {
		printError("fetching rejected transactions", err)
		return
	}
	hdrColor.Printf("\nRejected Transactions: %d\n", resp.Count)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"From", "To", "Amount", "Reason"})
	for _, item := range resp.Transactions {
		tx, _ := item["transaction"].(map[string]interface{})
		table.Append([]string{
			fmt.Sprintf("%v", tx["sender"]),
			fmt.Sprintf("%v", tx["recipient"]),
			fmt.Sprintf("%v", tx["amount"]),
			fmt.Sprintf("%v", item["reason"]),
		})
	}
	table.Render()
}

// Mine issues GET /mine.
func (s *Session) Mine() {
	var resp map[string]interface{}
	if err := s.Get("mine", &resp); err != nil {
		printError("mining block", err)
		return
	}
	if msg, bad := apiError(resp); bad {
		errColor.Printf("Error: %s\n", msg)
		return
	}
	fmt.Printf("\n%v\n", resp["message"])
	if block, ok := resp["block"].(map[string]interface{}); ok {
		fmt.Printf("Block #%v mined\n", block["index"])
		fmt.Printf("  Hash: %s...\n", truncate(fmt.Sprintf("%v", block["hash"]), 16))
		fmt.Printf("  Transactions: %d\n", len(toSlice(block["transactions"])))
	}
}

// MiningStart issues GET /mine/start.
func (s *Session) MiningStart() {
	s.simpleMessageCall("mine/start", "starting mining")
}

// MiningStop issues GET /mine/stop.
func (s *Session) MiningStop() {
	s.simpleMessageCall("mine/stop", "stopping mining")
}

func (s *Session) simpleMessageCall(path, action string) {
	var resp map[string]interface{}
	if err := s.Get(path, &resp); err != nil {
		printError(action, err)
		return
	}
	if msg, bad := apiError(resp); bad {
		errColor.Printf("Error: %s\n", msg)
		return
	}
	okColor.Printf("\n%v\n", resp["message"])
}

// Peers fetches and prints GET /nodes/peers.
func (s *Session) Peers() {
	var resp struct {
		Nodes       []map[string]interface{} `json:"nodes"`
		ActiveCount int                       `json:"active_count"`
		TotalCount  int                       `json:"total_count"`
	}
	if err := s.Get("nodes/peers", &resp); err != nil {
		printError("fetching peers", err)
		return
	}
	hdrColor.Printf("\nRegistered Nodes: %d (Active: %d)\n", resp.TotalCount, resp.ActiveCount)
	if resp.TotalCount == 0 {
		fmt.Println("No registered nodes found in configuration.")
		fmt.Println("To add a node, use: register <node_url>")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "URL", "Active"})
	for _, n := range resp.Nodes {
		active := "no"
		if a, ok := n["active"].(bool); ok && a {
			active = "yes"
		}
		table.Append([]string{fmt.Sprintf("%v", n["name"]), fmt.Sprintf("%v", n["url"]), active})
	}
	table.Render()
}

// Register submits POST /nodes/register for a single peer URL.
func (s *Session) Register(url string) {
	if url == "" {
		errColor.Println("Error: node URL required. Usage: register <url>")
		return
	}
	var resp map[string]interface{}
	if err := s.Post("nodes/register", map[string]interface{}{"nodes": []string{url}}, &resp); err != nil {
		printError("registering node", err)
		return
	}
	if msg, bad := apiError(resp); bad {
		errColor.Printf("Error: %s\n", msg)
		return
	}
	okColor.Printf("\n%v\n", resp["message"])
}

// Consensus issues GET /nodes/resolve.
func (s *Session) Consensus() {
	var resp map[string]interface{}
	if err := s.Get("nodes/resolve", &resp); err != nil {
		printError("running consensus", err)
		return
	}
	fmt.Printf("\n%v\n", resp["message"])
}

// Block fetches and prints GET /blocks/{index}.
func (s *Session) Block(indexStr string) {
	if _, err := strconv.Atoi(indexStr); err != nil {
		errColor.Println("Error: index must be a number")
		return
	}
	var resp map[string]interface{}
	if err := s.Get("blocks/"+indexStr, &resp); err != nil {
		printError("fetching block", err)
		return
	}
	if _, bad := apiError(resp); bad {
		errColor.Println("Error: block not found")
		return
	}
	hdrColor.Printf("\nBlock #%v\n", resp["index"])
	fmt.Println("-------------")
	fmt.Printf("Hash: %v\n", resp["hash"])
	fmt.Printf("Previous Hash: %v\n", resp["previous_hash"])
	fmt.Printf("Timestamp: %s\n", formatTimestamp(resp["timestamp"]))
	fmt.Printf("Nonce: %v\n", resp["nonce"])
	fmt.Printf("Difficulty: %v\n", resp["difficulty"])
	txs := toSlice(resp["transactions"])
	fmt.Printf("Transactions: %d\n", len(txs))
	if len(txs) > 0 {
		fmt.Println("\nTransactions:")
		for i, raw := range txs {
			tx, _ := raw.(map[string]interface{})
			fmt.Printf("  %d. From: %v To: %v Amount: %v\n", i+1, tx["sender"], tx["recipient"], tx["amount"])
		}
	}
}

// History fetches and prints GET /transactions/address/{addr}.
func (s *Session) History(address string) {
	if address == "" {
		errColor.Println("Error: address required. Usage: history <address>")
		return
	}
	var resp struct {
		Transactions []map[string]interface{} `json:"transactions"`
		Count        int                       `json:"count"`
	}
	if err := s.Get("transactions/address/"+address, &resp); err != nil {
		printError("fetching history", err)
		return
	}
	hdrColor.Printf("\nTransaction History for %s: %d transactions\n", address, resp.Count)
	for i, item := range resp.Transactions {
		tx, _ := item["transaction"].(map[string]interface{})
		blockIdx := item["block_index"]
		if fmt.Sprintf("%v", tx["sender"]) == address {
			fmt.Printf("%d. SENT %v to %v (Block #%v)\n", i+1, tx["amount"], tx["recipient"], blockIdx)
		} else {
			fmt.Printf("%d. RECEIVED %v from %v (Block #%v)\n", i+1, tx["amount"], tx["sender"], blockIdx)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func toSlice(v interface{}) []interface{} {
	if s, ok := v.([]interface{}); ok {
		return s
	}
	return nil
}

func formatTimestamp(v interface{}) string {
	f, ok := v.(float64)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return time.Unix(int64(f), 0).Local().String()
}
