// Command ledgerctl is an interactive and scriptable client for a running
// ledgernode's RPC surface (spec.md §6, SPEC_FULL.md §4.12). It never
// touches the ledger or node packages directly; every command is an HTTP
// call, exactly like node.py's companion cli.py talks only to api.py.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/urfave/cli/v2"

	"github.com/debangeedas/DBP-2025/internal/ctlclient"
)

func main() {
	app := &cli.App{
		Name:  "ledgerctl",
		Usage: "talk to a ledgernode peer over its RPC surface",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "node",
				Aliases: []string{"n"},
				Value:   "http://localhost:5000",
				Usage:   "address of the node to connect to",
			},
		},
		Action: func(ctx *cli.Context) error {
			s := ctlclient.NewSession(ctlclient.New(ctx.String("node")))
			if ctx.Args().Len() > 0 {
				dispatch(s, ctx.Args().Slice())
				return nil
			}
			runInteractive(s)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}
}

// dispatch parses a command line the same way cli.py's process_command
// does: first token selects the command, remaining tokens are its args,
// with "mining start"/"mining stop" as the one nested case.
func dispatch(s *ctlclient.Session, parts []string) {
	if len(parts) == 0 {
		return
	}
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "help":
		s.Help()
	case "info":
		s.Info()
	case "chain":
		s.Chain()
	case "validate":
		s.Validate()
	case "balance":
		s.Balance(arg(args, 0))
	case "transaction":
		if len(args) < 3 {
			fmt.Println("Error: sender, recipient, and amount required. Usage: transaction <from> <to> <amount>")
			return
		}
		s.Transaction(args[0], args[1], args[2])
	case "pending":
		s.Pending()
	case "rejected":
		s.Rejected()
	case "mine":
		s.Mine()
	case "mining":
		switch arg(args, 0) {
		case "start":
			s.MiningStart()
		case "stop":
			s.MiningStop()
		default:
			fmt.Println("Usage: mining start|stop")
		}
	case "peers":
		s.Peers()
	case "register":
		s.Register(arg(args, 0))
	case "consensus":
		s.Consensus()
	case "block":
		s.Block(arg(args, 0))
	case "history":
		s.History(arg(args, 0))
	case "exit", "quit":
		os.Exit(0)
	default:
		fmt.Printf("Unknown command: %s\n", command)
	}
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// runInteractive drives a liner-backed REPL, mirroring cli.py's
// run_interactive loop: a prompt, a command, repeat until exit or EOF.
func runInteractive(s *ctlclient.Session) {
	fmt.Println("\nLedger CLI")
	fmt.Println("--------------")
	fmt.Println("Type 'help' for available commands")
	fmt.Println("Type 'exit' to quit")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("\n> ")
		if err != nil {
			fmt.Println("\nExiting...")
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		dispatch(s, strings.Fields(input))
	}
}
