// Command concierge-cli drives a live session over the control service.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"yuzu/concierge/internal/control"
)

func main() {
	addr := flag.String("addr", "localhost:9090", "control gRPC address")
	sessionID := flag.String("session", "", "session id (from POST /sessions)")
	timeout := flag.Duration("timeout", 60*time.Second, "per-call timeout")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: concierge-cli -session ID <start|turn TEXT|state|end|chat>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *sessionID == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	conn, err := control.Dial(*addr)
	if err != nil {
		logger.Fatal("dial control server", zap.String("addr", *addr), zap.Error(err))
	}
	defer conn.Close()
	client := control.NewClient(conn)

	call := func(fn func(ctx context.Context) (map[string]any, error)) {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		st, err := fn(ctx)
		if err != nil {
			logger.Error("call failed", zap.Error(err))
			return
		}
		printState(st)
	}

	switch cmd := flag.Arg(0); cmd {
	case "start":
		call(func(ctx context.Context) (map[string]any, error) { return client.Start(ctx, *sessionID) })
	case "turn":
		text := strings.Join(flag.Args()[1:], " ")
		if text == "" {
			logger.Fatal("turn needs text")
		}
		call(func(ctx context.Context) (map[string]any, error) { return client.DeliverTurn(ctx, *sessionID, text) })
	case "state":
		call(func(ctx context.Context) (map[string]any, error) { return client.State(ctx, *sessionID) })
	case "end":
		call(func(ctx context.Context) (map[string]any, error) { return client.Terminate(ctx, *sessionID) })
	case "chat":
		fmt.Printf("=== session %s (type /end to hang up) ===\n", *sessionID)
		call(func(ctx context.Context) (map[string]any, error) { return client.Start(ctx, *sessionID) })
		in := bufio.NewScanner(os.Stdin)
		for fmt.Print("> "); in.Scan(); fmt.Print("> ") {
			line := strings.TrimSpace(in.Text())
			switch line {
			case "":
				continue
			case "/end":
				call(func(ctx context.Context) (map[string]any, error) { return client.Terminate(ctx, *sessionID) })
				return
			case "/state":
				call(func(ctx context.Context) (map[string]any, error) { return client.State(ctx, *sessionID) })
				continue
			}
			call(func(ctx context.Context) (map[string]any, error) { return client.DeliverTurn(ctx, *sessionID, line) })
		}
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
}

func printState(st map[string]any) {
	ts := time.Now().Format("15:04:05.000")
	keys := make([]string, 0, len(st))
	for k := range st {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, st[k]))
	}
	fmt.Printf("[%s] %s\n", ts, strings.Join(parts, " "))
}
