package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/virtkit/qga"
	"github.com/virtkit/qga/protocol"
)

var (
	socketFlag  = flag.String("socket", "", "unix socket path of the agent channel")
	tcpFlag     = flag.String("tcp", "", "tcp address of the agent channel (host:port)")
	vmFlag      = flag.String("vm", "", "libvirt domain name")
	configFlag  = flag.String("config", "", "YAML config file (default $QGA_CONFIG)")
	timeoutFlag = flag.Duration("timeout", 0, "per-command timeout")
	verboseFlag = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if err := run(flag.Args()); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: qga [flags] [command [args...]]")
	fmt.Println()
	fmt.Println("Talks to a QEMU guest agent. With a command it runs once and exits;")
	fmt.Println("without one it starts an interactive prompt.")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  ping                     Check that the agent responds")
	fmt.Println("  info                     Show agent version and supported commands")
	fmt.Println("  cmd <name> [json-args]   Run a guest agent command")
	fmt.Println("  raw <json-line>          Send a raw line and print the reply")
	fmt.Println("  shutdown                 Power down the guest")
	fmt.Println("  stats                    Show client statistics")
	fmt.Println()
	yellow.Println("Flags:")
	flag.PrintDefaults()
}

func run(args []string) error {
	cfg, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	port, err := resolvePort(cfg)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verboseFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	clientConfig := qga.Config{
		Logger:         logger,
		SuppressErrors: true,
	}
	if *timeoutFlag > 0 {
		clientConfig.CommandTimeout = *timeoutFlag
	} else if cfg.Timeout > 0 {
		clientConfig.CommandTimeout = cfg.Timeout
	}

	client, err := qga.NewClient(port, clientConfig)
	if err != nil {
		return err
	}
	defer client.Close()

	if len(args) > 0 {
		return dispatch(context.Background(), client, args[0], strings.Join(args[1:], " "))
	}

	repl(client)
	return nil
}

// resolvePort picks the agent endpoint from the flags, falling back to the
// config file's vm map and socket directory for -vm.
func resolvePort(cfg *cliConfig) (qga.Port, error) {
	switch {
	case *socketFlag != "":
		return qga.SocketPath(*socketFlag), nil
	case *tcpFlag != "":
		return qga.TCPAddr(*tcpFlag), nil
	case *vmFlag != "":
		if path, ok := cfg.VMs[*vmFlag]; ok {
			return qga.SocketPath(path), nil
		}
		if cfg.SocketDir != "" {
			return qga.LibvirtPortIn(cfg.SocketDir, *vmFlag), nil
		}
		return qga.LibvirtPort(*vmFlag), nil
	}
	return nil, fmt.Errorf("one of -socket, -tcp or -vm is required")
}

func repl(client *qga.Client) {
	fmt.Println("QEMU Guest Agent CLI")
	fmt.Println("Commands: ping, info, cmd <name> [json-args], raw <json-line>, shutdown, stats, quit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		verb, rest, _ := strings.Cut(line, " ")
		switch strings.ToLower(verb) {
		case "quit", "exit":
			return
		case "help":
			printUsage()
		default:
			if err := dispatch(context.Background(), client, verb, rest); err != nil {
				color.Red("Error: %v", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func dispatch(ctx context.Context, client *qga.Client, verb, rest string) error {
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "ping":
		return handlePing(ctx, client)
	case "info":
		return handleInfo(ctx, client)
	case "cmd":
		name, argsJSON, _ := strings.Cut(rest, " ")
		if name == "" {
			return fmt.Errorf("usage: cmd <name> [json-arguments]")
		}
		return handleCmd(ctx, client, name, strings.TrimSpace(argsJSON))
	case "raw":
		if rest == "" {
			return fmt.Errorf("usage: raw <json-line>")
		}
		return handleRaw(ctx, client, rest)
	case "shutdown":
		return handleShutdown(ctx, client)
	case "stats":
		return handleStats(client)
	}
	return fmt.Errorf("unknown command %q, try help", verb)
}

func handlePing(ctx context.Context, client *qga.Client) error {
	start := time.Now()
	if err := client.VerifyResponsive(ctx); err != nil {
		return err
	}
	color.Green("agent responded (took %v)", time.Since(start))
	return nil
}

func handleInfo(ctx context.Context, client *qga.Client) error {
	ret, err := client.Cmd(ctx, protocol.CmdGuestInfo, nil)
	if err != nil {
		return err
	}

	if info, ok := ret.(map[string]any); ok {
		if version, ok := info["version"].(string); ok {
			color.Cyan("version: %s", version)
		}
	}

	names := protocol.SupportedCommands(ret)
	fmt.Printf("supported commands (%d):\n", len(names))
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
	return nil
}

func handleCmd(ctx context.Context, client *qga.Client, name, argsJSON string) error {
	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}

	start := time.Now()
	ret, err := client.Cmd(ctx, name, args)
	duration := time.Since(start)
	if err != nil {
		return err
	}

	printPayload(ret)
	fmt.Printf("(took %v)\n", duration)
	return nil
}

func handleRaw(ctx context.Context, client *qga.Client, line string) error {
	start := time.Now()
	reply, err := client.CmdRaw(ctx, append([]byte(line), '\n'))
	duration := time.Since(start)
	if err != nil {
		return err
	}

	printPayload(map[string]any(reply))
	fmt.Printf("(took %v)\n", duration)
	return nil
}

func handleShutdown(ctx context.Context, client *qga.Client) error {
	if err := client.Shutdown(ctx); err != nil {
		return err
	}
	color.Green("shutdown command sent")
	return nil
}

func handleStats(client *qga.Client) error {
	stats := client.Stats()
	channel := client.ChannelStats()

	fmt.Println("Client statistics:")
	fmt.Printf("  Commands: %d\n", stats.Commands)
	fmt.Printf("  Replies: %d\n", stats.Replies)
	fmt.Printf("  Error Replies: %d\n", stats.ErrorReplies)
	fmt.Printf("  Timeouts: %d\n", stats.Timeouts)
	fmt.Printf("  Lock Failures: %d\n", stats.LockFailures)
	fmt.Printf("  Lines Skipped: %d\n", stats.LinesSkipped)
	fmt.Printf("  Records Dropped: %d\n", stats.RecordsDropped)
	fmt.Printf("  Transport Errors: %d\n", stats.TransportErrors)

	fmt.Println("Channel:")
	fmt.Printf("  Live: %d\n", channel.Live)
	fmt.Printf("  Dials: %d\n", channel.Dials)
	fmt.Printf("  Teardowns: %d\n", channel.Teardowns)
	fmt.Printf("  Lock Acquires: %d\n", channel.LockAcquires)
	fmt.Printf("  Lock Waits: %d\n", channel.LockWaits)
	fmt.Printf("  Lock Wait Time: %v\n", channel.LockWaitTime)

	if state, ok := client.CircuitBreakerState(); ok {
		fmt.Printf("Circuit breaker: %s\n", state)
	}
	return nil
}

func printPayload(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(out))
}
