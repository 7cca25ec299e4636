package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeOrder    = "order-service"
	ModeWorkflow = "workflow-service"
	ModeNotify   = "notification-subscriber"
)

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeOrder, "order":
		return ModeOrder, true
	case ModeWorkflow, "workflow":
		return ModeWorkflow, true
	case ModeNotify, "notify":
		return ModeNotify, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `order-service --port=3001`
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--mode=") {
			mode = strings.TrimPrefix(arg, "--mode=")
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, nil
	}

	if m, ok := isKnownMode(mode); ok {
		mode = m
	}

	return mode, out, nil
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage:
  ./tableside --mode=<service> [flags]

Services (modes):
  order-service              HTTP API for orders and status transitions
  workflow-service           HTTP API for roles, flow configuration, and the resolver
  notification-subscriber    RabbitMQ subscriber printing live order events

Examples:
  ./tableside --mode=order-service --port=3000 --max-concurrent=50
  ./tableside --mode=workflow-service --port=3001
  ./tableside --mode=notification-subscriber --store=1
  ./tableside --mode=notification-subscriber --store=1 --table=12`)
}

func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./tableside --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
