// vkycctl queries a running vKYC desk over gRPC.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ashureev/vkyc-desk/internal/rpc"
	"github.com/spf13/pflag"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var addr string
	var timeout time.Duration

	flagSet := pflag.NewFlagSet("vkycctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&addr, "addr", envOr("VKYC_GRPC_ADDR", "localhost:9090"), "gRPC address of the vKYC desk server")
	flagSet.DurationVar(&timeout, "timeout", 5*time.Second, "timeout for connecting and for each call")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stderr, flagSet)
		return errUsage
	}
	if err := validateCommand(rest); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := rpc.NewClient(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	var out any
	switch rest[0] {
	case "dashboard":
		out, err = client.DashboardCounts(ctx)
	case "rooms":
		out, err = client.ListRooms(ctx)
	case "room":
		out, err = client.GetRoom(ctx, rest[1])
	case "health":
		var s string
		s, err = client.Health(ctx, "")
		out = map[string]string{"status": s}
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// validateCommand checks the command and its arguments before dialing.
func validateCommand(args []string) error {
	switch args[0] {
	case "dashboard", "rooms", "health":
		if len(args) != 1 {
			return fmt.Errorf("%s: unexpected argument %q", args[0], args[1])
		}
	case "room":
		if len(args) != 2 {
			return fmt.Errorf("room: expected exactly one room id")
		}
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `vkycctl queries the room directory of a vKYC desk server.

Usage:
  vkycctl [flags] <command>

Commands:
  dashboard    aggregate counts for the agent dashboard
  rooms        list every room, newest first
  room <id>    show one room with its recordings
  health       server health status

Flags:
%s`, flagSet.FlagUsages())
}
