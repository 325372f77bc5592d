package cmd

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// defaultAddr is where serve listens when neither CHATGRAPH_ADDR nor an
// argument says otherwise.
const defaultAddr = "127.0.0.1:8080"

// parseServeAddr resolves the listen address for `chatgraph serve`.
// Precedence, lowest to highest: built-in default, CHATGRAPH_ADDR, a
// positional argument, the --addr flag.
func parseServeAddr(args []string) (string, error) {
	fallback := defaultAddr
	if env := os.Getenv("CHATGRAPH_ADDR"); env != "" {
		fallback = env
	}

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	addr := fs.String("addr", fallback, "listen address as host:port")

	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		*addr = args[0]
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", fmt.Errorf("parsing serve arguments: %w", err)
	}

	if err := validateAddr(*addr); err != nil {
		return "", fmt.Errorf("listen address %q: %w", *addr, err)
	}
	return *addr, nil
}

// validateAddr checks that addr is a usable host:port pair. An empty host
// means all interfaces; port 0 means kernel-assigned.
func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("want host:port: %w", err)
	}

	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("port must be a number between 0 and 65535, got %q", port)
	}

	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		// Hostnames are resolved at listen time; reject only the clearly
		// broken ones here.
		if strings.ContainsAny(host, " \t\r\n") {
			return fmt.Errorf("host %q contains whitespace", host)
		}
	}
	return nil
}
