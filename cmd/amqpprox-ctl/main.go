// Command amqpprox-ctl is the operator-facing client for the control
// channel: it connects to the daemon's UNIX-domain socket, writes one
// command line, and prints every response line back to stdout (spec §6
// "the operator issues one command per connection and reads the response
// lines back"). Built with github.com/spf13/cobra to match amqpproxd's own
// CLI convention.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(runMain())
}

// runMain returns the process exit code directly (spec §6: "1 on argv
// misuse, 2 on transport exception, 0 otherwise") rather than calling
// os.Exit from inside RunE, where cobra's own error printing would race it.
func runMain() int {
	var socketPath string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:           "amqpprox-ctl [command...]",
		Short:         "Send one command to a running amqpproxd over its control socket",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&socketPath, "socket", "/var/run/amqpproxd.sock", "control channel UNIX socket path")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "connection and response deadline")

	exitCode := 0
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		line := strings.Join(args, " ")
		code, err := sendCommand(socketPath, line, timeout, os.Stdout)
		exitCode = code
		return err
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

// sendCommand dials socketPath, writes line followed by a newline, and
// copies every response line to out until the peer closes the connection.
// It returns the process exit code to use alongside any error.
func sendCommand(socketPath, line string, timeout time.Duration, out io.Writer) (int, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return 2, fmt.Errorf("amqpprox-ctl: connecting to %s: %w", socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	conn.SetDeadline(deadline)

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return 2, fmt.Errorf("amqpprox-ctl: writing command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fmt.Fprintln(out, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return 2, fmt.Errorf("amqpprox-ctl: reading response: %w", err)
	}
	return 0, nil
}
