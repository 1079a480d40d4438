package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/relay/client"
	"github.com/luma/relay/internal/env"
	"github.com/luma/relay/protocol"
)

var (
	// The host to connect to
	host string

	// The port to connect to
	connectPort int
)

func init() {
	flags := ConnectCmd.PersistentFlags()

	flags.StringVarP(&host, "host", "a", "127.0.0.1", "The host to connect to")
	flags.IntVarP(&connectPort, "port", "p", 60000, "The port to connect to")
}

var ConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a relay demo server",
	Long: `Connect to a relay demo server

Reads one command per line from stdin:
	ping    measure the round trip to the server
	all     ask the server to tell every other client about us
	quit    disconnect and exit

Usage
	relay connect --host 127.0.0.1 --port 60000

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		log, err := env.MakeLogger(debug)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("host") {
			conf.Host = host
		}
		if flags.Changed("port") {
			conf.Port = connectPort
		}

		out := cmd.OutOrStdout()

		c := client.New(client.Options{
			OnMessage:   demoClientHandler(out),
			MaxBodySize: conf.MaxBodySize,
			Log:         log.Named("client"),
		})

		if err := c.Connect(conf.Host, conf.Port); err != nil {
			fmt.Fprintln(out, "Cant connect to server!")
			return err
		}
		defer c.Disconnect()

		commands := readCommands(cmd.InOrStdin())

		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()

		for {
			if !c.IsConnected() {
				fmt.Fprintln(out, "Server down!")
				return fmt.Errorf("lost connection to %s:%d", conf.Host, conf.Port)
			}

			c.Update(conf.MaxMessages, false)

			select {
			case <-ctx.Done():
				return nil

			case line, ok := <-commands:
				if !ok {
					return nil
				}

				switch line {
				case "ping":
					c.Send(protocol.New(MsgServerPing).Push(time.Now().UnixNano()))
				case "all":
					c.Send(protocol.New(MsgMessageAll))
				case "quit":
					return nil
				case "":
				default:
					log.Warn("Unknown command", zap.String("command", line))
				}

			case <-ticker.C:
			}
		}
	},
}

// demoClientHandler prints what the demo server sends.
func demoClientHandler(out io.Writer) func(*protocol.Message) {
	return func(msg *protocol.Message) {
		switch msg.Header.Type {
		case MsgServerAccept:
			fmt.Fprintln(out, "Server accepted connection")

		case MsgServerDeny:
			fmt.Fprintln(out, "Server denied connection")

		case MsgServerPing:
			var then int64
			msg.Pop(&then)

			elapsed := time.Since(time.Unix(0, then))
			fmt.Fprintf(out, "Ping: %.3fms\n", float64(elapsed.Microseconds())*0.001)

		case MsgServerMessage:
			var from uint64
			msg.Pop(&from)

			fmt.Fprintf(out, "Message from: %d\n", from)

		default:
			fmt.Fprintf(out, "Unknown message type: %d\n", msg.Header.Type)
		}
	}
}

// readCommands delivers trimmed stdin lines until EOF.
func readCommands(in io.Reader) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	return lines
}
