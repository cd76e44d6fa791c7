package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/wsclient/internal/injector"
	"github.com/zeusync/wsclient/sdk/go/client"
)

const usage = `Lines typed on stdin are sent as %q messages.
  /send <type> <json>     send a message with an explicit type
  /request <type> <json>  send and wait for the correlated reply
  /stats                  print client statistics
  /quit                   disconnect and exit
`

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	url := flag.String("url", "", "server URL, overrides the config file")
	msgType := flag.String("type", "chat", "message type for plain lines")
	flag.Parse()

	cfg := client.DefaultClientConfig()
	if *configPath != "" {
		var err error
		if cfg, err = client.LoadConfig(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "Error loading config:", err)
			os.Exit(1)
		}
	}
	if *url != "" {
		cfg.URL = *url
	}

	c, err := injector.InitializeClient(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error creating client:", err)
		os.Exit(1)
	}
	printEvents(c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf(usage, *msgType)
	c.Connect()

	lines := make(chan string)
	go scanLines(os.Stdin, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return io.EOF
				}
				if err := handleLine(gctx, c, *msgType, line); err != nil {
					return err
				}
			}
		}
	})

	err = g.Wait()
	_ = c.Disconnect(1000, "client exiting")
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, errQuit) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var errQuit = errors.New("quit")

func handleLine(ctx context.Context, c *client.Client, defaultType, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		report(c.Send(defaultType, line))
		return nil
	}

	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return errQuit
	case "/stats":
		s := c.Stats()
		fmt.Printf("state=%s attempts=%d queued=%d sent=%d received=%d dropped=%d reconnects=%d\n",
			s.State, s.Attempts, s.QueueLength, s.MessagesSent, s.MessagesReceived, s.MessagesDropped, s.Reconnects)
	case "/send", "/request":
		typ, payload, _ := strings.Cut(strings.TrimSpace(rest), " ")
		var data any
		if payload = strings.TrimSpace(payload); payload != "" {
			if !json.Valid([]byte(payload)) {
				fmt.Println("! payload is not valid JSON")
				return nil
			}
			data = json.RawMessage(payload)
		}
		if cmd == "/send" {
			report(c.Send(typ, data))
			return nil
		}

		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		reply, err := c.Request(reqCtx, typ, data)
		if err != nil {
			fmt.Println("! request failed:", err)
			return nil
		}
		fmt.Printf("< reply %s %s\n", reply.Type, reply.Data)
	default:
		fmt.Println("! unknown command", cmd)
	}
	return nil
}

func report(d client.Delivery, err error) {
	if err != nil {
		fmt.Println("! send failed:", err)
		return
	}
	if d == client.DeliveryQueued {
		fmt.Println("~ queued until reconnected")
	}
}

func printEvents(c *client.Client) {
	c.On(client.EventConnected, func(client.Event) {
		fmt.Println("* connected")
	})
	c.On(client.EventDisconnected, func(e client.Event) {
		fmt.Printf("* disconnected (%d %s)\n", e.Code, e.Reason)
	})
	c.On(client.EventReconnecting, func(e client.Event) {
		fmt.Printf("* reconnecting, attempt %d in %s\n", e.Attempt, e.Delay)
	})
	c.On(client.EventReconnectFailed, func(e client.Event) {
		fmt.Printf("* gave up after %d attempts\n", e.Attempt)
	})
	c.On(client.EventError, func(e client.Event) {
		fmt.Println("! error:", e.Err)
	})
	c.On(client.EventMessage, func(e client.Event) {
		fmt.Printf("< %s %s\n", e.Message.Type, e.Message.Data)
	})
}

func scanLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
