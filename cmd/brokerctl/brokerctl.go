// Program brokerctl runs a single cluster node and exposes a handful of
// demonstration actions, for manual testing of the gossip transport and the
// call pipeline across real operating-system processes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/hashicorp/serf/serf"

	"github.com/relaymesh/broker/broker"
	"github.com/relaymesh/broker/transport"
)

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Run and probe cluster nodes backed by the broker package.",
		Commands: []*command.C{
			serveCommand(),
			callCommand(),
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// serveFlags binds the flags shared by serve and call: how this process
// joins the cluster.
type serveFlags struct {
	NodeID    string        `flag:"node,,Node ID (defaults to hostname)"`
	Backend   string        `flag:"transport,loopback,Transport backend: loopback or serf"`
	BindAddr  string        `flag:"bind,127.0.0.1:7946,Serf gossip bind address (serf backend only)"`
	Seeds     string        `flag:"seeds,,Comma-separated Serf seed addresses to join (serf backend only)"`
	Heartbeat time.Duration `flag:"heartbeat,10s,Heartbeat broadcast interval"`
}

func (f *serveFlags) buildTransport() (transport.Transport, error) {
	switch f.Backend {
	case "", "loopback":
		return nil, errors.New("brokerctl: loopback transport only connects to another process sharing the same in-memory bus; use -transport=serf for a real multi-process run")
	case "serf":
		conf := serf.DefaultConfig()
		conf.MemberlistConfig.BindAddr, conf.MemberlistConfig.BindPort = splitHostPort(f.BindAddr)
		var seeds []string
		if f.Seeds != "" {
			seeds = strings.Split(f.Seeds, ",")
		}
		return transport.NewSerf(f.NodeID, conf, seeds, slog.Default()), nil
	default:
		return nil, fmt.Errorf("brokerctl: unknown transport backend %q", f.Backend)
	}
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := parseHostPort(addr)
	if err != nil {
		return "0.0.0.0", 7946
	}
	return host, portStr
}

func parseHostPort(addr string) (string, int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, 7946, nil
	}
	var port int
	if _, err := fmt.Sscanf(addr[idx+1:], "%d", &port); err != nil {
		return "", 0, err
	}
	return addr[:idx], port, nil
}

func serveCommand() *command.C {
	f := new(serveFlags)
	return &command.C{
		Name:  "serve",
		Usage: "[flags]",
		Help:  "Start a cluster node hosting a few demonstration actions until interrupted.",
		SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
			flax.MustBind(fs, f)
		},
		Run: func(env *command.Env) error {
			tr, err := f.buildTransport()
			if err != nil {
				return err
			}
			b, err := broker.New(&broker.Config{
				NodeID:            f.NodeID,
				Transport:         tr,
				HeartbeatInterval: f.Heartbeat,
			})
			if err != nil {
				return fmt.Errorf("brokerctl: build broker: %w", err)
			}
			registerDemoService(b)

			ctx, cancel := signal.NotifyContext(env.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := b.Start(ctx); err != nil {
				return fmt.Errorf("brokerctl: start broker: %w", err)
			}
			slog.Info("node started", "node", f.NodeID, "transport", f.Backend)
			<-ctx.Done()
			slog.Info("node stopping")
			return b.Stop()
		},
	}
}

func callCommand() *command.C {
	f := new(serveFlags)
	var action string
	var params string
	return &command.C{
		Name:  "call",
		Usage: "-action=<name> [-params=<json>] [flags]",
		Help:  "Join the cluster, issue a single call, print the result, and exit.",
		SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
			flax.MustBind(fs, f)
			fs.StringVar(&action, "action", "", "Action name to call")
			fs.StringVar(&params, "params", "null", "JSON-encoded call parameters")
		},
		Run: func(env *command.Env) error {
			if action == "" {
				return env.Usagef("missing -action")
			}
			tr, err := f.buildTransport()
			if err != nil {
				return err
			}
			b, err := broker.New(&broker.Config{NodeID: f.NodeID, Transport: tr, HeartbeatInterval: f.Heartbeat})
			if err != nil {
				return fmt.Errorf("brokerctl: build broker: %w", err)
			}

			ctx, cancel := context.WithTimeout(env.Context(), 30*time.Second)
			defer cancel()
			if err := b.Start(ctx); err != nil {
				return fmt.Errorf("brokerctl: start broker: %w", err)
			}
			defer b.Stop()

			var p any
			if err := json.Unmarshal([]byte(params), &p); err != nil {
				return fmt.Errorf("brokerctl: invalid -params: %w", err)
			}
			result, err := b.Call(ctx, action, p)
			if err != nil {
				return fmt.Errorf("brokerctl: call %s: %w", action, err)
			}
			out, err := json.Marshal(result)
			if err != nil {
				return fmt.Errorf("brokerctl: encode result: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func registerDemoService(b *broker.Broker) {
	svc := broker.NewServiceDefinition("demo").
		Action("echo", func(ctx context.Context, c *broker.Context) (any, error) {
			return c.Params, nil
		}).
		Action("time", func(ctx context.Context, c *broker.Context) (any, error) {
			return time.Now().Format(time.RFC3339), nil
		})
	_ = b.CreateService(svc)
}
