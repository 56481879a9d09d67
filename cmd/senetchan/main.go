// Command senetchan is a thin CLI driver: it loads a config.Config,
// wires up a platform handshake Provider, and runs
// session.Session.Connect to completion, logging whatever NetMessages
// arrive.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"

	"github.com/cipherleaf/senetchan/config"
	"github.com/cipherleaf/senetchan/handshake"
	"github.com/cipherleaf/senetchan/session"
)

func main() {
	configPath := flag.String("config", "senetchan.toml", "path to the TOML config file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{Prefix: "senetchan"})
	if *verbose {
		logger.SetLevel(charmlog.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("loading config", "error", err)
	}

	sess, err := session.Dial(cfg, logger)
	if err != nil {
		logger.Fatal("dialing server", "error", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// The platform game-coordinator/auth RPC is an external service this
	// binary does not ship a client for; the mock mints a local
	// reservation/ticket so the rest of the handshake can be exercised.
	provider := &handshake.MockProvider{SteamID: 0, AuthTicket: []byte{0}}

	nc, err := sess.Connect(ctx, provider)
	if err != nil {
		logger.Fatal("connect", "error", err)
	}
	logger.Info("netchannel established", "server", cfg.Server.Address)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		dg, err := nc.ReadData()
		if err != nil {
			logger.Warn("frame dropped", "error", err)
			continue
		}
		for _, msg := range dg.Messages {
			logger.Debug("netmessage", "type", msg.TypeName(), "bytes", len(msg.Body))
		}
	}
}
