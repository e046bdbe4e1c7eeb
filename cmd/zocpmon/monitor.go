package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	zocp "github.com/z25/gozocp"
	"github.com/z25/gozocp/presence"
)

var (
	nodeName = flag.String("name", "zocpmon", "The name this node announces itself with")
	verbose  = flag.Bool("verbose", false, "Log frame level detail")
)

func monitor() error {
	client, err := presence.NewGyre()
	if err != nil {
		return err
	}

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	node, err := zocp.New(client, zocp.WithLogger(logrus.NewEntry(logger)))
	if err != nil {
		return err
	}
	node.SetName(*nodeName)

	node.Callbacks.OnPeerEnter = func(peer uuid.UUID, name string, headers map[string]string) error {
		log.Printf("peer %q entered", name)
		// Watch everything the peer will ever announce or emit.
		return node.SignalSubscribe(node.UUID(), "", peer, "")
	}
	node.Callbacks.OnPeerExit = func(peer uuid.UUID, name string) error {
		log.Printf("peer %q exited", name)
		return nil
	}
	node.Callbacks.OnPeerModified = func(peer uuid.UUID, name string, data zocp.Capability) error {
		log.Printf("peer %q changed: %v", name, data)
		return nil
	}
	node.Callbacks.OnPeerSignaled = func(peer uuid.UUID, name, emitter string, value interface{}, receivers []string) error {
		log.Printf("peer %q emitted %s = %v", name, emitter, value)
		return nil
	}

	if err := node.Start(); err != nil {
		return err
	}
	defer node.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return node.Run(ctx)
}

func main() {
	flag.Parse()

	if err := monitor(); err != nil {
		log.Fatalln(err)
	}
}
