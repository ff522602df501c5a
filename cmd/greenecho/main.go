// Command greenecho is the end-to-end demonstration binary: a cooperative
// TCP echo server built entirely from reactor/task/gnet/server, the same
// components any caller wires into their own binaries.
package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtaci/greenio/gnet"
	"github.com/xtaci/greenio/internal/obs"
	"github.com/xtaci/greenio/pool"
	"github.com/xtaci/greenio/reactor"
	"github.com/xtaci/greenio/server"
	"github.com/xtaci/greenio/task"
)

var log = obs.Named(obs.L, "greenecho")

func echo(conn *gnet.Socket, addr net.Addr) {
	defer conn.Close()
	buf := make([]byte, 64)
	for {
		n, err := conn.Recv(buf)
		if err != nil || n == 0 {
			return
		}
		if err := conn.SendAll(buf[:n]); err != nil {
			return
		}
	}
}

func run() error {
	h, err := reactor.NewHub()
	if err != nil {
		return err
	}

	listener, err := gnet.Listen(h, "tcp", ":9595", 0)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ":9595").Log("listening")

	p := pool.New(h, 256)
	srv := server.New(h, listener, echo, server.Pooled, p, nil)

	task.Spawn(h, func(t *task.Task) (any, error) {
		return nil, srv.Serve(t)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Log("shutting down")
		h.Stop()
	}()

	return h.Run()
}

func main() {
	if err := run(); err != nil {
		log.Crit().Err(err).Log("fatal")
		os.Exit(1)
	}
}
