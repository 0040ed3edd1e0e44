// Command rendezvoushubd runs the rendezvous service standalone.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/warplink/rendezvous"
	"github.com/warplink/rendezvous/ws"
)

func main() {
	os.Exit(run())
}

// run starts the service and blocks until it is told to shut down,
// returning the process exit code.
func run() int {
	addr := flag.String("addr", ":8443", "address to listen on")
	allowAllOrigins := flag.Bool("insecure-allow-all-origins", false, "accept WebSocket upgrades from any Origin (development only)")
	maxHandshakesPerSecond := flag.Float64("max-handshakes-per-second", 0, "cap new connection upgrades per second server-wide; 0 disables the throttle")
	flag.Parse()

	cfg := rendezvous.Config{Addr: *addr}
	if *allowAllOrigins {
		cfg.CheckOrigin = ws.AllOrigins()
	}
	if *maxHandshakesPerSecond > 0 {
		cfg.MaxHandshakesPerSecond = rate.Limit(*maxHandshakesPerSecond)
		cfg.HandshakeBurst = 1
	}

	srv := rendezvous.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rendezvoushubd: failed to start on %s: %v\n", *addr, err)
		return 1
	}
	log.Printf("rendezvoushubd: listening on %s", *addr)

	<-ctx.Done()
	log.Printf("rendezvoushubd: shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "rendezvoushubd: error during shutdown: %v\n", err)
		return 1
	}
	return 0
}
