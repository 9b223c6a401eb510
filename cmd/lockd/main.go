// lockd is the distributed lock arbitration service. It owns the Atomic
// Store connection, the arbitration engine, the audit log, and the HTTP
// façade, and exits cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lockarb/lockd/pkg/api"
	"github.com/lockarb/lockd/pkg/audit"
	"github.com/lockarb/lockd/pkg/lock"
	"github.com/lockarb/lockd/pkg/metrics"
	"github.com/lockarb/lockd/pkg/policy"
	"github.com/lockarb/lockd/pkg/store"
)

func main() {
	port := flag.Int("port", 8080, "HTTP port")
	storeAddr := flag.String("store", "localhost:6379", "Atomic Store address (host:port)")
	storePassword := flag.String("store-password", "", "Atomic Store password")
	defaultTTL := flag.Duration("default-ttl", lock.DefaultTTL, "Default lock TTL when a request omits one")
	scavengeInterval := flag.Duration("scavenge-interval", 5*time.Second, "Scavenger sweep interval (0 disables it)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	if env := os.Getenv("LOCKD_PORT"); env != "" {
		fmt.Sscanf(env, "%d", port)
	}
	if env := os.Getenv("LOCKD_STORE_ADDR"); env != "" {
		*storeAddr = env
	}
	if env := os.Getenv("LOCKD_STORE_PASSWORD"); env != "" {
		*storePassword = env
	}

	printBanner()

	client, err := store.Connect(store.Config{
		Address:  *storeAddr,
		Password: *storePassword,
	})
	if err != nil {
		log.Fatalf("lockd: atomic store connection failed: %v", err)
	}
	defer client.Close()
	log.Printf("lockd: connected to atomic store at %s", *storeAddr)

	auditStore := audit.NewStore(client, 0)
	metricsCollector := metrics.New()
	engine := lock.NewEngine(client,
		lock.WithDefaultTTL(*defaultTTL),
		lock.WithRecorder(lock.MultiRecorder{auditStore, metricsCollector}),
	)

	server := api.NewServer(api.Config{
		Engine:  engine,
		Policy:  policy.NewChecker(),
		Audit:   auditStore,
		Metrics: metricsCollector,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var scavenger *lock.Scavenger
	if *scavengeInterval > 0 {
		scavenger = lock.NewScavenger(engine, *scavengeInterval)
		go scavenger.Run(ctx, server.WatchedResources)
		log.Printf("lockd: scavenger running every %s", *scavengeInterval)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("lockd: shutting down")
		cancel()
		if scavenger != nil {
			scavenger.Stop()
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Stop(shutdownCtx)
	}()

	if *verbose {
		log.Println("lockd: verbose logging enabled")
	}

	if err := server.Start(*port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("lockd: server error: %v", err)
	}

	<-ctx.Done()
}

func printBanner() {
	fmt.Println(`
   _            _         _
  | | ___   ___| | ____ __| |
  | |/ _ \ / __| |/ / _  _  |
  | | (_) | (__|   <  (_| |
  |_|\___/ \___|_|\_\__,_|

  distributed lock arbitration
  `)
}
