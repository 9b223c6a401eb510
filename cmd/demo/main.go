// demo runs the concurrent conflict-resolution scenario described in
// spec §8: three agents race for the same resource with different
// priorities, and the wait queue's grant order is printed as each one
// wins the lock. It exercises pkg/lock directly against an Atomic Store
// rather than going through the HTTP façade, mirroring the reference
// demo's direct-SDK agent scripts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lockarb/lockd/pkg/lock"
	"github.com/lockarb/lockd/pkg/store"
)

type contender struct {
	agentID  string
	priority int
}

func main() {
	storeAddr := flag.String("store", "localhost:6379", "Atomic Store address")
	workDuration := flag.Duration("work", 2*time.Second, "simulated work duration per agent")
	flag.Parse()

	fmt.Println(banner)
	fmt.Println("Scenario:")
	fmt.Println("  - 3 agents race for the same resource simultaneously")
	fmt.Println("  - priorities: agent_a=10, agent_b=5, agent_c=8")
	fmt.Println("  - the first to reach the store holds the lock; the rest are granted by priority")
	fmt.Println("  - expected grant order when agent_a arrives first: a -> c -> b")
	fmt.Println()

	client, err := store.Connect(store.Config{Address: *storeAddr})
	if err != nil {
		log.Fatalf("demo: atomic store connection failed: %v", err)
	}
	defer client.Close()

	engine := lock.NewEngine(client)
	ctx := context.Background()

	const resourceType, resourceID = "customer", "customer_123"
	if _, err := engine.Cleanup(ctx); err != nil {
		log.Fatalf("demo: cleanup failed: %v", err)
	}

	contenders := []contender{
		{agentID: "agent_a", priority: 10},
		{agentID: "agent_c", priority: 8},
		{agentID: "agent_b", priority: 5},
	}

	var wg sync.WaitGroup
	results := make(chan string, len(contenders))

	for _, agent := range contenders {
		wg.Add(1)
		go func(a contender) {
			defer wg.Done()
			runAgent(ctx, engine, resourceType, resourceID, a, *workDuration, results)
		}(agent)
	}

	wg.Wait()
	close(results)

	fmt.Println("\ngrant order:")
	for line := range results {
		fmt.Println("  " + line)
	}
}

func runAgent(ctx context.Context, engine *lock.Engine, resourceType, resourceID string, a contender, work time.Duration, results chan<- string) {
	start := time.Now()
	fmt.Printf("[%s] requesting lock (priority=%d)\n", a.agentID, a.priority)

	res, err := engine.Acquire(ctx, resourceType, resourceID, a.agentID, a.priority, 30*time.Second, false)
	if err != nil {
		fmt.Printf("[%s] acquire failed: %v\n", a.agentID, err)
		return
	}

	lockID := res.LockID
	if res.Status == lock.StatusQueued {
		fmt.Printf("[%s] queued at position %d, waiting for grant\n", a.agentID, res.Position)
		events, stop, err := engine.Subscribe(ctx, resourceType, resourceID)
		if err != nil {
			fmt.Printf("[%s] subscribe failed: %v\n", a.agentID, err)
			return
		}
		defer stop()

		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		granted := false
		for !granted {
			select {
			case evt := <-events:
				if evt.AgentID == a.agentID {
					lockID = evt.LockID
					granted = true
				}
			case <-waitCtx.Done():
				fmt.Printf("[%s] timed out waiting for grant\n", a.agentID)
				_, _ = engine.Cancel(ctx, resourceType, resourceID, a.agentID)
				return
			}
		}
	}

	waited := time.Since(start)
	fmt.Printf("[%s] lock acquired after %s\n", a.agentID, waited.Round(time.Millisecond))

	time.Sleep(work)

	if _, err := engine.Release(ctx, lockID, a.agentID, true); err != nil {
		fmt.Printf("[%s] release failed: %v\n", a.agentID, err)
		return
	}
	fmt.Printf("[%s] lock released after %s total\n", a.agentID, time.Since(start).Round(time.Millisecond))

	results <- fmt.Sprintf("%s (priority=%d, waited %s)", a.agentID, a.priority, waited.Round(time.Millisecond))
}

const banner = `
  lockd demo: concurrent conflict resolution
`
