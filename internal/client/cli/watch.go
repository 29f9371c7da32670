package cli

import (
	"context"
	"errors"

	"github.com/wishstash/wishstash/internal/client/storage"
)

// runWatch keeps the client online: the realtime coordinator holds the
// event stream and the orchestrator syncs on every notification, with
// its periodic timer as the fallback for dropped events. A local store
// subscription echoes every committed change to the terminal.
func (c *Cli) runWatch(ctx context.Context) error {
	if err := c.authService.EnsureValidToken(ctx); err != nil {
		return err
	}

	sub, err := c.dataService.Watch("")
	if err != nil {
		return err
	}
	defer sub.Cancel()

	c.io.Println("Watching for changes. Press Ctrl+C to stop.")

	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		for change := range sub.C {
			c.printChange(change)
		}
	}()

	orchestratorDone := make(chan struct{})
	go func() {
		defer close(orchestratorDone)
		_ = c.orchestrator.Run(ctx)
	}()

	err = c.coordinator.Run(ctx)
	<-orchestratorDone

	// The printer drains buffered changes before the final output
	sub.Cancel()
	<-printerDone

	if errors.Is(err, context.Canceled) {
		c.io.Println()
		c.io.Println("Stopped.")
		return nil
	}
	return err
}

func (c *Cli) printChange(change storage.Change) {
	origin := "local"
	if change.Remote {
		origin = "server"
	}
	verb := "updated"
	if change.Deleted {
		verb = "deleted"
	}
	c.io.Printf("  [%s] %s %s %s\n", origin, change.Collection, change.ID, verb)
}
