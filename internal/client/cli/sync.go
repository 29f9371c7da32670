package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/wishstash/wishstash/internal/client/sync"
)

func (c *Cli) runSync(ctx context.Context) error {
	if err := c.authService.EnsureValidToken(ctx); err != nil {
		return err
	}

	c.io.Println("Synchronizing...")

	result, err := c.engine.SyncAll(ctx)
	if err != nil {
		if errors.Is(err, sync.ErrSyncPaused) {
			c.io.Println()
			c.io.Println("⚠️  A collection is paused after a protocol error.")
			c.io.Println("Run 'wishstash resync <collection>' to rebuild it.")
		}
		return err
	}

	c.io.Println()
	c.io.Printf("✓ Sync complete: %d pushed, %d pulled", result.Pushed, result.Pulled)
	if result.Conflicts > 0 {
		c.io.Printf(", %d conflict(s) resolved in the server's favor", result.Conflicts)
	}
	c.io.Println()

	return nil
}

func (c *Cli) runResync(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: wishstash resync <list|entry|mark>")
	}
	collection := args[0]

	if err := c.authService.EnsureValidToken(ctx); err != nil {
		return err
	}

	c.io.Printf("Rebuilding %s from the server...\n", collection)

	result, err := c.engine.Resync(ctx, collection)
	if err != nil {
		return err
	}

	c.io.Printf("✓ Resync complete: %d document(s) pulled\n", result.Pulled)

	return nil
}
