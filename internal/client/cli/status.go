package cli

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Status ===")
	c.io.Println()

	isAuth, err := c.authService.IsAuthenticated(ctx)
	if err != nil {
		return fmt.Errorf("failed to check authentication: %w", err)
	}

	if !isAuth {
		c.io.Println("Session: not logged in")
		c.io.Println()
		c.io.Println("Run 'wishstash login' to authenticate.")
		return nil
	}

	session, err := c.authService.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	c.io.Printf("Session: logged in as %s\n", session.Username)
	expiresAt := time.Unix(session.ExpiresAt, 0)
	if remaining := time.Until(expiresAt); remaining > 0 {
		c.io.Printf("Access token expires in %s\n", remaining.Round(time.Second))
	} else {
		c.io.Println("Access token expired; it will be refreshed on the next sync.")
	}

	status, err := c.orchestrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to derive sync status: %w", err)
	}

	c.io.Println()
	c.io.Printf("Sync: %s\n", status.State)
	if status.Pending > 0 {
		c.io.Printf("⚠️  %d local change(s) waiting to be pushed\n", status.Pending)
		c.io.Println("Run 'wishstash sync' to push them.")
	} else {
		c.io.Println("✓ All local changes pushed")
	}
	if len(status.PausedCollections) > 0 {
		c.io.Printf("⚠️  Paused collections: %s\n", strings.Join(status.PausedCollections, ", "))
		c.io.Println("Run 'wishstash resync <collection>' to recover.")
	}

	return nil
}
