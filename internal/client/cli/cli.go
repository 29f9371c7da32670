// Package cli implements the wishstash client commands.
package cli

import (
	"context"
	"fmt"

	"github.com/wishstash/wishstash/internal/client/auth"
	"github.com/wishstash/wishstash/internal/client/data"
	"github.com/wishstash/wishstash/internal/client/iocli"
	"github.com/wishstash/wishstash/internal/client/realtime"
	"github.com/wishstash/wishstash/internal/client/sync"
)

// Cli wires the commands to the client services
type Cli struct {
	io           iocli.IO
	authService  auth.Service
	dataService  data.Service
	engine       sync.Engine
	orchestrator *sync.Orchestrator
	coordinator  *realtime.Coordinator
}

// New creates the command dispatcher
func New(io iocli.IO, authService auth.Service, dataService data.Service, engine sync.Engine, orchestrator *sync.Orchestrator, coordinator *realtime.Coordinator) *Cli {
	return &Cli{
		io:           io,
		authService:  authService,
		dataService:  dataService,
		engine:       engine,
		orchestrator: orchestrator,
		coordinator:  coordinator,
	}
}

// Run dispatches one command
func (c *Cli) Run(ctx context.Context, command string, args []string) error {
	switch command {
	case "register":
		return c.runRegister(ctx)
	case "login":
		return c.runLogin(ctx)
	case "logout":
		return c.runLogout(ctx)
	case "status":
		return c.runStatus(ctx)
	case "add":
		return c.runAdd(ctx, args)
	case "list":
		return c.runList(ctx, args)
	case "delete":
		return c.runDelete(ctx, args)
	case "sync":
		return c.runSync(ctx)
	case "resync":
		return c.runResync(ctx, args)
	case "watch":
		return c.runWatch(ctx)
	default:
		c.PrintUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// PrintUsage prints the command reference
func (c *Cli) PrintUsage() {
	c.io.Println("WishStash Client")
	c.io.Println()
	c.io.Println("Usage:")
	c.io.Println("  wishstash [OPTIONS] COMMAND")
	c.io.Println()
	c.io.Println("Options:")
	c.io.Println("  --version       Show version information")
	c.io.Println("  --server URL    Server URL (default: http://localhost:8080)")
	c.io.Println("  --db PATH       Path to local database (default: wishstash-client.db)")
	c.io.Println()
	c.io.Println("Commands:")
	c.io.Println("  register                     Register a new account")
	c.io.Println("  login                        Log in to the server")
	c.io.Println("  logout                       Log out and drop the local session")
	c.io.Println("  status                       Show session and sync status")
	c.io.Println("  add <list|entry|mark>        Add a wishlist, an item, or a claim")
	c.io.Println("  list lists                   Show all wishlists")
	c.io.Println("  list entries [list-id]       Show items, optionally of one list")
	c.io.Println("  list marks [entry-id]        Show claims, optionally on one item")
	c.io.Println("  delete <list|entry|mark> <id>  Delete a record")
	c.io.Println("  sync                         Push local changes and pull server changes")
	c.io.Println("  resync <collection>          Rebuild one collection from the server")
	c.io.Println("  watch                        Stay connected and sync on server events")
	c.io.Println()
	c.io.Println("Examples:")
	c.io.Println("  wishstash register")
	c.io.Println("  wishstash add list")
	c.io.Println("  wishstash list entries 4d3f...")
	c.io.Println("  wishstash --server https://wishstash.example.com watch")
}
