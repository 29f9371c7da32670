package cli

import (
	"context"
	"fmt"
)

func (c *Cli) runList(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing record type. Usage: wishstash list <lists|entries|marks>")
	}

	filter := ""
	if len(args) > 1 {
		filter = args[1]
	}

	switch args[0] {
	case "lists", "list":
		return c.listLists(ctx)
	case "entries", "entry":
		return c.listEntries(ctx, filter)
	case "marks", "mark":
		return c.listMarks(ctx, filter)
	default:
		return fmt.Errorf("unknown record type: %s. Use: lists, entries, or marks", args[0])
	}
}

func (c *Cli) listLists(ctx context.Context) error {
	c.io.Println("=== Wishlists ===")
	c.io.Println()

	lists, err := c.dataService.ListLists(ctx)
	if err != nil {
		return fmt.Errorf("failed to list wishlists: %w", err)
	}

	if len(lists) == 0 {
		c.io.Println("No wishlists yet.")
		c.io.Println("Use 'wishstash add list' to create your first one.")
		return nil
	}

	for i, list := range lists {
		c.io.Printf("%d. %s\n", i+1, list.Title)
		c.io.Printf("   ID: %s\n", list.ID)
		if list.Description != "" {
			c.io.Printf("   %s\n", list.Description)
		}
		c.io.Println()
	}

	return nil
}

func (c *Cli) listEntries(ctx context.Context, listID string) error {
	c.io.Println("=== Items ===")
	c.io.Println()

	entries, err := c.dataService.ListEntries(ctx, listID)
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}

	if len(entries) == 0 {
		c.io.Println("No items found.")
		return nil
	}

	for i, entry := range entries {
		c.io.Printf("%d. %s\n", i+1, entry.Name)
		c.io.Printf("   ID:   %s\n", entry.ID)
		c.io.Printf("   List: %s\n", entry.ListID)
		if entry.URL != "" {
			c.io.Printf("   URL:  %s\n", entry.URL)
		}
		if entry.Note != "" {
			c.io.Printf("   Note: %s\n", entry.Note)
		}
		c.io.Println()
	}

	return nil
}

func (c *Cli) listMarks(ctx context.Context, entryID string) error {
	c.io.Println("=== Claims ===")
	c.io.Println()

	marks, err := c.dataService.ListMarks(ctx, entryID)
	if err != nil {
		return fmt.Errorf("failed to list claims: %w", err)
	}

	if len(marks) == 0 {
		c.io.Println("No claims found.")
		return nil
	}

	for i, mark := range marks {
		c.io.Printf("%d. %s on entry %s\n", i+1, mark.Kind, mark.EntryID)
		c.io.Printf("   ID: %s\n", mark.ID)
		if mark.Comment != "" {
			c.io.Printf("   Comment: %s\n", mark.Comment)
		}
		c.io.Println()
	}

	return nil
}
