package cli

import (
	"context"
	"fmt"

	"github.com/wishstash/wishstash/internal/client/data"
)

func (c *Cli) runAdd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing record type. Usage: wishstash add <list|entry|mark>")
	}

	switch args[0] {
	case "list":
		return c.addList(ctx)
	case "entry":
		return c.addEntry(ctx)
	case "mark":
		return c.addMark(ctx)
	default:
		return fmt.Errorf("unknown record type: %s. Use: list, entry, or mark", args[0])
	}
}

func (c *Cli) addList(ctx context.Context) error {
	c.io.Println("=== New Wishlist ===")
	c.io.Println()

	title, err := c.io.ReadInput("Title: ")
	if err != nil {
		return fmt.Errorf("failed to read title: %w", err)
	}
	description, err := c.io.ReadInput("Description (optional): ")
	if err != nil {
		return fmt.Errorf("failed to read description: %w", err)
	}

	list := &data.List{Title: title, Description: description}
	if err := c.dataService.SaveList(ctx, list); err != nil {
		return err
	}

	c.io.Println()
	c.io.Printf("✓ Wishlist created: %s\n", list.ID)
	c.io.Println("Run 'wishstash sync' to share it.")

	return nil
}

func (c *Cli) addEntry(ctx context.Context) error {
	c.io.Println("=== New Item ===")
	c.io.Println()

	listID, err := c.io.ReadInput("List ID: ")
	if err != nil {
		return fmt.Errorf("failed to read list id: %w", err)
	}
	name, err := c.io.ReadInput("Name: ")
	if err != nil {
		return fmt.Errorf("failed to read name: %w", err)
	}
	url, err := c.io.ReadInput("URL (optional): ")
	if err != nil {
		return fmt.Errorf("failed to read url: %w", err)
	}
	note, err := c.io.ReadInput("Note (optional): ")
	if err != nil {
		return fmt.Errorf("failed to read note: %w", err)
	}

	entry := &data.Entry{ListID: listID, Name: name, URL: url, Note: note}
	if err := c.dataService.SaveEntry(ctx, entry); err != nil {
		return err
	}

	c.io.Println()
	c.io.Printf("✓ Item added: %s\n", entry.ID)

	return nil
}

func (c *Cli) addMark(ctx context.Context) error {
	c.io.Println("=== New Claim ===")
	c.io.Println()

	entryID, err := c.io.ReadInput("Entry ID: ")
	if err != nil {
		return fmt.Errorf("failed to read entry id: %w", err)
	}
	kind, err := c.io.ReadInput("Kind (reserved/purchased): ")
	if err != nil {
		return fmt.Errorf("failed to read kind: %w", err)
	}
	comment, err := c.io.ReadInput("Comment (optional): ")
	if err != nil {
		return fmt.Errorf("failed to read comment: %w", err)
	}

	mark := &data.Mark{EntryID: entryID, Kind: kind, Comment: comment}
	if err := c.dataService.SaveMark(ctx, mark); err != nil {
		return err
	}

	c.io.Println()
	c.io.Printf("✓ Claim recorded: %s\n", mark.ID)

	return nil
}
