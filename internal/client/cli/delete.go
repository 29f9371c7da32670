package cli

import (
	"context"
	"fmt"
)

func (c *Cli) runDelete(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: wishstash delete <list|entry|mark> <id>")
	}

	kind, id := args[0], args[1]

	var err error
	switch kind {
	case "list":
		err = c.dataService.DeleteList(ctx, id)
	case "entry":
		err = c.dataService.DeleteEntry(ctx, id)
	case "mark":
		err = c.dataService.DeleteMark(ctx, id)
	default:
		return fmt.Errorf("unknown record type: %s. Use: list, entry, or mark", kind)
	}
	if err != nil {
		return err
	}

	c.io.Printf("✓ Deleted %s %s\n", kind, id)
	c.io.Println("The deletion reaches other devices on the next sync.")

	return nil
}
