package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL dispatches to.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Categories(ctx context.Context) error
	AddCategory(ctx context.Context) error
	EditCategory(ctx context.Context, id string) error
	DeleteCategory(ctx context.Context, id string) error

	Tasks(ctx context.Context) error
	AddTask(ctx context.Context) error
	EditTask(ctx context.Context, id string) error
	CompleteTask(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error

	Blocks(ctx context.Context) error
	AddBlock(ctx context.Context) error
	EditBlock(ctx context.Context, id string) error
	DeleteBlock(ctx context.Context, id string) error

	Sync(ctx context.Context) error
	Status(ctx context.Context) error
	Parked(ctx context.Context) error
	Retry(ctx context.Context, id string) error
	Discard(ctx context.Context, id string) error

	Token(ctx context.Context) error
	Logout(ctx context.Context) error
}

const helpText = `Available commands:
  categories | addcategory | editcategory <id> | delcategory <id>
  tasks | addtask | edittask <id> | done <id> | deltask <id>
  blocks | addblock | editblock <id> | delblock <id>
  sync | status | parked | retry <id> | discard <id>
  token | logout | exit`

// runREPL starts a read–eval–print loop over reader.
//
// The first token of a line is the command, the second (if any) an id.
// Commands that prompt for more input read from the same reader. The loop
// exits on EOF, on a cancelled ctx or when the user types "exit" or "quit".
// Handler errors are printed and the loop carries on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	withID := map[string]func(context.Context, string) error{
		"editcategory": a.EditCategory,
		"delcategory":  a.DeleteCategory,
		"edittask":     a.EditTask,
		"done":         a.CompleteTask,
		"deltask":      a.DeleteTask,
		"editblock":    a.EditBlock,
		"delblock":     a.DeleteBlock,
		"retry":        a.Retry,
		"discard":      a.Discard,
	}
	plain := map[string]func(context.Context) error{
		"categories":  a.Categories,
		"addcategory": a.AddCategory,
		"tasks":       a.Tasks,
		"t":           a.Tasks,
		"addtask":     a.AddTask,
		"blocks":      a.Blocks,
		"addblock":    a.AddBlock,
		"sync":        a.Sync,
		"status":      a.Status,
		"parked":      a.Parked,
		"token":       a.Token,
		"logout":      a.Logout,
	}

	for ctx.Err() == nil {
		printlnFn(fmt.Sprintf("planbook %s > ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch {
		case cmd == "help":
			printlnFn(helpText)

		case cmd == "exit" || cmd == "quit":
			printlnFn("Bye!")
			return

		case withID[cmd] != nil:
			if len(parts) < 2 {
				printlnFn(fmt.Sprintf("Usage: %s <id>", cmd))
				continue
			}
			report(withID[cmd](ctx, parts[1]))

		case plain[cmd] != nil:
			report(plain[cmd](ctx))

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}

func report(err error) {
	if err != nil {
		printlnFn("Error:", err)
	}
}
