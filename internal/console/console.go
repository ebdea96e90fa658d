// Package console is the line-oriented front end of the tally.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/odyssey-erp/stalltally/internal/ledger"
)

const help = `commands:
  <item> or <number>  record an order of the current quantity
  + / -               change the order quantity
  u, undo             undo the last order or reset
  r, reset            start a new tally
  save                write the tally now
  load                reload the tally from storage
  h, help             show this text
  q, quit             exit`

// Console reads commands from in and renders the tally to out.
type Console struct {
	ledger *ledger.Ledger
	loader ledger.Loader
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

// Option configures a Console.
type Option func(*Console)

// WithLoader enables the load command.
func WithLoader(loader ledger.Loader) Option {
	return func(c *Console) { c.loader = loader }
}

// WithLogger sets the logger for command failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Console) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a console driving l.
func New(l *ledger.Ledger, in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{ledger: l, in: in, out: out, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run renders the tally and executes commands until quit, end of input or
// ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.Render()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("console: read: %w", err)
					}
				default:
				}
				return nil
			}
			if quit := c.Execute(ctx, line); quit {
				return nil
			}
		}
	}
}

// Execute runs one command line and reports whether the console should stop.
func (c *Console) Execute(ctx context.Context, line string) bool {
	cmd := strings.TrimSpace(line)
	switch strings.ToLower(cmd) {
	case "":
		return false
	case "q", "quit", "exit":
		return true
	case "h", "help", "?":
		fmt.Fprintln(c.out, help)
		return false
	case "+":
		c.ledger.AdjustOrderQuantity(1)
	case "-":
		c.ledger.AdjustOrderQuantity(-1)
	case "u", "undo":
		if _, ok := c.ledger.Undo(ctx); !ok {
			fmt.Fprintln(c.out, "nothing to undo")
		}
	case "r", "reset":
		c.ledger.Reset(ctx)
	case "save":
		if err := c.ledger.Flush(ctx); err != nil {
			c.logger.Error("save tally", slog.Any("error", err))
			fmt.Fprintln(c.out, "save failed")
		} else {
			fmt.Fprintln(c.out, "saved")
		}
	case "load":
		c.load(ctx)
	default:
		c.sell(ctx, cmd)
	}
	c.Render()
	return false
}

func (c *Console) load(ctx context.Context) {
	if c.loader == nil {
		fmt.Fprintln(c.out, "no storage configured")
		return
	}
	if err := c.ledger.Reload(ctx, c.loader); err != nil {
		c.logger.Error("load tally", slog.Any("error", err))
		fmt.Fprintln(c.out, "load failed, keeping current tally")
		return
	}
	fmt.Fprintln(c.out, "loaded")
}

func (c *Console) sell(ctx context.Context, input string) {
	item := input
	cat := c.ledger.Catalog()
	if _, ok := cat.Resolve(input); !ok {
		if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= cat.Len() {
			item = cat.At(n - 1)
		}
	}
	if _, err := c.ledger.RecordSale(ctx, item); err != nil {
		if errors.Is(err, ledger.ErrUnknownItem) {
			fmt.Fprintf(c.out, "unknown item %q, type h for help\n", input)
			return
		}
		c.logger.Error("record sale", slog.Any("error", err))
	}
}

// Render writes the headline, the order quantity and one bar per item.
func (c *Console) Render() {
	fmt.Fprintf(c.out, "%d units sold (orders: %d)\n", c.ledger.UnitCount(), c.ledger.OrderCount())
	fmt.Fprintf(c.out, "order quantity: %d\n", c.ledger.OrderQuantity())

	counts := c.ledger.PerItemCounts()
	nameWidth := 0
	for _, ic := range counts {
		nameWidth = max(nameWidth, displayWidth(ic.Name))
	}
	for i, ic := range counts {
		pad := strings.Repeat(" ", nameWidth-displayWidth(ic.Name))
		fmt.Fprintf(c.out, "%d %s%s |%s %d\n", i+1, ic.Name, pad, strings.Repeat("#", ic.Count), ic.Count)
	}
}

// displayWidth counts terminal cells, two for wide and fullwidth runes.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}
