// Package catalog holds the fixed, ordered set of items sold at the stall.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultKeys is the stall menu in display order.
var DefaultKeys = []string{"プレーン", "チョコ", "いちご", "はちみつ", "シナモン"}

var (
	// ErrEmpty indicates a catalog without items.
	ErrEmpty = errors.New("catalog: at least one item required")
	// ErrDuplicate indicates two keys folding to the same name.
	ErrDuplicate = errors.New("catalog: duplicate item")
)

// Catalog is an immutable ordered list of item keys.
type Catalog struct {
	keys  []string
	index map[string]int
}

// New builds a catalog preserving declaration order.
func New(keys ...string) (Catalog, error) {
	if len(keys) == 0 {
		return Catalog{}, ErrEmpty
	}
	c := Catalog{
		keys:  make([]string, 0, len(keys)),
		index: make(map[string]int, len(keys)),
	}
	for _, raw := range keys {
		key := normalize(raw)
		if key == "" {
			return Catalog{}, fmt.Errorf("catalog: blank item at position %d", len(c.keys)+1)
		}
		folded := fold(key)
		if _, ok := c.index[folded]; ok {
			return Catalog{}, fmt.Errorf("%w: %q", ErrDuplicate, raw)
		}
		c.index[folded] = len(c.keys)
		c.keys = append(c.keys, key)
	}
	return c, nil
}

// Default returns the stall's standard menu.
func Default() Catalog {
	c, err := New(DefaultKeys...)
	if err != nil {
		panic(err)
	}
	return c
}

// Keys returns the item keys in declaration order.
func (c Catalog) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len reports the number of items.
func (c Catalog) Len() int {
	return len(c.keys)
}

// At returns the key at position i.
func (c Catalog) At(i int) string {
	return c.keys[i]
}

// Index returns the declaration position of an exact key, or -1.
func (c Catalog) Index(key string) int {
	i, ok := c.index[fold(key)]
	if !ok || c.keys[i] != key {
		return -1
	}
	return i
}

// Contains reports whether key is exactly one of the catalog keys.
func (c Catalog) Contains(key string) bool {
	return c.Index(key) >= 0
}

// Resolve maps operator input to a catalog key. Width variants, composed and
// decomposed kana, surrounding space and ASCII case are all accepted.
func (c Catalog) Resolve(input string) (string, bool) {
	i, ok := c.index[fold(normalize(input))]
	if !ok {
		return "", false
	}
	return c.keys[i], true
}

func normalize(s string) string {
	return norm.NFKC.String(strings.TrimSpace(s))
}

func fold(s string) string {
	return strings.ToLower(s)
}
