package generator

import (
	"strings"
	"unicode/utf8"
)

// coalescer merges token-sized deltas into phrase-sized chunks so each chat
// line reads like something a person typed.
type coalescer struct {
	minRunes int
	pending  string
}

func newCoalescer(minRunes int) *coalescer {
	if minRunes < 1 {
		minRunes = 1
	}
	return &coalescer{minRunes: minRunes}
}

// consume adds a delta and returns any chunks that are ready.
func (c *coalescer) consume(delta string) []string {
	if delta == "" {
		return nil
	}
	c.pending += delta
	var out []string
	for {
		cut := c.cutPoint()
		if cut < 0 {
			return out
		}
		if seg := strings.TrimSpace(c.pending[:cut]); seg != "" {
			out = append(out, seg)
		}
		c.pending = c.pending[cut:]
	}
}

// finalize flushes whatever is left.
func (c *coalescer) finalize() []string {
	rest := strings.TrimSpace(c.pending)
	c.pending = ""
	if rest == "" {
		return nil
	}
	return []string{rest}
}

// cutPoint returns the byte offset just after the first sentence boundary
// that leaves at least minRunes before it, or -1.
func (c *coalescer) cutPoint() int {
	runes := 0
	for i, r := range c.pending {
		runes++
		if runes < c.minRunes || !isBoundary(r) {
			continue
		}
		return i + utf8.RuneLen(r)
	}
	return -1
}

func isBoundary(r rune) bool {
	switch r {
	case '.', '!', '?', ';', '\n', '。', '！', '？', '；', '…':
		return true
	}
	return false
}
