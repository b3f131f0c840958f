package toy

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/lantern/internal/batch"
	"github.com/samcharles93/lantern/internal/inference"
)

var errClosed = errors.New("toy: context closed")

// Context keeps the KV cache of sequence 0 as the list of tokens decoded so
// far. Decode rejects batches that would break position order or overflow
// the context, leaving the cache untouched.
type Context struct {
	lm      *ToyLM
	nCtx    int
	nBatch  int
	threads int

	mu     sync.Mutex
	cache  []batch.Token
	rows   [][]float32
	closed bool
}

func newContext(lm *ToyLM, nCtx, nBatch, threads int) *Context {
	return &Context{
		lm:      lm,
		nCtx:    nCtx,
		nBatch:  nBatch,
		threads: max(threads, 1),
		cache:   make([]batch.Token, 0, nCtx),
	}
}

func (c *Context) Decode(b *batch.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}

	slots := b.Slots()
	switch {
	case len(slots) == 0:
		return fmt.Errorf("toy: empty batch")
	case len(slots) > c.nBatch:
		return fmt.Errorf("toy: batch of %d exceeds n_batch %d", len(slots), c.nBatch)
	case len(c.cache)+len(slots) > c.nCtx:
		return fmt.Errorf("toy: context full (%d cached + %d new > %d)", len(c.cache), len(slots), c.nCtx)
	}
	base := len(c.cache)
	for i, s := range slots {
		if s.Seq != batch.DefaultSeq {
			return fmt.Errorf("toy: slot %d: unsupported sequence %d", i, s.Seq)
		}
		if int(s.Pos) != base+i {
			return fmt.Errorf("toy: slot %d: position %d, want %d", i, s.Pos, base+i)
		}
		if s.Token < 0 || int(s.Token) >= c.lm.Vocab {
			return fmt.Errorf("toy: slot %d: token %d out of range", i, s.Token)
		}
	}

	rows := make([][]float32, len(slots))
	var g errgroup.Group
	g.SetLimit(c.threads)
	for i, s := range slots {
		if !s.Logits {
			continue
		}
		prev := -1
		switch {
		case i > 0:
			prev = int(slots[i-1].Token)
		case base > 0:
			prev = int(c.cache[base-1])
		}
		g.Go(func() error {
			row, err := c.lm.Forward(int(s.Token), prev)
			if err != nil {
				return fmt.Errorf("toy: slot %d: %w", i, err)
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, s := range slots {
		c.cache = append(c.cache, s.Token)
	}
	c.rows = rows
	return nil
}

func (c *Context) Logits(i int) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	if i < 0 || i >= len(c.rows) || c.rows[i] == nil {
		return nil, fmt.Errorf("toy: no logits for slot %d", i)
	}
	return c.rows[i], nil
}

func (c *Context) ContextSize() int { return c.nCtx }

// ClearSeq drops every cached position of seq.
func (c *Context) ClearSeq(seq batch.SeqID) error {
	if seq != batch.DefaultSeq {
		return fmt.Errorf("toy: unsupported sequence %d", seq)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = c.cache[:0]
	c.rows = nil
	return nil
}

// Cached returns the number of positions in the KV cache.
func (c *Context) Cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cache = nil
	c.rows = nil
	return nil
}

var (
	_ inference.InferenceEngine = (*Context)(nil)
	_ inference.CacheClearer    = (*Context)(nil)
)
