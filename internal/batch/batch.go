// Package batch builds the fixed-capacity step batches submitted to an
// inference engine.
package batch

import (
	"errors"
	"fmt"
)

type (
	// Token is a vocabulary identifier.
	Token = int32
	// Pos is the offset of a token within one generation timeline.
	Pos = int32
	// SeqID names a logical sequence inside the engine's KV cache.
	SeqID = int32
)

// DefaultSeq is the only sequence used by a generation call.
const DefaultSeq SeqID = 0

// NoOutput disables logits on every slot of a Fill.
const NoOutput = -1

// ErrOverCapacity is returned when more slots are written than the batch holds.
var ErrOverCapacity = errors.New("batch over capacity")

// Slot is one (token, position, sequence, wants-logits) tuple.
type Slot struct {
	Token  Token
	Pos    Pos
	Seq    SeqID
	Logits bool
}

// Batch is a reusable buffer of at most Cap slots. Callers must Reset (or
// Fill, which resets) before writing a new step into it.
type Batch struct {
	slots []Slot
}

func New(capacity int) *Batch {
	if capacity <= 0 {
		panic(fmt.Sprintf("batch: invalid capacity %d", capacity))
	}
	return &Batch{slots: make([]Slot, 0, capacity)}
}

func (b *Batch) Reset() {
	b.slots = b.slots[:0]
}

func (b *Batch) Len() int { return len(b.slots) }

func (b *Batch) Cap() int { return cap(b.slots) }

// Add appends one slot.
func (b *Batch) Add(tok Token, pos Pos, seq SeqID, logits bool) error {
	if len(b.slots) == cap(b.slots) {
		return fmt.Errorf("%w: capacity %d", ErrOverCapacity, cap(b.slots))
	}
	b.slots = append(b.slots, Slot{Token: tok, Pos: pos, Seq: seq, Logits: logits})
	return nil
}

// Slots returns the live slots. The slice is only valid until the next
// Reset, Add or Fill.
func (b *Batch) Slots() []Slot {
	return b.slots
}

// Slot returns slot i.
func (b *Batch) Slot(i int) Slot {
	return b.slots[i]
}

// Outputs counts the slots that request logits.
func (b *Batch) Outputs() int {
	n := 0
	for _, s := range b.slots {
		if s.Logits {
			n++
		}
	}
	return n
}

// Fill resets b and writes tokens at consecutive positions starting at
// start, all on DefaultSeq. Only slot output requests logits; pass NoOutput
// for none. Chunking is the caller's job: len(tokens) > b.Cap() fails.
func Fill(b *Batch, tokens []Token, start Pos, output int) error {
	if len(tokens) > b.Cap() {
		return fmt.Errorf("%w: %d tokens into batch of %d", ErrOverCapacity, len(tokens), b.Cap())
	}
	if output != NoOutput && (output < 0 || output >= len(tokens)) {
		return fmt.Errorf("batch: output slot %d out of range [0,%d)", output, len(tokens))
	}
	b.Reset()
	for i, tok := range tokens {
		b.slots = append(b.slots, Slot{
			Token:  tok,
			Pos:    start + Pos(i),
			Seq:    DefaultSeq,
			Logits: i == output,
		})
	}
	return nil
}

// Span is a half-open range [Start, End) of a token sequence.
type Span struct {
	Start int
	End   int
}

func (s Span) Len() int { return s.End - s.Start }

// Chunks splits n tokens into ceil(n/size) consecutive spans of at most size.
func Chunks(n, size int) []Span {
	if n <= 0 || size <= 0 {
		return nil
	}
	spans := make([]Span, 0, (n+size-1)/size)
	for i := 0; i < n; i += size {
		spans = append(spans, Span{Start: i, End: min(i+size, n)})
	}
	return spans
}
