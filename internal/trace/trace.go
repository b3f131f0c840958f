// Package trace records every batch submitted to an inference engine and
// writes the log as an Arrow IPC file.
package trace

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/samcharles93/lantern/internal/batch"
	"github.com/samcharles93/lantern/internal/inference"
)

// Schema is the column layout of a trace file. One row per batch slot.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "call", Type: arrow.PrimitiveTypes.Int32},
	{Name: "step", Type: arrow.PrimitiveTypes.Int64},
	{Name: "slot", Type: arrow.PrimitiveTypes.Int32},
	{Name: "token", Type: arrow.PrimitiveTypes.Int32},
	{Name: "pos", Type: arrow.PrimitiveTypes.Int32},
	{Name: "seq", Type: arrow.PrimitiveTypes.Int32},
	{Name: "logits", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "ok", Type: arrow.FixedWidthTypes.Boolean},
}, nil)

type Row struct {
	Call   int32
	Step   int64
	Slot   int32
	Token  batch.Token
	Pos    batch.Pos
	Seq    batch.SeqID
	Logits bool
	OK     bool
}

// Recorder wraps an engine and logs the slots of every Decode. A call
// boundary is assumed whenever the wrapped engine's sequence is cleared.
type Recorder struct {
	inner inference.InferenceEngine

	mu   sync.Mutex
	rows []Row
	call int32
	step int64
}

func NewRecorder(inner inference.InferenceEngine) *Recorder {
	return &Recorder{inner: inner}
}

func (r *Recorder) Decode(b *batch.Batch) error {
	err := r.inner.Decode(b)

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range b.Slots() {
		r.rows = append(r.rows, Row{
			Call:   r.call,
			Step:   r.step,
			Slot:   int32(i),
			Token:  s.Token,
			Pos:    s.Pos,
			Seq:    s.Seq,
			Logits: s.Logits,
			OK:     err == nil,
		})
	}
	r.step++
	return err
}

func (r *Recorder) Logits(i int) ([]float32, error) { return r.inner.Logits(i) }

func (r *Recorder) ContextSize() int { return r.inner.ContextSize() }

// ClearSeq forwards to the wrapped engine when it supports clearing.
func (r *Recorder) ClearSeq(seq batch.SeqID) error {
	r.mu.Lock()
	if r.step > 0 {
		r.call++
		r.step = 0
	}
	r.mu.Unlock()
	if c, ok := r.inner.(inference.CacheClearer); ok {
		return c.ClearSeq(seq)
	}
	return nil
}

// Rows returns a copy of the rows recorded so far.
func (r *Recorder) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Row(nil), r.rows...)
}

// Write encodes the recorded rows as a single Arrow record in IPC file
// format.
func (r *Recorder) Write(w io.Writer) error {
	rows := r.Rows()

	mem := memory.NewGoAllocator()
	bld := array.NewRecordBuilder(mem, Schema)
	defer bld.Release()

	call := bld.Field(0).(*array.Int32Builder)
	step := bld.Field(1).(*array.Int64Builder)
	slot := bld.Field(2).(*array.Int32Builder)
	tok := bld.Field(3).(*array.Int32Builder)
	pos := bld.Field(4).(*array.Int32Builder)
	seq := bld.Field(5).(*array.Int32Builder)
	lg := bld.Field(6).(*array.BooleanBuilder)
	ok := bld.Field(7).(*array.BooleanBuilder)
	for _, row := range rows {
		call.Append(row.Call)
		step.Append(row.Step)
		slot.Append(row.Slot)
		tok.Append(row.Token)
		pos.Append(row.Pos)
		seq.Append(row.Seq)
		lg.Append(row.Logits)
		ok.Append(row.OK)
	}
	rec := bld.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(Schema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("trace: open writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return fmt.Errorf("trace: write record: %w", err)
	}
	return fw.Close()
}

// WriteFile writes the trace to path.
func (r *Recorder) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadFile loads the rows of a trace file.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rd, err := ipc.NewFileReader(f, ipc.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("trace: open reader: %w", err)
	}
	defer rd.Close()

	var rows []Row
	for i := 0; i < rd.NumRecords(); i++ {
		rec, err := rd.Record(i)
		if err != nil {
			return nil, fmt.Errorf("trace: record %d: %w", i, err)
		}
		rows = appendRows(rows, rec)
	}
	return rows, nil
}

func appendRows(rows []Row, rec arrow.Record) []Row {
	call := rec.Column(0).(*array.Int32)
	step := rec.Column(1).(*array.Int64)
	slot := rec.Column(2).(*array.Int32)
	tok := rec.Column(3).(*array.Int32)
	pos := rec.Column(4).(*array.Int32)
	seq := rec.Column(5).(*array.Int32)
	lg := rec.Column(6).(*array.Boolean)
	ok := rec.Column(7).(*array.Boolean)
	for i := 0; i < int(rec.NumRows()); i++ {
		rows = append(rows, Row{
			Call:   call.Value(i),
			Step:   step.Value(i),
			Slot:   slot.Value(i),
			Token:  tok.Value(i),
			Pos:    pos.Value(i),
			Seq:    seq.Value(i),
			Logits: lg.Value(i),
			OK:     ok.Value(i),
		})
	}
	return rows
}

var (
	_ inference.InferenceEngine = (*Recorder)(nil)
	_ inference.CacheClearer    = (*Recorder)(nil)
)
