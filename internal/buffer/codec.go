package buffer

import (
	"encoding/gob"
	"fmt"
	"io"
)

const (
	codecMagic   = "paideia-update-buffer"
	codecVersion = 1
)

type bufferEnvelope struct {
	Magic   string
	Version int
	Order   []string
	Fields  map[string][][]float64
}

// Save writes the full buffer contents as a single binary stream. The format
// is opaque beyond the round-trip contract: Load(Save(b)) reproduces b
// field-by-field and in insertion order.
func (b *UpdateBuffer) Save(w io.Writer) error {
	env := bufferEnvelope{
		Magic:   codecMagic,
		Version: codecVersion,
		Order:   b.order,
		Fields:  b.fields,
	}
	if err := gob.NewEncoder(w).Encode(env); err != nil {
		return fmt.Errorf("encode update buffer: %w", err)
	}
	return nil
}

// Load replaces the buffer contents from a stream written by Save. A
// truncated, corrupt, or version-incompatible stream fails with
// ErrBufferFormat and leaves the buffer unmodified.
func (b *UpdateBuffer) Load(r io.Reader) error {
	var env bufferEnvelope
	if err := gob.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("decode update buffer: %v: %w", err, ErrBufferFormat)
	}
	if env.Magic != codecMagic {
		return fmt.Errorf("unexpected stream header %q: %w", env.Magic, ErrBufferFormat)
	}
	if env.Version != codecVersion {
		return fmt.Errorf("stream version %d, want %d: %w", env.Version, codecVersion, ErrBufferFormat)
	}
	if env.Fields == nil {
		env.Fields = make(map[string][][]float64)
	}
	if len(env.Order) != len(env.Fields) {
		return fmt.Errorf("stream field order does not match payload: %w", ErrBufferFormat)
	}
	n := -1
	for _, name := range env.Order {
		rows, ok := env.Fields[name]
		if !ok {
			return fmt.Errorf("stream missing field %s: %w", name, ErrBufferFormat)
		}
		if n == -1 {
			n = len(rows)
		} else if len(rows) != n {
			return fmt.Errorf("stream field %s has uneven length: %w", name, ErrBufferFormat)
		}
	}

	b.fields = env.Fields
	b.order = env.Order
	return nil
}
