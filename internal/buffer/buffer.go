package buffer

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

var (
	// ErrInsufficientData signals a sample request larger than the buffer.
	// Callers gate on Len before sampling; schedulers skip the round.
	ErrInsufficientData = errors.New("insufficient data in update buffer")
	// ErrBufferFormat signals a corrupt or incompatible persisted buffer.
	ErrBufferFormat = errors.New("update buffer format mismatch")
)

// Field names used when trajectories are flattened into the update buffer.
const (
	FieldVectorObs     = "vector_obs"
	FieldNextVectorObs = "next_vector_obs"
	FieldMemory        = "memory"
	FieldActions       = "actions"
	FieldPrevAction    = "prev_action"
	FieldActionMask    = "action_mask"
	FieldActionProbs   = "action_probs"
	FieldMasks         = "masks"
	FieldDone          = "done"
)

// VisualObsField returns the field name for camera index i.
func VisualObsField(i int) string {
	return fmt.Sprintf("visual_obs%d", i)
}

// NextVisualObsField returns the next-step field name for camera index i.
func NextVisualObsField(i int) string {
	return fmt.Sprintf("next_visual_obs%d", i)
}

// RewardsField returns the scaled-reward field name for a reward signal.
func RewardsField(signal string) string {
	return fmt.Sprintf("%s_rewards", signal)
}

// ValueEstimatesField returns the value-estimate field name for a reward signal.
func ValueEstimatesField(signal string) string {
	return fmt.Sprintf("%s_value_estimates", signal)
}

// MiniBatch is a field-keyed view of sampled training rows. Batches handed to
// collaborators are deep copies; mutating one never touches the buffer.
type MiniBatch map[string][][]float64

// Rows returns the number of rows in the batch.
func (m MiniBatch) Rows() int {
	for _, rows := range m {
		return len(rows)
	}
	return 0
}

// UpdateBuffer is the global pool of completed training rows: a column store
// keyed by field name, every field holding the same number of rows in
// insertion order. Append-only between truncation passes.
type UpdateBuffer struct {
	fields map[string][][]float64
	order  []string
	rng    *rand.Rand
}

// NewUpdateBuffer returns an empty buffer. The seed drives sampling and
// shuffling only.
func NewUpdateBuffer(seed int64) *UpdateBuffer {
	return &UpdateBuffer{
		fields: make(map[string][][]float64),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Len returns the number of rows currently held.
func (b *UpdateBuffer) Len() int {
	for _, rows := range b.fields {
		return len(rows)
	}
	return 0
}

// FieldNames returns the field names in their fixed order.
func (b *UpdateBuffer) FieldNames() []string {
	return append([]string(nil), b.order...)
}

// AppendColumns appends the given rows per field. Every field must carry the
// same number of rows, and after the first append the field set is fixed.
func (b *UpdateBuffer) AppendColumns(cols map[string][][]float64) error {
	if len(cols) == 0 {
		return nil
	}
	n := -1
	for name, rows := range cols {
		if n == -1 {
			n = len(rows)
			continue
		}
		if len(rows) != n {
			return fmt.Errorf("uneven column lengths: field %s has %d rows, want %d", name, len(rows), n)
		}
	}
	if n == 0 {
		return nil
	}

	if len(b.order) == 0 {
		names := make([]string, 0, len(cols))
		for name := range cols {
			names = append(names, name)
		}
		sort.Strings(names)
		b.order = names
	} else if len(cols) != len(b.order) {
		return fmt.Errorf("column set mismatch: got %d fields, want %d", len(cols), len(b.order))
	}

	for _, name := range b.order {
		rows, ok := cols[name]
		if !ok {
			return fmt.Errorf("missing column: %s", name)
		}
		for _, row := range rows {
			b.fields[name] = append(b.fields[name], append([]float64(nil), row...))
		}
	}
	return nil
}

// Shuffle permutes rows, keeping sequence-length chunks contiguous when
// seqLen > 1. The trailing partial chunk, if any, stays in place.
func (b *UpdateBuffer) Shuffle(seqLen int) {
	n := b.Len()
	if n == 0 {
		return
	}
	if seqLen < 1 {
		seqLen = 1
	}
	chunks := n / seqLen
	if chunks < 2 {
		return
	}
	perm := b.rng.Perm(chunks)
	for _, rows := range b.fields {
		shuffled := make([][]float64, 0, n)
		for _, c := range perm {
			shuffled = append(shuffled, rows[c*seqLen:(c+1)*seqLen]...)
		}
		shuffled = append(shuffled, rows[chunks*seqLen:]...)
		copy(rows, shuffled)
	}
}

// MakeMiniBatch returns a deep copy of rows [start, end).
func (b *UpdateBuffer) MakeMiniBatch(start, end int) (MiniBatch, error) {
	if start < 0 || end > b.Len() || start >= end {
		return nil, fmt.Errorf("mini batch bounds [%d, %d) out of range for %d rows", start, end, b.Len())
	}
	out := make(MiniBatch, len(b.order))
	for _, name := range b.order {
		rows := make([][]float64, 0, end-start)
		for _, row := range b.fields[name][start:end] {
			rows = append(rows, append([]float64(nil), row...))
		}
		out[name] = rows
	}
	return out, nil
}

// SampleMiniBatch draws size rows uniformly at random, each row used at most
// once within the call. When seqLen > 1 the draw is sequence-aware: whole
// sequence-length chunks are drawn from chunk boundaries and size is rounded
// down to a multiple of seqLen. Fails with ErrInsufficientData when the
// buffer holds fewer rows than requested; the buffer is left unmodified.
func (b *UpdateBuffer) SampleMiniBatch(size, seqLen int) (MiniBatch, error) {
	n := b.Len()
	if size <= 0 {
		return nil, fmt.Errorf("sample size must be > 0, got %d", size)
	}
	if size > n {
		return nil, fmt.Errorf("requested %d rows with %d available: %w", size, n, ErrInsufficientData)
	}
	if seqLen < 1 {
		seqLen = 1
	}

	var indices []int
	if seqLen == 1 {
		perm := b.rng.Perm(n)[:size]
		sort.Ints(perm)
		indices = perm
	} else {
		chunks := n / seqLen
		want := size / seqLen
		if want == 0 || want > chunks {
			return nil, fmt.Errorf("requested %d sequences of length %d with %d available: %w", want, seqLen, chunks, ErrInsufficientData)
		}
		starts := b.rng.Perm(chunks)[:want]
		sort.Ints(starts)
		for _, s := range starts {
			for i := 0; i < seqLen; i++ {
				indices = append(indices, s*seqLen+i)
			}
		}
	}

	out := make(MiniBatch, len(b.order))
	for _, name := range b.order {
		rows := make([][]float64, 0, len(indices))
		for _, idx := range indices {
			rows = append(rows, append([]float64(nil), b.fields[name][idx]...))
		}
		out[name] = rows
	}
	return out, nil
}

// TruncateTo drops the oldest rows so that at most n remain, preserving the
// temporal order of the remainder.
func (b *UpdateBuffer) TruncateTo(n int) {
	if n < 0 {
		n = 0
	}
	cur := b.Len()
	if cur <= n {
		return
	}
	drop := cur - n
	for name, rows := range b.fields {
		kept := make([][]float64, n)
		copy(kept, rows[drop:])
		b.fields[name] = kept
	}
}

// Reset drops all rows and the field layout.
func (b *UpdateBuffer) Reset() {
	b.fields = make(map[string][][]float64)
	b.order = nil
}

// Equal reports field-by-field, row-by-row equality. Used by tests and the
// codec round-trip contract.
func (b *UpdateBuffer) Equal(other *UpdateBuffer) bool {
	if len(b.order) != len(other.order) {
		return false
	}
	for i, name := range b.order {
		if other.order[i] != name {
			return false
		}
		rows, otherRows := b.fields[name], other.fields[name]
		if len(rows) != len(otherRows) {
			return false
		}
		for r := range rows {
			if len(rows[r]) != len(otherRows[r]) {
				return false
			}
			for c := range rows[r] {
				if rows[r][c] != otherRows[r][c] {
					return false
				}
			}
		}
	}
	return true
}
