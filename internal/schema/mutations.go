package schema

import "fmt"

// MutationKind distinguishes the mutation shapes SPEC_FULL.md §4.4
// validates before handing a Change to the CRDT engine.
type MutationKind int

const (
	// Insert requires the row not already exist; id is host-supplied but
	// must be fresh (the CRDT engine itself does not check uniqueness —
	// the validator's job is shape, not storage-state).
	Insert MutationKind = iota
	// Update requires an id and at least one non-system column value.
	Update
	// Upsert accepts either shape.
	Upsert
	// Delete is a soft delete: it requires an id and sets isDeleted=1,
	// propagated through the same per-column history/sync path as any
	// other write (SPEC_FULL.md §1: "deletion is a write with
	// isDeleted=1"), never a row removal.
	Delete
)

// ValidMutationSizeBytes is the maximum serialized size (SPEC_FULL.md
// §7's ValidMutationSizeError) for one Change's Values map, keeping a
// single malformed mutation from blowing up the history log or the wire
// envelope it will eventually become.
const ValidMutationSizeBytes = 1 << 20 // 1 MiB

// ValidateMutation validates a Change against the mutation shape kind
// requires, on top of Change.Validate's structural checks.
func ValidateMutation(kind MutationKind, c Change) error {
	if err := c.Validate(); err != nil {
		return err
	}

	switch kind {
	case Insert:
		// Nothing further: an Insert may set zero application columns
		// (a bare row with only system columns is valid).
	case Update:
		if len(c.Values) == 0 {
			return fmt.Errorf("schema: update of %s/%s has no column values", c.Table, c.ID)
		}
	case Upsert:
		// Either shape is acceptable.
	case Delete:
		if len(c.Values) != 0 {
			return fmt.Errorf("schema: delete of %s/%s must not carry column values", c.Table, c.ID)
		}
	default:
		return fmt.Errorf("schema: unknown mutation kind %d", kind)
	}

	if size := EstimateSize(c); size > ValidMutationSizeBytes {
		return fmt.Errorf("schema: mutation to %s/%s is %d bytes, exceeds limit %d", c.Table, c.ID, size, ValidMutationSizeBytes)
	}
	return nil
}

// EstimateSize returns a conservative upper bound on a Change's
// serialized size, summing the byte length of every column name and
// value payload.
func EstimateSize(c Change) int {
	size := len(c.Table) + len(c.ID) + len(c.OwnerID)
	for col, v := range c.Values {
		size += len(col)
		switch v.Kind {
		case KindText:
			size += len(v.Text)
		case KindBlob:
			size += len(v.Blob)
		case KindInteger, KindReal:
			size += 8
		}
	}
	return size
}

// ValidateBatch validates every Change in a microtask batch, per
// SPEC_FULL.md §4.4: "a failed validator inserts a sentinel; if any
// validator in the batch failed, the whole batch is cancelled". Returns
// the first validation error encountered, or nil if every Change in the
// batch is valid.
func ValidateBatch(kind MutationKind, changes []Change) error {
	for i, c := range changes {
		if err := ValidateMutation(kind, c); err != nil {
			return fmt.Errorf("schema: batch invalid at index %d: %w", i, err)
		}
	}
	return nil
}
