package types

import "fmt"

// CursorKind tags which field of a ScanCursor is meaningful
type CursorKind string

const (
	// CursorBlock is a block height (BSC)
	CursorBlock CursorKind = "block"
	// CursorTimestamp is a millisecond unix timestamp (TRON)
	CursorTimestamp CursorKind = "timestamp"
)

// ScanCursor is a resumable scan position. Exactly one of Block or
// TimestampMs is meaningful, selected by Kind.
type ScanCursor struct {
	Kind        CursorKind `json:"kind"`
	Block       uint64     `json:"block,omitempty"`
	TimestampMs int64      `json:"timestampMs,omitempty"`
}

// BlockCursor builds a block height cursor
func BlockCursor(block uint64) ScanCursor {
	return ScanCursor{Kind: CursorBlock, Block: block}
}

// TimestampCursor builds a millisecond timestamp cursor
func TimestampCursor(ms int64) ScanCursor {
	return ScanCursor{Kind: CursorTimestamp, TimestampMs: ms}
}

// Validate checks that the cursor kind is one we know
func (c ScanCursor) Validate() error {
	switch c.Kind {
	case CursorBlock:
		return nil
	case CursorTimestamp:
		if c.TimestampMs < 0 {
			return fmt.Errorf("negative timestamp cursor: %d", c.TimestampMs)
		}
		return nil
	default:
		return fmt.Errorf("unknown cursor kind: %q", c.Kind)
	}
}

// Before reports whether c is strictly behind other. Cursors of different
// kinds are not comparable and never report Before.
func (c ScanCursor) Before(other ScanCursor) bool {
	if c.Kind != other.Kind {
		return false
	}
	if c.Kind == CursorBlock {
		return c.Block < other.Block
	}
	return c.TimestampMs < other.TimestampMs
}

// Max returns the further of two cursors of the same kind
func (c ScanCursor) Max(other ScanCursor) ScanCursor {
	if c.Before(other) {
		return other
	}
	return c
}

func (c ScanCursor) String() string {
	if c.Kind == CursorBlock {
		return fmt.Sprintf("block:%d", c.Block)
	}
	return fmt.Sprintf("ts:%d", c.TimestampMs)
}
