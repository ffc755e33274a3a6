package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestScanCursorMaxProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("block max is commutative and never regresses", prop.ForAll(
		func(a, b uint64) bool {
			x, y := BlockCursor(a), BlockCursor(b)
			m := x.Max(y)
			return m == y.Max(x) && !m.Before(x) && !m.Before(y)
		},
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.Property("timestamp max picks the larger value", prop.ForAll(
		func(a, b int64) bool {
			m := TimestampCursor(a).Max(TimestampCursor(b))
			want := a
			if b > a {
				want = b
			}
			return m.TimestampMs == want
		},
		gen.Int64Range(0, 1<<50),
		gen.Int64Range(0, 1<<50),
	))

	properties.TestingRun(t)
}
