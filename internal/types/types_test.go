package types

import (
	"testing"
)

func TestParseChainID(t *testing.T) {
	tests := []struct {
		in      string
		want    ChainID
		wantErr bool
	}{
		{"bsc", ChainBSC, false},
		{"BNB", ChainBSC, false},
		{" tron ", ChainTRON, false},
		{"trc20", ChainTRON, false},
		{"ethereum", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChainID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseChainID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseChainID(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCurrency_IsStable(t *testing.T) {
	stable := []Currency{CurrencyUSDT, CurrencyUSDC, CurrencyBUSD}
	for _, c := range stable {
		if !c.IsStable() {
			t.Errorf("%s.IsStable() = false, want true", c)
		}
	}
	for _, c := range []Currency{CurrencyBNB, CurrencyTRX, "DOGE"} {
		if c.IsStable() {
			t.Errorf("%s.IsStable() = true, want false", c)
		}
	}
}

func TestChainID_NativeAndCursorKind(t *testing.T) {
	if ChainBSC.NativeCurrency() != CurrencyBNB {
		t.Errorf("BSC native = %s, want BNB", ChainBSC.NativeCurrency())
	}
	if ChainTRON.NativeCurrency() != CurrencyTRX {
		t.Errorf("TRON native = %s, want TRX", ChainTRON.NativeCurrency())
	}
	if ChainBSC.CursorKind() != CursorBlock {
		t.Errorf("BSC cursor kind = %s, want block", ChainBSC.CursorKind())
	}
	if ChainTRON.CursorKind() != CursorTimestamp {
		t.Errorf("TRON cursor kind = %s, want timestamp", ChainTRON.CursorKind())
	}
}

func TestScanCursor_Max(t *testing.T) {
	if got := BlockCursor(10).Max(BlockCursor(7)); got.Block != 10 {
		t.Errorf("Max = %v, want block:10", got)
	}
	if got := TimestampCursor(5).Max(TimestampCursor(9)); got.TimestampMs != 9 {
		t.Errorf("Max = %v, want ts:9", got)
	}
	// mixed kinds keep the receiver
	if got := BlockCursor(3).Max(TimestampCursor(100)); got.Kind != CursorBlock || got.Block != 3 {
		t.Errorf("Max across kinds = %v, want block:3", got)
	}
}

func TestScanCursor_Validate(t *testing.T) {
	if err := BlockCursor(0).Validate(); err != nil {
		t.Errorf("BlockCursor(0).Validate() = %v", err)
	}
	if err := TimestampCursor(-1).Validate(); err == nil {
		t.Error("expected error for negative timestamp")
	}
	if err := (ScanCursor{Kind: "height"}).Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestOutboundStatus_IsTerminal(t *testing.T) {
	if OutboundPending.IsTerminal() {
		t.Error("PENDING should not be terminal")
	}
	if !OutboundConfirmed.IsTerminal() || !OutboundFailed.IsTerminal() {
		t.Error("CONFIRMED and FAILED should be terminal")
	}
}
