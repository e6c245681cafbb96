package driver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spaghettifunk/anima2d/engine/core"
)

func TestMipLevelCount(t *testing.T) {
	tests := []struct {
		e    Extent
		want uint32
	}{
		{Extent{1, 1}, 1},
		{Extent{64, 64}, 7},
		{Extent{64, 16}, 7},
		{Extent{100, 3}, 7},
		{Extent{1024, 2048}, 12},
	}
	for _, tt := range tests {
		if got := MipLevelCount(tt.e); got != tt.want {
			t.Errorf("MipLevelCount(%v) = %d, want %d", tt.e, got, tt.want)
		}
	}
}

func TestMipExtents(t *testing.T) {
	got := MipExtents(Extent{8, 2}, 4)
	want := []Extent{{8, 2}, {4, 1}, {2, 1}, {1, 1}}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MipExtents[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestGetAligned(t *testing.T) {
	if got := GetAligned(13, 8); got != 16 {
		t.Errorf("GetAligned(13, 8) = %d, want 16", got)
	}
	if got := GetAligned(16, 8); got != 16 {
		t.Errorf("GetAligned(16, 8) = %d, want 16", got)
	}
}

func TestHandoverPlan(t *testing.T) {
	same := HandoverPlan{TransferFamily: 0, SecondaryFamily: 0, PrimaryFamily: 0}
	if same.TransferToSecondary() || same.SecondaryToPrimary() {
		t.Error("single family plan requires a handover")
	}
	split := HandoverPlan{TransferFamily: 2, SecondaryFamily: 1, PrimaryFamily: 0}
	if !split.TransferToSecondary() || !split.SecondaryToPrimary() {
		t.Error("three family plan skips a handover")
	}

	b := OwnershipBarrier(nil, 2, 1, LayoutTransferDst, AccessTransferWrite, 0, 3, 2)
	if b.SrcAccess != AccessTransferWrite || b.DstAccess != AccessTransferWrite {
		t.Errorf("ownership barrier access = %v -> %v, want transfer write on both halves", b.SrcAccess, b.DstAccess)
	}
	if !b.TransfersOwnership() {
		t.Error("TransfersOwnership() = false for 2 -> 1")
	}
	if b.OldLayout != b.NewLayout {
		t.Errorf("ownership barrier changes layout %v -> %v", b.OldLayout, b.NewLayout)
	}
	b.DstQueueFamily = QueueFamilyIgnored
	if b.TransfersOwnership() {
		t.Error("TransfersOwnership() = true with an ignored family")
	}
}

func TestSeverity(t *testing.T) {
	if got := Severity(fmt.Errorf("submit: %w", ErrDeviceLost)); got != core.SeverityDeviceLost {
		t.Errorf("Severity(device lost) = %v, want %v", got, core.SeverityDeviceLost)
	}
	if got := Severity(ErrOutOfMemory); got != core.SeverityNonCriticalError {
		t.Errorf("Severity(oom) = %v, want %v", got, core.SeverityNonCriticalError)
	}
	if got := Severity(nil); got != core.SeverityNone {
		t.Errorf("Severity(nil) = %v, want %v", got, core.SeverityNone)
	}
	if !errors.Is(fmt.Errorf("x: %w", ErrNotReady), ErrNotReady) {
		t.Error("wrapped ErrNotReady not detected")
	}
}
