package strategy

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestPositionLifecycle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := NewPositionState("BTCUSDT")

	if pos.Open() {
		t.Fatal("fresh state must not report an open position")
	}
	if err := pos.Check(); err != nil {
		t.Fatalf("fresh state invariant: %v", err)
	}

	pos.ApplyEntryFill(100, 2.5, now)
	if !pos.Open() {
		t.Fatal("position must be open after an entry fill")
	}
	if pos.PeakSinceEntry != 100 {
		t.Errorf("peak = %v, want entry price 100", pos.PeakSinceEntry)
	}
	if err := pos.Check(); err != nil {
		t.Fatalf("open state invariant: %v", err)
	}

	pos.UpdatePeak(95)
	if pos.PeakSinceEntry != 100 {
		t.Errorf("peak must never fall, got %v", pos.PeakSinceEntry)
	}
	pos.UpdatePeak(112)
	if pos.PeakSinceEntry != 112 {
		t.Errorf("peak = %v, want 112", pos.PeakSinceEntry)
	}

	pnl := pos.ApplyExitFill(110, now.Add(time.Hour))
	if math.Abs(pnl-25) > 1e-9 {
		t.Errorf("pnl = %v, want (110-100)*2.5 = 25", pnl)
	}
	if pos.Open() {
		t.Error("position must be flat after the exit fill")
	}
}

func TestArmRebuyRejectsDoubleArm(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := NewPositionState("ETHUSDT")

	if err := pos.ArmRebuy(200, 15*time.Minute, now); err != nil {
		t.Fatalf("first arm: %v", err)
	}
	if math.Abs(pos.RebuyPrice-196) > 1e-9 {
		t.Errorf("rebuy price = %v, want 200 * 0.98 = 196", pos.RebuyPrice)
	}
	if !pos.RebuyReadyAt.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("ready at %v, want %v", pos.RebuyReadyAt, now.Add(15*time.Minute))
	}

	err := pos.ArmRebuy(180, 15*time.Minute, now)
	if !errors.Is(err, ErrRebuyAlreadyArmed) {
		t.Fatalf("second arm error = %v, want ErrRebuyAlreadyArmed", err)
	}
	if pos.RebuyPrice != 196 {
		t.Errorf("rejected arm must not overwrite the latch, price = %v", pos.RebuyPrice)
	}

	pos.DisarmRebuy()
	if pos.RebuyArmed || pos.RebuyPrice != 0 || !pos.RebuyReadyAt.IsZero() {
		t.Errorf("disarm must clear the latch: %+v", pos)
	}
}

func TestRebuyLatchSurvivesExitFill(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pos := NewPositionState("BTCUSDT")
	pos.ApplyEntryFill(100, 1, now)

	if err := pos.ArmRebuy(106.90, 15*time.Minute, now); err != nil {
		t.Fatal(err)
	}
	pos.ApplyExitFill(106.90, now)

	if !pos.RebuyArmed {
		t.Error("exit fill must not clear the rebuy latch")
	}
	if err := pos.Check(); err != nil {
		t.Errorf("flat armed state invariant: %v", err)
	}
}

func TestCheckFlagsCorruptState(t *testing.T) {
	pos := NewPositionState("BTCUSDT")
	pos.Quantity = 1
	pos.EntryPrice = 0
	if err := pos.Check(); err == nil {
		t.Error("open position without an entry price must fail the check")
	}

	pos = NewPositionState("BTCUSDT")
	pos.Quantity = -1
	if err := pos.Check(); err == nil {
		t.Error("negative quantity must fail the check")
	}

	pos = NewPositionState("BTCUSDT")
	pos.ApplyEntryFill(100, 1, time.Now())
	pos.RebuyArmed = true
	if err := pos.Check(); err == nil {
		t.Error("armed latch on a settled open position must fail the check")
	}
}
