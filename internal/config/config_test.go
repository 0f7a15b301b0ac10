package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultMainMatchesKnownDefaults(t *testing.T) {
	d := DefaultMain()
	if d.PollInterval != 2 || d.LowBatteryThreshold != 15 || !d.Scene || d.ScreenOff != "powersave" {
		t.Fatalf("DefaultMain() = %+v, unexpected defaults", d)
	}
	if d.UpFps != 120 || d.DownFps != 60 || d.FpsBackdoorID != 1035 {
		t.Fatalf("DefaultMain() fps defaults = %+v", d)
	}
}

func TestMainTargetLoadsMissingFileAsDefaults(t *testing.T) {
	dir := t.TempDir()
	target := NewMainTarget(zerolog.Nop(), filepath.Join(dir, "config.json"))
	snap := target.Snapshot()
	if snap != DefaultMain() {
		t.Fatalf("Snapshot() = %+v, want defaults", snap)
	}
}

func TestMainTargetWriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	target := NewMainTarget(zerolog.Nop(), path)

	if err := target.Write([]byte(`{"low_battery_threshold":25}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := target.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var got Main
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.LowBatteryThreshold != 25 {
		t.Fatalf("LowBatteryThreshold = %d, want 25", got.LowBatteryThreshold)
	}
	// unrelated field should remain at its prior (default) value, not reset.
	if got.PollInterval != 2 {
		t.Fatalf("PollInterval = %d, want unchanged default 2", got.PollInterval)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to be written: %v", err)
	}
}

func TestMainTargetWriteAcceptsLenientTypes(t *testing.T) {
	dir := t.TempDir()
	target := NewMainTarget(zerolog.Nop(), filepath.Join(dir, "config.json"))

	if err := target.Write([]byte(`{"poll_interval":"5","scene":"1","dual_battery":"yes"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	snap := target.Snapshot()
	if snap.PollInterval != 5 {
		t.Fatalf("PollInterval = %d, want 5 (coerced from string)", snap.PollInterval)
	}
	if !snap.Scene || !snap.DualBattery {
		t.Fatalf("lenient booleans not coerced: %+v", snap)
	}
}

func TestMainTargetWriteRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	target := NewMainTarget(zerolog.Nop(), filepath.Join(dir, "config.json"))
	if err := target.Write([]byte(`not json`)); err == nil {
		t.Fatal("Write() with invalid JSON should return an error")
	}
}

func TestSchedulerTargetDropsIncompleteRules(t *testing.T) {
	dir := t.TempDir()
	target := NewSchedulerTarget(zerolog.Nop(), filepath.Join(dir, "scheduler_config.json"))

	payload := `{"defaultMode":"balance","rules":[
		{"appPackage":"com.x.y","mode":"performance"},
		{"appPackage":"","mode":"powersave"},
		{"appPackage":"com.a.b","mode":""}
	]}`
	if err := target.Write([]byte(payload)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	snap := target.Snapshot()
	if len(snap.Rules) != 1 {
		t.Fatalf("len(Rules) = %d, want 1 (incomplete rules dropped)", len(snap.Rules))
	}
	if snap.Rules[0].AppPackage != "com.x.y" || snap.Rules[0].Mode != "performance" {
		t.Fatalf("unexpected surviving rule: %+v", snap.Rules[0])
	}
}

func TestSchedulerTargetDefaultModeFallback(t *testing.T) {
	dir := t.TempDir()
	target := NewSchedulerTarget(zerolog.Nop(), filepath.Join(dir, "scheduler_config.json"))
	snap := target.Snapshot()
	if snap.DefaultMode != "balance" {
		t.Fatalf("DefaultMode = %q, want balance", snap.DefaultMode)
	}
}
