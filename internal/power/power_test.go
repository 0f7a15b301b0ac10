package power

import (
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func newTestAccountant() *Accountant {
	var v atomic.Value
	v.Store("")
	return New(zerolog.Nop(), &v, func() bool { return false })
}

func TestTrimAndMergeBelowCeilingIsNoop(t *testing.T) {
	a := newTestAccountant()
	a.data = map[string]AppPower{
		"a": {TimeSec: 1, Joules: 1},
		"b": {TimeSec: 2, Joules: 2},
	}
	a.trimAndMerge()
	if len(a.data) != 2 {
		t.Fatalf("len(data) = %d, want 2", len(a.data))
	}
}

func TestTrimAndMergeKeepsTop20AndMergesRest(t *testing.T) {
	a := newTestAccountant()
	data := make(map[string]AppPower, 35)
	for i := 0; i < 35; i++ {
		data[string(rune('a'+i%26))+string(rune('A'+i/26))] = AppPower{TimeSec: 1, Joules: float64(i)}
	}
	a.data = data

	a.trimAndMerge()

	if len(a.data) != trimKeep+1 {
		t.Fatalf("len(data) after trim = %d, want %d", len(a.data), trimKeep+1)
	}
	if _, ok := a.data[otherKey]; !ok {
		t.Fatal("expected _other_ key after trim")
	}
}

func TestTrimAndMergePreservesExistingOther(t *testing.T) {
	a := newTestAccountant()
	data := make(map[string]AppPower, 32)
	for i := 0; i < 31; i++ {
		data[string(rune('a'+i))] = AppPower{TimeSec: 1, Joules: float64(i)}
	}
	data[otherKey] = AppPower{TimeSec: 5, Joules: 5}
	a.data = data

	a.trimAndMerge()

	other := a.data[otherKey]
	if other.TimeSec <= 5 || other.Joules <= 5 {
		t.Fatalf("expected existing _other_ contents folded in, got %+v", other)
	}
}

func TestDataCorrectionDoesNothingWithOneApp(t *testing.T) {
	a := newTestAccountant()
	a.data = map[string]AppPower{"solo": {TimeSec: 10, Joules: 0.0001}}
	before := a.unitExponent.Load()
	a.dataCorrection(0)
	if a.unitExponent.Load() != before {
		t.Fatalf("unit exponent changed with a single app present")
	}
}

func TestDataCorrectionAmplifiesWhenTooSmall(t *testing.T) {
	a := newTestAccountant()
	a.data = map[string]AppPower{
		"x": {TimeSec: 10, Joules: 0.01},
		"y": {TimeSec: 10, Joules: 0.02},
	}
	a.unitExponent.Store(12)
	a.dataCorrection(0)

	if got := a.unitExponent.Load(); got >= 12 {
		t.Fatalf("unit exponent = %d, want decreased from 12", got)
	}
}

func TestDataCorrectionReducesWhenTooLarge(t *testing.T) {
	a := newTestAccountant()
	a.data = map[string]AppPower{
		"x": {TimeSec: 10, Joules: 1000},
		"y": {TimeSec: 10, Joules: 2000},
	}
	a.unitExponent.Store(12)
	a.dataCorrection(0)

	if got := a.unitExponent.Load(); got <= 12 {
		t.Fatalf("unit exponent = %d, want increased from 12", got)
	}
}

func TestPow10(t *testing.T) {
	tests := []struct {
		exp  int
		want float64
	}{
		{0, 1}, {3, 1000}, {-3, 0.001}, {12, 1e12},
	}
	for _, tt := range tests {
		if got := pow10(tt.exp); got != tt.want {
			t.Errorf("pow10(%d) = %v, want %v", tt.exp, got, tt.want)
		}
	}
}

func TestReadSnapshotNeverExceeds30Keys(t *testing.T) {
	a := newTestAccountant()
	data := make(map[string]AppPower, 50)
	for i := 0; i < 50; i++ {
		data[string(rune('a'+i%26))+string(rune('A'+i/26))] = AppPower{TimeSec: float64(i + 1), Joules: float64(i)}
	}
	a.data = data

	snap := a.ReadSnapshot()
	if len(snap) > trimCeiling {
		t.Fatalf("ReadSnapshot returned %d entries, want <= %d", len(snap), trimCeiling)
	}
}

func TestSetScreenStatusIgnoredWhenNotRunning(t *testing.T) {
	a := newTestAccountant()
	a.SetScreenStatus(false)
	if a.screenOn.Load() != true {
		t.Fatal("SetScreenStatus should be a no-op while the accountant is not running")
	}
}

func TestClearStats(t *testing.T) {
	a := newTestAccountant()
	a.data["x"] = AppPower{TimeSec: 5, Joules: 5}
	a.ClearStats()
	if len(a.data) != 0 {
		t.Fatalf("len(data) after ClearStats = %d, want 0", len(a.data))
	}
}
