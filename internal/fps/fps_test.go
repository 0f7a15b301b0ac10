package fps

import (
	"reflect"
	"testing"
)

const realDumpsysDisplayModes = `  mDisplayModes=
    DisplayModeRecord{mMode={id=1, width=1080, height=2400, fps=60.0}, alternativeRefreshRates=[30.0, 60.0]}
    DisplayModeRecord{mMode={id=2, width=1080, height=2400, fps=90.0}, alternativeRefreshRates=[]}
    DisplayModeRecord{mMode={id=3, width=1080, height=2400, fps=120.0}, alternativeRefreshRates=[]}
    DisplayModeRecord{mMode={id=4, width=1440, height=3200, fps=60.0}, alternativeRefreshRates=[]}
`

func TestParseAvailableRefreshRates(t *testing.T) {
	got := ParseAvailableRefreshRates(realDumpsysDisplayModes)
	want := []int{30, 60, 90, 120}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseAvailableRefreshRates = %v, want %v", got, want)
	}
}

func TestParseDisplayModeRecords(t *testing.T) {
	got := ParseDisplayModeRecords(realDumpsysDisplayModes)
	if len(got) != 4 {
		t.Fatalf("len(records) = %d, want 4", len(got))
	}
	if got[0].ID != 1 || got[0].Width != 1080 || got[0].Height != 2400 || got[0].Fps != 60 {
		t.Errorf("records[0] = %+v, want {1 1080 2400 60}", got[0])
	}
}

func TestDisplayModeIDToFps(t *testing.T) {
	got := DisplayModeIDToFps(realDumpsysDisplayModes)
	want := map[int]int{60: 1, 90: 2, 120: 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DisplayModeIDToFps = %v, want %v", got, want)
	}
}

func TestFpsMapNearest(t *testing.T) {
	m := newFpsMap(map[int]int{60: 1, 90: 2, 120: 3})
	tests := []struct {
		name string
		key  int
		want int
	}{
		{"exact", 90, 2},
		{"below_all_picks_lowest", 10, 1},
		{"above_all_picks_highest", 200, 3},
		{"tie_goes_to_lower", 75, 1},
		{"closer_to_upper", 85, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.nearest(tt.key); got != tt.want {
				t.Errorf("nearest(%d) = %d, want %d", tt.key, got, tt.want)
			}
		})
	}
}

func TestFpsMapNearestEmpty(t *testing.T) {
	m := newFpsMap(nil)
	if got := m.nearest(90); got != 0 {
		t.Errorf("nearest on empty map = %d, want 0", got)
	}
}

func TestSelectResolutionSingleGroup(t *testing.T) {
	records := ParseDisplayModeRecords(`
    DisplayModeRecord{mMode={id=1, width=1080, height=2400, fps=60.0}}
    DisplayModeRecord{mMode={id=2, width=1080, height=2400, fps=120.0}}
`)
	res, group := SelectResolution(records, "")
	if res != "1080x2400" || len(group) != 2 {
		t.Errorf("SelectResolution = (%q, %d items), want (1080x2400, 2)", res, len(group))
	}
}

func TestSelectResolutionPrefersConfigured(t *testing.T) {
	records := ParseDisplayModeRecords(realDumpsysDisplayModes)
	res, _ := SelectResolution(records, "1440x3200")
	if res != "1440x3200" {
		t.Errorf("SelectResolution configured = %q, want 1440x3200", res)
	}
}

func TestSelectResolutionPicksLargestGroupWhenUnconfigured(t *testing.T) {
	records := ParseDisplayModeRecords(realDumpsysDisplayModes)
	res, group := SelectResolution(records, "")
	if res != "1080x2400" || len(group) != 3 {
		t.Errorf("SelectResolution largest-group = (%q, %d), want (1080x2400, 3)", res, len(group))
	}
}

func TestSelectResolutionEmpty(t *testing.T) {
	res, group := SelectResolution(nil, "")
	if res != "" || group != nil {
		t.Errorf("SelectResolution(nil) = (%q, %v), want empty", res, group)
	}
}
