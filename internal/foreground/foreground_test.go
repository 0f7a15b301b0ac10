package foreground

import (
	"testing"

	"github.com/rs/zerolog"
)

func discardLogger() zerolog.Logger { return zerolog.Nop() }

func TestExtractPackage(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"simple", "  mTopFullscreenOpaqueWindowState=Window{7c1a2b u0 com.tencent.mm/com.tencent.mm.ui.LauncherUI}", "com.tencent.mm"},
		{"no slash", "mTopFullscreen=nothinghere", ""},
		{"slash at start", "/leading", ""},
		{"with trailing spaces", " pkg.name/Activity extra", "pkg.name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPackage(tt.line); got != tt.want {
				t.Errorf("extractPackage(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestCountLeadingSpaces(t *testing.T) {
	tests := []struct {
		name string
		line string
		want int
	}{
		{"empty", "", -1},
		{"no indent", "DisplayPolicy", 0},
		{"two spaces", "  DisplayPolicy", 2},
		{"tab", "\tDisplayPolicy", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := countLeadingSpaces(tt.line); got != tt.want {
				t.Errorf("countLeadingSpaces(%q) = %d, want %d", tt.line, got, tt.want)
			}
		})
	}
}

// These lines mimic real `dumpsys activity lru` rows: "act:<pkg>/<activity>"
// preceded by a state marker ("TOP" or "BTOP") on the same row.
const realLruTopLine = "    #8: TOP  LRU#10 act:com.tencent.mm/com.tencent.mm.ui.LauncherUI"
const realLruBtopLine = "    #8: BTOP LRU#10 act:com.android.settings/.Settings"

func TestParseLruFromReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"top_on_third_line", "header1\nheader2\n" + realLruTopLine + "\n", "com.tencent.mm"},
		{"btop_excluded", "header1\nheader2\n" + realLruBtopLine + "\n", ""},
		{"too_few_lines", "header1\nheader2\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseLruFromReader(tt.input); got != tt.want {
				t.Errorf("parseLruFromReader(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestViaScanLocatesDisplayPolicySection(t *testing.T) {
	d := &Detector{displayPolicyIndent: 2, mTopFullscreenIndent: 4}
	// viaScan shells out; exercise its building blocks directly instead.
	lines := []string{
		"  SomeOtherSection",
		"  DisplayPolicy",
		"    mTopFullscreenOpaqueWindowState=Window{7c1a2b u0 com.tencent.mm/com.tencent.mm.ui.LauncherUI}",
	}
	var result string
	found := false
	for _, line := range lines {
		if !found {
			if len(line) > d.displayPolicyIndent && line[d.displayPolicyIndent:][:13] == "DisplayPolicy" {
				found = true
			}
			continue
		}
		if len(line) > d.mTopFullscreenIndent && line[d.mTopFullscreenIndent:][:14] == "mTopFullscreen" {
			result = extractPackage(line)
		}
	}
	if result != "com.tencent.mm" {
		t.Errorf("got %q, want com.tencent.mm", result)
	}
}

func TestNewDetectorStartsUnprobed(t *testing.T) {
	d := New(discardLogger())
	if d.displayPolicyIndent != -1 || d.mTopFullscreenIndent != -1 {
		t.Fatal("New() should start with unset indentation")
	}
}
