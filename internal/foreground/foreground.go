// Package foreground detects the package name of the topmost visible
// Android application using one of three dumpsys-based strategies, probing
// at runtime for the one that actually works on the host device.
package foreground

import (
	"bufio"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Detector produces the current foreground package name, auto-selecting a
// working strategy the first several times it is called.
type Detector struct {
	log zerolog.Logger

	mu      sync.Mutex
	working func() string

	displayPolicyIndent  int
	mTopFullscreenIndent int
	indentInitialized    bool

	grepFailCount int
	scanFailCount int
}

// New constructs a Detector. The first several calls to Current run the
// probing strategy; once a working strategy is identified it is pinned.
func New(log zerolog.Logger) *Detector {
	d := &Detector{log: log, displayPolicyIndent: -1, mTopFullscreenIndent: -1}
	d.working = d.probe
	return d
}

// Current returns the foreground package name, or "" if unknown. Empty is a
// valid result, not an error.
func (d *Detector) Current() string {
	d.mu.Lock()
	fn := d.working
	d.mu.Unlock()
	return fn()
}

func runShell(pipeline string) (string, error) {
	out, err := exec.Command("sh", "-c", pipeline).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func extractPackage(line string) string {
	slash := strings.IndexByte(line, '/')
	if slash <= 0 {
		return ""
	}
	start := slash - 1
	for start > 0 && line[start] != ' ' {
		start--
	}
	if line[start] == ' ' {
		start++
	}
	if start >= slash {
		return ""
	}
	return strings.TrimSpace(line[start:slash])
}

// viaGrep greps dumpsys activity activities for mTopFullscreen directly.
func (d *Detector) viaGrep() string {
	out, err := runShell("dumpsys activity activities | grep '^[[:space:]]*mTopFullscreen'")
	if err != nil {
		d.log.Warn().Err(err).Msg("dumpsys activities grep failed")
		return ""
	}
	sc := bufio.NewScanner(strings.NewReader(out))
	if sc.Scan() {
		return extractPackage(sc.Text())
	}
	return ""
}

func countLeadingSpaces(line string) int {
	if line == "" {
		return -1
	}
	n := 0
	for _, c := range line {
		if c == ' ' || c == '\t' {
			n++
		} else {
			break
		}
	}
	return n
}

func (d *Detector) initIndentationConfig() {
	out, err := runShell("dumpsys activity activities | grep -E 'mTopFullscreen'")
	if err == nil {
		sc := bufio.NewScanner(strings.NewReader(out))
		if sc.Scan() {
			d.mTopFullscreenIndent = countLeadingSpaces(sc.Text())
		}
	}

	time.Sleep(500 * time.Millisecond)

	out, err = runShell("dumpsys activity activities | grep -E 'DisplayPolicy'")
	if err == nil {
		sc := bufio.NewScanner(strings.NewReader(out))
		if sc.Scan() {
			d.displayPolicyIndent = countLeadingSpaces(sc.Text())
		}
	}

	d.indentInitialized = true
	d.log.Debug().Int("displayPolicyIndent", d.displayPolicyIndent).
		Int("mTopFullscreenIndent", d.mTopFullscreenIndent).Msg("detected indentation")
}

// viaScan parses the full dumpsys activities stream, locating DisplayPolicy
// by measured indentation, then the mTopFullscreen line beneath it.
func (d *Detector) viaScan() string {
	if d.displayPolicyIndent < 0 || d.mTopFullscreenIndent < 0 {
		return ""
	}
	out, err := runShell("dumpsys activity activities")
	if err != nil {
		d.log.Error().Err(err).Msg("dumpsys activities failed")
		return ""
	}

	var result string
	foundDisplayPolicy := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !foundDisplayPolicy {
			if len(line) > d.displayPolicyIndent && strings.HasPrefix(line[d.displayPolicyIndent:], "DisplayPolicy") {
				foundDisplayPolicy = true
			}
			continue
		}
		if len(line) > d.mTopFullscreenIndent && strings.HasPrefix(line[d.mTopFullscreenIndent:], "mTopFullscreen") {
			result = extractPackage(line)
		}
	}
	return result
}

// viaLru reads the third line of dumpsys activity lru, extracting the token
// between ':' and '/' when it is marked TOP (not BTOP).
func (d *Detector) viaLru() string {
	out, err := runShell("dumpsys activity lru")
	if err != nil {
		return ""
	}
	return parseLruFromReader(out)
}

// parseLruFromReader implements the dumpsys activity lru parse in isolation
// from subprocess execution, so it can be exercised against captured output.
func parseLruFromReader(out string) string {
	sc := bufio.NewScanner(strings.NewReader(out))
	lineCount := 0
	for sc.Scan() {
		lineCount++
		if lineCount != 3 {
			continue
		}
		line := sc.Text()
		if len(line) <= 16 {
			return ""
		}

		startPos, endPos := -1, -1
		for i := 16; i < len(line); i++ {
			switch line[i] {
			case ':':
				startPos = i + 1
			case '/':
				if startPos >= 0 {
					endPos = i
				}
			}
			if endPos >= 0 {
				break
			}
		}
		if startPos < 0 || endPos < 0 || endPos <= startPos {
			return ""
		}

		foundTop := false
		for i := startPos - 4; i >= 0; i-- {
			if i+3 < startPos && line[i] == 'T' && line[i+1] == 'O' && line[i+2] == 'P' {
				if i == 0 || line[i-1] != 'B' {
					foundTop = true
				}
				break
			}
		}
		if !foundTop {
			return ""
		}
		return line[startPos:endPos]
	}
	return ""
}

// probe runs on every call until a strategy switch is decided, then the
// working func field is reassigned and probe is never called again.
func (d *Detector) probe() string {
	a := d.viaGrep()

	d.mu.Lock()
	defer d.mu.Unlock()

	if a != "" {
		d.grepFailCount = -1
	} else if d.grepFailCount >= 0 {
		time.Sleep(500 * time.Millisecond)
		c := d.viaLru()
		if c != "" {
			d.grepFailCount++
		}
		if d.grepFailCount >= 5 {
			d.log.Debug().Msg("activities unavailable, switching to lru strategy")
			d.working = d.viaLru
		}
		return c
	}

	if !d.indentInitialized {
		d.initIndentationConfig()
	}
	if d.displayPolicyIndent < 0 || d.mTopFullscreenIndent < 0 {
		return a
	}

	time.Sleep(500 * time.Millisecond)
	b := d.viaScan()
	if a != "" && b == "" {
		d.scanFailCount++
	}
	if b != "" {
		d.log.Debug().Msg("fast scan strategy available, switching")
		d.working = d.viaScan
	}
	if d.scanFailCount >= 5 {
		d.log.Debug().Msg("fast scan strategy unavailable, pinning grep strategy")
		d.working = d.viaGrep
	}

	return a
}
