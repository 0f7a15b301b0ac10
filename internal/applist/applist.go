// Package applist implements the peripheral "applist" RPC target: it
// enumerates installed Android packages via `pm`, resolving each one's APK
// path and (best-effort) human-readable label, with a full rebuild on the
// first read and an incremental diff on subsequent reads.
package applist

import (
	"bufio"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// App is one enumerated package entry.
type App struct {
	Package string `json:"package"`
	Label   string `json:"label,omitempty"`
}

// Enumerator builds and incrementally refreshes the installed-package list.
// aapt is optional: its absence degrades entries to package-name-only
// rather than failing the whole target.
type Enumerator struct {
	log zerolog.Logger

	mu       sync.Mutex
	apps     map[string]App
	hasBuilt bool
}

// New constructs an Enumerator. Nothing is enumerated until Read is called.
func New(log zerolog.Logger) *Enumerator {
	return &Enumerator{log: log, apps: make(map[string]App)}
}

// zhLabelRE matches a locale-suffixed Chinese label line (e.g.
// application-label-zh-CN:'...'); enLabelRE matches the plain label line.
// A zh label, if present, wins — matching the source's getAppLabelFromApk,
// which returns on the first application-label-zh line it sees and only
// falls back to the plain application-label line when none was found.
var zhLabelRE = regexp.MustCompile(`application-label-zh[\w-]*:'([^']*)'`)
var enLabelRE = regexp.MustCompile(`application-label:'([^']*)'`)

func extractLabel(badging string) string {
	if m := zhLabelRE.FindStringSubmatch(badging); m != nil {
		return m[1]
	}
	if m := enLabelRE.FindStringSubmatch(badging); m != nil {
		return m[1]
	}
	return ""
}

func listPackages() ([]string, error) {
	out, err := exec.Command("pm", "list", "packages").Output()
	if err != nil {
		return nil, err
	}
	var pkgs []string
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if pkg, ok := strings.CutPrefix(line, "package:"); ok && pkg != "" {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs, nil
}

func resolve(pkg string) App {
	app := App{Package: pkg}

	pathOut, err := exec.Command("pm", "path", pkg).Output()
	if err != nil {
		return app
	}
	apkPath := ""
	sc := bufio.NewScanner(strings.NewReader(string(pathOut)))
	if sc.Scan() {
		if p, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "package:"); ok {
			apkPath = p
		}
	}
	if apkPath == "" {
		return app
	}

	badging, err := exec.Command("aapt", "dump", "badging", apkPath).Output()
	if err != nil {
		// aapt not present or failed: degrade to package-name-only.
		return app
	}
	app.Label = extractLabel(string(badging))
	return app
}

// Read returns the current enumeration. On the first call it resolves
// every installed package; afterward only newly-seen packages are resolved
// and packages no longer listed are dropped from the cache.
func (e *Enumerator) Read() []App {
	pkgs, err := listPackages()
	if err != nil {
		e.log.Warn().Err(err).Msg("pm list packages failed")
		e.mu.Lock()
		defer e.mu.Unlock()
		return flatten(e.apps)
	}

	seen := make(map[string]struct{}, len(pkgs))
	for _, p := range pkgs {
		seen[p] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasBuilt {
		for _, p := range pkgs {
			e.apps[p] = resolve(p)
		}
		e.hasBuilt = true
		return flatten(e.apps)
	}

	for p := range e.apps {
		if _, ok := seen[p]; !ok {
			delete(e.apps, p)
		}
	}
	for _, p := range pkgs {
		if _, ok := e.apps[p]; !ok {
			e.apps[p] = resolve(p)
		}
	}
	return flatten(e.apps)
}

func flatten(m map[string]App) []App {
	out := make([]App, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	return out
}
