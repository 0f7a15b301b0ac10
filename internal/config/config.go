// Package config implements the two file-backed RPC targets: the main
// scalar-option config and the per-package scheduler rule set. Both are
// mtime-gated, mutex-protected, and merge unknown-tolerant JSON writes
// against an in-memory record with known defaults.
package config

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Main is the in-memory record for config.json, with defaults matching
// SPEC_FULL §4.5's known-keys table.
type Main struct {
	PollInterval        int    `json:"poll_interval"`
	LowBatteryThreshold int    `json:"low_battery_threshold"`
	Scene               bool   `json:"scene"`
	EnableDynamic       bool   `json:"enable_dynamic"`
	ModeFile            string `json:"mode_file"`
	ScreenOff           string `json:"screen_off"`
	SceneStrict         bool   `json:"scene_strict"`
	PowerMonitoring     bool   `json:"power_monitoring"`
	UsingInotify        bool   `json:"using_inotify"`
	DualBattery         bool   `json:"dual_battery"`
	CustomMode          string `json:"custom_mode"`
	DynamicFps          bool   `json:"dynamic_fps"`
	FpsIdleTime         int    `json:"fps_idle_time"`
	DownFps             int    `json:"down_fps"`
	UpFps               int    `json:"up_fps"`
	FpsBackdoor         bool   `json:"fps_backdoor"`
	FpsBackdoorID       int    `json:"fps_backdoor_id"`
	ScreenResolution    string `json:"screen_resolution"`
}

// DefaultMain returns the known-keys defaults table.
func DefaultMain() Main {
	return Main{
		PollInterval:        2,
		LowBatteryThreshold: 15,
		Scene:               true,
		EnableDynamic:       true,
		ModeFile:            "",
		ScreenOff:           "powersave",
		SceneStrict:         false,
		PowerMonitoring:     true,
		UsingInotify:        true,
		DualBattery:         false,
		CustomMode:          "",
		DynamicFps:          false,
		FpsIdleTime:         2500,
		DownFps:             60,
		UpFps:               120,
		FpsBackdoor:         false,
		FpsBackdoorID:       1035,
		ScreenResolution:    "",
	}
}

// MainTarget is the "config" RPC target, backed by config.json.
type MainTarget struct {
	log      zerolog.Logger
	filename string

	mu       sync.Mutex
	record   Main
	modified bool
	lastMod  int64
}

// NewMainTarget constructs the main config target and loads it immediately.
func NewMainTarget(log zerolog.Logger, filename string) *MainTarget {
	t := &MainTarget{log: log, filename: filename, record: DefaultMain()}
	t.reloadIfStale()
	return t
}

func (t *MainTarget) Name() string { return "config" }

// Modified reports and clears the "reapply on next loop tick" flag.
func (t *MainTarget) Modified() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.modified
	t.modified = false
	return m
}

// Snapshot returns a copy of the in-memory record, reloading from disk
// first if its mtime has advanced since the last load.
func (t *MainTarget) Snapshot() Main {
	t.reloadIfStale()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record
}

func (t *MainTarget) reloadIfStale() {
	info, err := os.Stat(t.filename)
	if err != nil {
		return
	}
	mtime := info.ModTime().UnixNano()

	t.mu.Lock()
	stale := mtime != t.lastMod
	t.mu.Unlock()
	if !stale {
		return
	}

	raw, err := os.ReadFile(t.filename)
	if err != nil {
		t.log.Warn().Err(err).Str("file", t.filename).Msg("cannot read config file")
		return
	}
	if !gjson.ValidBytes(raw) {
		t.log.Warn().Str("file", t.filename).Msg("config file is not valid JSON, keeping in-memory state")
		return
	}

	t.mu.Lock()
	mergeMainFromGjson(&t.record, gjson.ParseBytes(raw))
	t.lastMod = mtime
	t.modified = true
	t.mu.Unlock()
}

// Read returns the current record as JSON.
func (t *MainTarget) Read() ([]byte, error) {
	t.reloadIfStale()
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.Marshal(t.record)
}

// Write merges the incoming payload's known keys into the record (with
// lenient numeric/boolean coercion) and serializes the result to disk.
func (t *MainTarget) Write(payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return errInvalidJSON
	}
	t.mu.Lock()
	mergeMainFromGjson(&t.record, gjson.ParseBytes(payload))
	t.modified = true
	rec := t.record
	t.mu.Unlock()

	return writeJSONFile(t.filename, rec)
}

func mergeMainFromGjson(rec *Main, data gjson.Result) {
	if v := data.Get("poll_interval"); v.Exists() {
		rec.PollInterval = int(coerceNumber(v))
	}
	if v := data.Get("low_battery_threshold"); v.Exists() {
		rec.LowBatteryThreshold = int(coerceNumber(v))
	}
	if v := data.Get("scene"); v.Exists() {
		rec.Scene = coerceBool(v)
	}
	if v := data.Get("enable_dynamic"); v.Exists() {
		rec.EnableDynamic = coerceBool(v)
	}
	if v := data.Get("mode_file"); v.Exists() {
		rec.ModeFile = v.String()
	}
	if v := data.Get("screen_off"); v.Exists() {
		rec.ScreenOff = v.String()
	}
	if v := data.Get("scene_strict"); v.Exists() {
		rec.SceneStrict = coerceBool(v)
	}
	if v := data.Get("power_monitoring"); v.Exists() {
		rec.PowerMonitoring = coerceBool(v)
	}
	if v := data.Get("using_inotify"); v.Exists() {
		rec.UsingInotify = coerceBool(v)
	}
	if v := data.Get("dual_battery"); v.Exists() {
		rec.DualBattery = coerceBool(v)
	}
	if v := data.Get("custom_mode"); v.Exists() {
		rec.CustomMode = v.String()
	}
	if v := data.Get("dynamic_fps"); v.Exists() {
		rec.DynamicFps = coerceBool(v)
	}
	if v := data.Get("fps_idle_time"); v.Exists() {
		rec.FpsIdleTime = int(coerceNumber(v))
	}
	if v := data.Get("down_fps"); v.Exists() {
		rec.DownFps = int(coerceNumber(v))
	}
	if v := data.Get("up_fps"); v.Exists() {
		rec.UpFps = int(coerceNumber(v))
	}
	if v := data.Get("fps_backdoor"); v.Exists() {
		rec.FpsBackdoor = coerceBool(v)
	}
	if v := data.Get("fps_backdoor_id"); v.Exists() {
		rec.FpsBackdoorID = int(coerceNumber(v))
	}
	if v := data.Get("screen_resolution"); v.Exists() {
		rec.ScreenResolution = v.String()
	}
}

// coerceNumber accepts a JSON number or a numeric string (per the source's
// lenient front-end write path).
func coerceNumber(v gjson.Result) float64 {
	if v.Type == gjson.Number {
		return v.Num
	}
	return v.Float()
}

// coerceBool accepts a JSON bool, or a string among "true"/"1"/"yes".
func coerceBool(v gjson.Result) bool {
	if v.Type == gjson.True || v.Type == gjson.False {
		return v.Bool()
	}
	switch v.String() {
	case "true", "1", "yes":
		return true
	}
	return false
}

func writeJSONFile(filename string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, raw, 0644)
}

type configError string

func (e configError) Error() string { return string(e) }

const errInvalidJSON = configError("invalid JSON payload")
