package config

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Rule is one scheduler rule: a foreground-package match with its mode and
// optional fps overrides. up_fps/down_fps of -1 mean "inherit".
type Rule struct {
	AppPackage string `json:"appPackage"`
	Mode       string `json:"mode"`
	UpFps      int    `json:"up_fps"`
	DownFps    int    `json:"down_fps"`
}

// Scheduler is the in-memory record for scheduler_config.json.
type Scheduler struct {
	DefaultMode string `json:"defaultMode"`
	Rules       []Rule `json:"rules"`
}

// SchedulerTarget is the "scheduler" RPC target.
type SchedulerTarget struct {
	log      zerolog.Logger
	filename string

	mu      sync.Mutex
	record  Scheduler
	lastMod int64
}

// NewSchedulerTarget constructs the scheduler config target and loads it.
func NewSchedulerTarget(log zerolog.Logger, filename string) *SchedulerTarget {
	t := &SchedulerTarget{log: log, filename: filename, record: Scheduler{DefaultMode: "balance", Rules: []Rule{}}}
	t.reloadIfStale()
	return t
}

func (t *SchedulerTarget) Name() string { return "scheduler" }

// Snapshot returns a copy of the in-memory record, reloading first if the
// backing file's mtime has advanced.
func (t *SchedulerTarget) Snapshot() Scheduler {
	t.reloadIfStale()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record
}

func (t *SchedulerTarget) reloadIfStale() {
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
		t.log.Warn().Err(err).Str("file", t.filename).Msg("cannot read scheduler config file")
		return
	}
	if !gjson.ValidBytes(raw) {
		t.log.Warn().Str("file", t.filename).Msg("scheduler config is not valid JSON, keeping in-memory state")
		return
	}

	t.mu.Lock()
	mergeSchedulerFromGjson(&t.record, gjson.ParseBytes(raw))
	t.lastMod = mtime
	t.mu.Unlock()
}

// Read returns the current record as JSON.
func (t *SchedulerTarget) Read() ([]byte, error) {
	t.reloadIfStale()
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.Marshal(t.record)
}

// Write merges defaultMode and the rules array, dropping any rule whose
// appPackage or mode is empty, then serializes to disk.
func (t *SchedulerTarget) Write(payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return errInvalidJSON
	}
	t.mu.Lock()
	mergeSchedulerFromGjson(&t.record, gjson.ParseBytes(payload))
	rec := t.record
	t.mu.Unlock()

	return writeJSONFile(t.filename, rec)
}

func mergeSchedulerFromGjson(rec *Scheduler, data gjson.Result) {
	if v := data.Get("defaultMode"); v.Exists() {
		rec.DefaultMode = v.String()
	}

	if v := data.Get("rules"); v.Exists() && v.IsArray() {
		rules := make([]Rule, 0, len(v.Array()))
		for _, rr := range v.Array() {
			pkg := rr.Get("appPackage").String()
			mode := rr.Get("mode").String()
			if pkg == "" || mode == "" {
				continue
			}
			up, down := -1, -1
			if uv := rr.Get("up_fps"); uv.Exists() {
				up = int(coerceNumber(uv))
			}
			if dv := rr.Get("down_fps"); dv.Exists() {
				down = int(coerceNumber(dv))
			}
			rules = append(rules, Rule{AppPackage: pkg, Mode: mode, UpFps: up, DownFps: down})
		}
		rec.Rules = rules
	}
}
