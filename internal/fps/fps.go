// Package fps implements the dynamic refresh-rate controller: it raises
// the display refresh rate on input-device activity and drops it again
// after an idle interval, applying the rate via one of two back-ends.
package fps

import (
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DisplayModeRecord is one parsed row of `dumpsys display`'s
// DisplayModeRecord listing.
type DisplayModeRecord struct {
	ID     int
	Width  int
	Height int
	Fps    int
}

var fpsFieldRE = regexp.MustCompile(`fps=([0-9.]+)`)
var altFieldRE = regexp.MustCompile(`alternativeRefreshRates=\[([^\]]*)\]`)
var idFieldRE = regexp.MustCompile(`id=(\d+)`)
var resolutionRE = regexp.MustCompile(`(\d{2,5})x(\d{2,5})`)
var widthFieldRE = regexp.MustCompile(`width=(\d+)`)
var heightFieldRE = regexp.MustCompile(`height=(\d+)`)

func parseRateToken(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if f < 1.0 || f > 512.0 {
		return 0
	}
	rounded := math.Round(f)
	if math.Abs(f-rounded) < 0.01 {
		return int(rounded)
	}
	return int(f)
}

// ParseAvailableRefreshRates extracts the sorted, deduplicated set of
// refresh rates mentioned anywhere in `dumpsys display` output, from both
// fps= fields and alternativeRefreshRates=[...] lists.
func ParseAvailableRefreshRates(dumpsysOutput string) []int {
	rates := make(map[int]struct{})

	for _, m := range fpsFieldRE.FindAllStringSubmatch(dumpsysOutput, -1) {
		if r := parseRateToken(m[1]); r > 0 {
			rates[r] = struct{}{}
		}
	}
	for _, m := range altFieldRE.FindAllStringSubmatch(dumpsysOutput, -1) {
		for _, tok := range strings.Split(m[1], ",") {
			if r := parseRateToken(tok); r > 0 {
				rates[r] = struct{}{}
			}
		}
	}

	out := make([]int, 0, len(rates))
	for r := range rates {
		if r >= 10 && r <= 512 {
			out = append(out, r)
		}
	}
	sort.Ints(out)
	return out
}

// ParseDisplayModeRecords parses every `DisplayModeRecord{... id=N, ...
// width=W, height=H, ... fps=F ...}` entry from dumpsys display output; a
// row without width=/height= fields may carry its resolution as WxH.
func ParseDisplayModeRecords(dumpsysOutput string) []DisplayModeRecord {
	var records []DisplayModeRecord
	for _, line := range strings.Split(dumpsysOutput, "\n") {
		if !strings.Contains(line, "DisplayModeRecord") {
			continue
		}
		idm := idFieldRE.FindStringSubmatch(line)
		fpsm := fpsFieldRE.FindStringSubmatch(line)
		resm := resolutionRE.FindStringSubmatch(line)
		if wm, hm := widthFieldRE.FindStringSubmatch(line), heightFieldRE.FindStringSubmatch(line); wm != nil && hm != nil {
			resm = []string{"", wm[1], hm[1]}
		}
		if idm == nil || fpsm == nil || resm == nil {
			continue
		}
		id, err := strconv.Atoi(idm[1])
		if err != nil {
			continue
		}
		fps := parseRateToken(fpsm[1])
		w, _ := strconv.Atoi(resm[1])
		h, _ := strconv.Atoi(resm[2])
		if id <= 0 || fps <= 0 || w <= 0 || h <= 0 {
			continue
		}
		records = append(records, DisplayModeRecord{ID: id, Width: w, Height: h, Fps: fps})
	}
	return records
}

// DisplayModeIDToFps builds the fps->id nearest-match map used by the
// backdoor writer, keeping the first id seen for each fps value.
func DisplayModeIDToFps(dumpsysOutput string) map[int]int {
	out := make(map[int]int)
	for _, r := range ParseDisplayModeRecords(dumpsysOutput) {
		if _, ok := out[r.Fps]; !ok {
			out[r.Fps] = r.ID
		}
	}
	return out
}

// fpsMap wraps a fps->id map with a sorted key slice for nearest-match
// binary search, standing in for the source's ordered std::map.
type fpsMap struct {
	keys []int
	ids  map[int]int
}

func newFpsMap(m map[int]int) *fpsMap {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return &fpsMap{keys: keys, ids: m}
}

// nearest returns the id of the exact match, or of the closer neighbor
// (ties go to the lower neighbor); 0 if the map is empty.
func (f *fpsMap) nearest(key int) int {
	if id, ok := f.ids[key]; ok {
		return id
	}
	if len(f.keys) == 0 {
		return 0
	}
	idx := sort.SearchInts(f.keys, key)
	if idx == len(f.keys) {
		return f.ids[f.keys[len(f.keys)-1]]
	}
	if idx == 0 {
		return f.ids[f.keys[0]]
	}
	prev, next := f.keys[idx-1], f.keys[idx]
	if key-prev <= next-key {
		return f.ids[prev]
	}
	return f.ids[next]
}

// Writer applies a commanded fps to the display.
type Writer int

const (
	WriterSettings Writer = iota
	WriterBackdoor
)

// Config carries the tunables pushed by the switcher core on every config
// reload.
type Config struct {
	UpFps      int
	DownFps    int
	IdleMs     int
	Writer     Writer
	BackdoorID int
	Resolution string
}

// Controller runs the idle/active_up/active_wait state machine described in
// SPEC_FULL §4.3.
type Controller struct {
	log zerolog.Logger

	upFps      atomic.Int32
	downFps    atomic.Int32
	idleMs     atomic.Int32
	backdoorID atomic.Int32
	backdoor   atomic.Bool
	currentFps atomic.Int32

	targetTime atomic.Value // time.Time
	timerArmed atomic.Bool

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup

	watchWait func(timeout, settle time.Duration) bool

	fpsMap        *fpsMap
	activationCnt atomic.Int32
}

// New constructs a disabled Controller. watchWait should block until the
// next coalesced input-device event (see internal/watcher), returning
// false on shutdown/timeout.
func New(log zerolog.Logger, watchWait func(timeout, settle time.Duration) bool) *Controller {
	c := &Controller{log: log, watchWait: watchWait, fpsMap: newFpsMap(nil)}
	c.upFps.Store(120)
	c.downFps.Store(60)
	c.idleMs.Store(2500)
	c.backdoorID.Store(1035)
	return c
}

// Configure updates the controller's tunables. Safe to call while running.
func (c *Controller) Configure(cfg Config, idToFps map[int]int) {
	c.upFps.Store(int32(cfg.UpFps))
	c.downFps.Store(int32(cfg.DownFps))
	c.idleMs.Store(int32(cfg.IdleMs))
	c.backdoorID.Store(int32(cfg.BackdoorID))
	c.backdoor.Store(cfg.Writer == WriterBackdoor)
	if idToFps != nil {
		c.fpsMap = newFpsMap(idToFps)
	}
}

// PushFpsTargets overrides the up/down fps targets in isolation, leaving
// idle delay, writer, and backdoor id untouched — used by the switcher
// core to apply per-iteration overrides (screen-off, low battery,
// scheduler rule) without re-running Configure's fpsMap rebuild.
func (c *Controller) PushFpsTargets(up, down int) {
	c.upFps.Store(int32(up))
	c.downFps.Store(int32(down))
}

// Start launches the worker goroutine that waits on input-device events.
func (c *Controller) Start() {
	if c.running.Swap(true) {
		return
	}
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.run()
}

// Stop halts the worker goroutine.
func (c *Controller) Stop() {
	if !c.running.Swap(false) {
		return
	}
	close(c.stop)
	c.wg.Wait()
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case <-time.After(300 * time.Millisecond):
		}
		if !c.watchWait(24*time.Hour, 0) {
			select {
			case <-c.stop:
				return
			default:
				continue
			}
		}
		c.activateUp()
	}
}

func (c *Controller) activateUp() {
	n := c.activationCnt.Add(1)
	force := n%10 == 0
	c.changeFps(int(c.upFps.Load()), force)
	c.waitForDownFps(time.Duration(c.idleMs.Load()) * time.Millisecond)
}

func (c *Controller) waitForDownFps(delay time.Duration) {
	deadline := time.Now().Add(delay)
	c.targetTime.Store(deadline)

	if c.timerArmed.Swap(true) {
		return
	}
	go func() {
		for {
			d, _ := c.targetTime.Load().(time.Time)
			if time.Now().After(d) || time.Now().Equal(d) {
				break
			}
			time.Sleep(time.Until(d))
		}
		c.timerArmed.Store(false)
		c.changeFps(int(c.downFps.Load()), false)
	}()
}

func (c *Controller) changeFps(fps int, force bool) {
	prev := c.currentFps.Swap(int32(fps))
	if int(prev) == fps && !force {
		return
	}
	c.log.Debug().Int("fps", fps).Msg("frame rate changed")
	if !c.backdoor.Load() {
		runSettingsWriter(fps)
	} else {
		id := c.fpsMap.nearest(fps) - 1
		if id < 0 {
			id = 0
		}
		runBackdoorWriter(int(c.backdoorID.Load()), id)
	}
}

func runSettingsWriter(fps int) {
	val := strconv.Itoa(fps)
	_ = exec.Command("/system/bin/cmd", "settings", "put", "system", "peak_refresh_rate", val).Run()
	_ = exec.Command("/system/bin/cmd", "settings", "put", "system", "min_refresh_rate", val).Run()
	_ = exec.Command("/system/bin/cmd", "settings", "put", "system", "miui_refresh_rate", val).Run()
	_ = exec.Command("/system/bin/cmd", "settings", "put", "secure", "miui_refresh_rate", val).Run()
}

func runBackdoorWriter(code, id int) {
	_ = exec.Command("/system/bin/service", "call", "SurfaceFlinger", strconv.Itoa(code), "i32", strconv.Itoa(id)).Run()
}

// SelectResolution groups parsed display modes by "WxH" and chooses one per
// SPEC_FULL §4.3: the configured resolution if present, else the
// largest fps-group (tie -> largest pixel count). Returns ("", nil) if no
// resolutions were found.
func SelectResolution(records []DisplayModeRecord, configured string) (string, []DisplayModeRecord) {
	groups := make(map[string][]DisplayModeRecord)
	for _, r := range records {
		key := fmt.Sprintf("%dx%d", r.Width, r.Height)
		groups[key] = append(groups[key], r)
	}
	if len(groups) == 0 {
		return "", nil
	}
	if len(groups) == 1 {
		for k, v := range groups {
			return k, v
		}
	}
	if configured != "" {
		if v, ok := groups[configured]; ok {
			return configured, v
		}
	}

	var bestKey string
	var bestGroup []DisplayModeRecord
	for key, group := range groups {
		if bestGroup == nil || len(group) > len(bestGroup) {
			bestKey, bestGroup = key, group
			continue
		}
		if len(group) == len(bestGroup) {
			if pixelCount(key) > pixelCount(bestKey) {
				bestKey, bestGroup = key, group
			}
		}
	}
	return bestKey, bestGroup
}

func pixelCount(resolution string) int {
	m := resolutionRE.FindStringSubmatch(resolution)
	if m == nil {
		return 0
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	return w * h
}
