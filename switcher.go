package main

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"bswitcher/internal/applist"
	"bswitcher/internal/config"
	"bswitcher/internal/foreground"
	"bswitcher/internal/fps"
	"bswitcher/internal/power"
	"bswitcher/internal/rpcserver"
	"bswitcher/internal/watcher"
)

// cgroupPaths are watched by inotify for foreground and screen-state
// changes; restricted/cgroup.procs doubles as the screen-off heuristic.
var cgroupPaths = []string{
	"/dev/cpuset/top-app/cgroup.procs",
	"/dev/cpuset/top-app/tasks",
	"/dev/cpuset/restricted/cgroup.procs",
	"/dev/cpuset/restricted/tasks",
}

const screenOffCgroupFile = "/dev/cpuset/restricted/cgroup.procs"
const batteryCapacityFile = "/sys/class/power_supply/battery/capacity"

var errNoConfig = errors.New("no mode configuration available")

// appInfo is the "info" RPC target's payload.
type appInfo struct {
	Name    string `json:"name"`
	Author  string `json:"author"`
	Version string `json:"version"`
}

// Switcher owns every runtime component and runs the control-plane main
// loop described in SPEC_FULL §4.7, ported from original_source/src/main.cpp.
type Switcher struct {
	log     zerolog.Logger
	workDir string

	mainCfg *config.MainTarget
	schedCfg *config.SchedulerTarget

	info       atomic.Value // appInfo
	currentApp atomic.Value // string

	accountant *power.Accountant
	fpsCtl     *fps.Controller
	detector   *foreground.Detector
	applistEnum *applist.Enumerator

	cgroupWatcher *watcher.Watcher
	inputWatcher  *watcher.Watcher

	availableModes        atomic.Value // []string
	availableRefreshRates atomic.Value // []int

	rpc *rpcserver.Server

	screenFD  *os.File
	batteryFD *os.File

	// main-loop state, mutated only from Run's goroutine.
	sleepDuring time.Duration
	sceneStrict bool
	lastScene   bool
	sEntry      string
	sState      string
	writeMode   func(mode string) bool

	lastMode string
	lastApp  string
}

// NewSwitcher wires every component together. Config files live in
// workDir; rpcAddr is the unix-socket path for the RPC server.
func NewSwitcher(log zerolog.Logger, workDir, rpcAddr string) *Switcher {
	s := &Switcher{
		log:      log,
		workDir:  workDir,
		mainCfg:  config.NewMainTarget(log, filepath.Join(workDir, "config.json")),
		schedCfg: config.NewSchedulerTarget(log, filepath.Join(workDir, "scheduler_config.json")),
		detector: foreground.New(log),
		applistEnum: applist.New(log),
	}
	s.info.Store(appInfo{Name: "Custom", Author: "unknow", Version: "0.0.0"})
	s.currentApp.Store("")
	s.availableModes.Store([]string{"powersave", "balance", "performance", "fast"})
	s.availableRefreshRates.Store([]int{})
	s.writeMode = dummyWriteMode

	s.accountant = power.New(log, &s.currentApp, func() bool { return s.mainCfg.Snapshot().DualBattery })
	s.fpsCtl = fps.New(log, s.waitInput)

	s.rpc = rpcserver.New(log, rpcAddr)
	s.registerTargets()
	return s
}

func (s *Switcher) registerTargets() {
	s.rpc.Register(rpcserver.NewConfigFileTarget("config", s.mainCfg.Read, s.mainCfg.Write))
	s.rpc.Register(rpcserver.NewConfigFileTarget("scheduler", s.schedCfg.Read, s.schedCfg.Write))
	s.rpc.Register(rpcserver.NewSimpleDataTarget("info", func() interface{} {
		v, _ := s.info.Load().(appInfo)
		return v
	}))
	s.rpc.Register(rpcserver.NewSimpleDataTarget("configlist", func() interface{} {
		return configListSchema
	}))
	s.rpc.Register(rpcserver.NewSimpleDataTarget("availableModes", func() interface{} {
		modes, _ := s.availableModes.Load().([]string)
		return modes
	}))
	s.rpc.Register(rpcserver.NewSimpleDataTarget("dynamicFps", func() interface{} {
		rates, _ := s.availableRefreshRates.Load().([]int)
		return rates
	}))
	s.rpc.Register(rpcserver.NewPowerSnapshotTarget(func() interface{} {
		return s.accountant.ReadSnapshot()
	}))
	s.rpc.Register(rpcserver.NewSimpleDataTarget("applist", func() interface{} {
		return s.applistEnum.Read()
	}))
	s.rpc.Register(rpcserver.NewCommandTarget(s.handleCommand))
}

// handleCommand implements the front-end button dispatch. Only
// clear_monitoring is defined by the core, per original_source's
// command_callback.
func (s *Switcher) handleCommand(key string) string {
	switch key {
	case "clear_monitoring":
		s.accountant.ClearStats()
		return "Success."
	default:
		return "Unknow Command"
	}
}

// Start brings up the RPC listener. Run drives the control loop and
// never returns under normal operation.
func (s *Switcher) Start() error {
	return s.rpc.Start()
}

// Shutdown stops every background component. Used on signal-triggered exit.
func (s *Switcher) Shutdown() {
	s.rpc.Shutdown()
	s.accountant.Stop()
	s.fpsCtl.Stop()
	if s.cgroupWatcher != nil {
		s.cgroupWatcher.Cleanup()
	}
	if s.inputWatcher != nil {
		s.inputWatcher.Cleanup()
	}
}

// Run executes the event-driven main loop until the process is killed.
func (s *Switcher) Run() {
	for s.reloadConfig() != nil {
		time.Sleep(10 * time.Second)
	}
	s.lastMode = ""

	timeset := 40 * time.Second

	s.log.Info().Msg("ready, entering main loop")
	for {
		if s.mainCfg.Modified() {
			// Source quirk preserved: the reference retry loop rechecks a
			// "modified" flag here that nothing clears before success, so
			// the recheck is unconditionally true — this is really just
			// "retry every 10s until reloadConfig succeeds".
			for s.reloadConfig() != nil {
				time.Sleep(10 * time.Second)
			}
			s.lastMode = ""
		}

		time.Sleep(s.sleepDuring)
		if s.cgroupWatcher != nil {
			s.cgroupWatcher.Wait(timeset, time.Second)
		} else {
			time.Sleep(timeset)
		}
		time.Sleep(time.Second) // debounce, avoids a spurious "none" read right after wake

		cfg := s.mainCfg.Snapshot()
		mode, up, down, screenOff := s.classify(cfg)
		s.fpsCtl.PushFpsTargets(up, down)

		if screenOff {
			timeset = 180 * time.Second
		} else {
			timeset = 40 * time.Second
		}

		if s.sceneStrict {
			app, _ := s.currentApp.Load().(string)
			if app != s.lastApp {
				s.emit(mode)
				s.lastApp = app
			}
		} else if s.lastMode != mode {
			s.emit(mode)
			s.lastMode = mode
		}
	}
}

func (s *Switcher) emit(mode string) {
	if s.writeMode(mode) {
		s.log.Info().Str("mode", mode).Msg("updated mode")
	} else {
		s.log.Warn().Str("mode", mode).Msg("failed to write mode")
	}
}

// reloadConfig applies a changed main config record to every component,
// ported from original_source/src/main.cpp's load_config(). Returns
// errNoConfig when neither scene mode nor a usable mode_file is available,
// matching the source's -1 return/retry contract.
func (s *Switcher) reloadConfig() error {
	cfg := s.mainCfg.Snapshot()

	if cfg.PowerMonitoring {
		s.accountant.Start()
	} else {
		s.accountant.Stop()
	}

	if cfg.PollInterval <= 1 {
		s.sleepDuring = 100 * time.Millisecond
	} else {
		// Source names this figure microseconds but computes and uses it
		// as (poll_interval-1)*1000 milliseconds, i.e. whole seconds.
		s.sleepDuring = time.Duration(cfg.PollInterval-1) * time.Second
	}

	if cfg.UsingInotify {
		s.ensureCgroupWatcher()
	} else if s.cgroupWatcher != nil {
		s.cgroupWatcher.Cleanup()
		s.cgroupWatcher = nil
	}

	modes := []string{"powersave", "balance", "performance", "fast"}
	if cfg.CustomMode != "" {
		modes = append(modes, cfg.CustomMode)
	}
	s.availableModes.Store(modes)

	if cfg.DynamicFps {
		s.refreshDisplayModes(cfg)
		s.fpsCtl.Start()
	} else {
		s.fpsCtl.Stop()
	}

	s.writeMode = dummyWriteMode
	s.sceneStrict = false

	if cfg.Scene {
		s.resolveScene(&cfg)
	}

	s.lastScene = cfg.Scene

	if !cfg.Scene {
		s.sceneStrict = false
		if fileExists(cfg.ModeFile) {
			s.sState = cfg.ModeFile
			s.info.Store(appInfo{Name: "Custom"})
		} else {
			s.info.Store(appInfo{Name: "No config available"})
			s.log.Error().Msg("no config available, waiting for configuration")
			return errNoConfig
		}
	}

	if cfg.EnableDynamic {
		if cfg.Scene {
			s.writeMode = s.sceneWriteMode
		} else {
			s.writeMode = s.fileWriteMode
		}
	}

	if s.sceneStrict {
		s.log.Info().Msg("strict scene enabled")
	}

	return nil
}

// resolveScene loads /data/powercfg.json metadata and entry path, as in
// original_source's load_config(). cfg is a local snapshot: disabling
// scene here affects only this reload cycle, not the persisted record —
// the next write to config.json is what actually turns scene off.
func (s *Switcher) resolveScene(cfg *config.Main) {
	shExists := fileExists("/data/powercfg.sh")
	entry := ""
	info := appInfo{Name: "Custom", Author: "unknow", Version: "0.0.0"}

	raw, err := os.ReadFile("/data/powercfg.json")
	jsonExists := err == nil

	if !jsonExists && !shExists {
		s.log.Error().Msg("configuration source (powercfg.json) not found, scene mode disabled")
		cfg.Scene = false
		return
	}

	if shExists {
		entry = "/data/powercfg.sh"
		info = appInfo{Name: "Unknow Name"}
	}

	if jsonExists {
		if gjson.ValidBytes(raw) {
			parsed := gjson.ParseBytes(raw)
			name, author, version := "Undefined", "Undefined", "Undefined"

			if e := parsed.Get("entry"); e.Exists() {
				entry = e.String()
			} else if shExists {
				entry = "/data/powercfg.sh"
			} else {
				s.log.Error().Msg("entry not found, scene mode disabled")
				cfg.Scene = false
				name, author, version = "Custom", "Unknow", "Unknow"
			}

			if f := parsed.Get("features"); f.Exists() && f.IsObject() {
				s.sceneStrict = f.Get("strict").Bool() && cfg.SceneStrict
			}
			if v := parsed.Get("name"); v.Exists() {
				name = v.String()
			}
			if v := parsed.Get("author"); v.Exists() {
				author = v.String()
			}
			if v := parsed.Get("version"); v.Exists() {
				version = v.String()
			}

			info = appInfo{Name: name, Author: author, Version: version}
			s.log.Debug().Msg("config loaded")
		} else {
			s.log.Error().Msg("configuration source (powercfg.json) parsing failed")
		}

		if !s.lastScene {
			s.sceneWriteMode("init")
		}
	}

	s.info.Store(info)
	s.sEntry = entry
}

func dummyWriteMode(mode string) bool { return true }

func (s *Switcher) fileWriteMode(mode string) bool {
	return os.WriteFile(s.sState, []byte(mode), 0o644) == nil
}

// sceneWriteMode invokes the scene entry script. The reference
// implementation simulates scene's environment with process-wide
// setenv/unsetenv calls, which leak across invocations unless explicitly
// cleared; passing them through Cmd.Env instead scopes them to this one
// subprocess and needs no matching unset path.
func (s *Switcher) sceneWriteMode(mode string) bool {
	cmd := exec.Command("sh", s.sEntry, mode)
	if s.sceneStrict {
		app, _ := s.currentApp.Load().(string)
		cmd.Env = append(os.Environ(), "top_app="+app, "scene="+app, "mode="+mode)
	}
	return cmd.Run() == nil
}

func (s *Switcher) ensureCgroupWatcher() {
	if s.cgroupWatcher != nil {
		return
	}
	w := watcher.New(s.log, cgroupPaths, watcher.MaskModify)
	if err := w.Initialize(); err != nil {
		s.log.Warn().Err(err).Msg("path watcher init failed, falling back to plain sleep")
		return
	}
	s.cgroupWatcher = w
}

func (s *Switcher) waitInput(timeout, settle time.Duration) bool {
	s.ensureInputWatcher()
	if s.inputWatcher == nil {
		time.Sleep(timeout)
		return false
	}
	return s.inputWatcher.Wait(timeout, settle)
}

func (s *Switcher) ensureInputWatcher() {
	if s.inputWatcher != nil {
		return
	}
	paths, _ := filepath.Glob("/dev/input/*")
	if len(paths) == 0 {
		return
	}
	w := watcher.New(s.log, paths, watcher.MaskAccess)
	if err := w.Initialize(); err != nil {
		s.log.Warn().Err(err).Msg("input device watcher init failed")
		return
	}
	s.inputWatcher = w
}

func (s *Switcher) refreshDisplayModes(cfg config.Main) {
	out, err := exec.Command("sh", "-c", "dumpsys display").Output()
	if err != nil {
		s.log.Warn().Err(err).Msg("dumpsys display failed, fps controller keeps its stale mode table")
		return
	}
	output := string(out)

	records := fps.ParseDisplayModeRecords(output)
	resolution, group := fps.SelectResolution(records, cfg.ScreenResolution)
	fpsToID := make(map[int]int, len(group))
	for _, r := range group {
		if _, ok := fpsToID[r.Fps]; !ok {
			fpsToID[r.Fps] = r.ID
		}
	}
	s.availableRefreshRates.Store(fps.ParseAvailableRefreshRates(output))

	writer := fps.WriterSettings
	if cfg.FpsBackdoor {
		writer = fps.WriterBackdoor
	}
	s.fpsCtl.Configure(fps.Config{
		UpFps:      cfg.UpFps,
		DownFps:    cfg.DownFps,
		IdleMs:     cfg.FpsIdleTime,
		Writer:     writer,
		BackdoorID: cfg.FpsBackdoorID,
		Resolution: resolution,
	}, fpsToID)
}

// classify implements main loop step 4: resolve screen/battery/scheduler
// state into a target mode and fps pair. The returned up/down values are
// already overridden for the screen-off and low-battery cases.
func (s *Switcher) classify(cfg config.Main) (mode string, up, down int, screenOff bool) {
	up, down = cfg.UpFps, cfg.DownFps

	if !s.screenState() {
		s.accountant.SetScreenStatus(false)
		mode = cfg.ScreenOff
		if s.sceneStrict {
			mode = "standby"
		}
		s.currentApp.Store("")
		s.log.Debug().Msg("found screen off, increasing sleep time")
		return mode, 60, 60, true
	}
	s.accountant.SetScreenStatus(true)

	if s.batteryLevel() < cfg.LowBatteryThreshold {
		return "powersave", 60, 60, false
	}

	sched := s.schedCfg.Snapshot()
	mode = sched.DefaultMode
	if len(sched.Rules) > 0 {
		app := s.detector.Current()
		s.currentApp.Store(app)
		s.log.Debug().Str("app", app).Msg("current foreground app")
		if app != "" {
			for _, rule := range sched.Rules {
				if rule.AppPackage == app {
					mode = rule.Mode
					if rule.UpFps > 0 {
						up = rule.UpFps
					}
					if rule.DownFps > 0 {
						down = rule.DownFps
					}
					break
				}
				time.Sleep(time.Millisecond) // avoid a tight-loop CPU spike on long rule lists
			}
		}
	}
	return mode, up, down, false
}

func (s *Switcher) screenState() bool {
	if s.screenFD == nil {
		if f, err := os.Open(screenOffCgroupFile); err == nil {
			s.screenFD = f
		}
	}
	if s.screenFD == nil {
		return true
	}

	buf := make([]byte, 128)
	n, err := s.screenFD.ReadAt(buf, 0)
	if err != nil && n == 0 {
		return true
	}

	lines := 0
	for i := 0; i < n; i++ {
		if buf[i] == '\n' {
			lines++
			if lines >= 5 {
				return false
			}
		}
	}
	return true
}

func (s *Switcher) batteryLevel() int {
	if s.batteryFD == nil {
		if f, err := os.Open(batteryCapacityFile); err == nil {
			s.batteryFD = f
		}
	}
	if s.batteryFD == nil {
		return 100
	}

	buf := make([]byte, 4)
	n, err := s.batteryFD.ReadAt(buf, 0)
	if err != nil || n <= 0 {
		return 100
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 100
	}
	s.log.Debug().Int("level", v).Msg("battery level")
	return v
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
