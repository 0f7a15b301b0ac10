// Package power implements the per-application energy accountant: it
// samples battery current and voltage roughly once a second, attributes
// the resulting power to whichever application is currently in the
// foreground, and self-trims and self-calibrates the resulting data.
package power

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	trimCeiling      = 30
	trimKeep         = 20
	otherKey         = "_other_"
	maxCalibration   = 5
	tooLargeWattsCap = 40.0
	tooSmallWattsCap = 0.041
)

// AppPower is a per-application running total of active time and energy.
type AppPower struct {
	TimeSec float64 `json:"time_sec"`
	Joules  float64 `json:"power_joules"`
}

// Snapshot is a single row of the read() response.
type Snapshot struct {
	Name    string  `json:"name"`
	Joules  float64 `json:"power_joules"`
	TimeSec float64 `json:"time_sec"`
}

// Accountant samples battery power on a dedicated goroutine while the
// screen is on and the device is discharging, attributing it to the
// current foreground application.
type Accountant struct {
	log zerolog.Logger

	currentApp   *atomic.Value // holds string
	dualBattery  func() bool
	unitExponent atomic.Int32

	running atomic.Bool
	parked  atomic.Bool
	resume  chan struct{}
	wg      sync.WaitGroup

	screenOn atomic.Bool

	dataMu sync.Mutex
	data   map[string]AppPower

	currentFile *os.File
	voltageFile *os.File
	statusFile  *os.File
}

// New constructs an Accountant. currentApp must be updated by the caller
// (an atomic.Value holding a string) whenever the foreground app changes;
// dualBattery reports whether the device has two battery cells wired in
// series, doubling the computed power.
func New(log zerolog.Logger, currentApp *atomic.Value, dualBattery func() bool) *Accountant {
	a := &Accountant{
		log:         log,
		currentApp:  currentApp,
		dualBattery: dualBattery,
		data:        make(map[string]AppPower),
		resume:      make(chan struct{}, 1),
	}
	a.unitExponent.Store(12)
	a.screenOn.Store(true)
	return a
}

// Start launches the sampling goroutine. Returns false if already running.
func (a *Accountant) Start() bool {
	if a.running.Swap(true) {
		return false
	}
	a.log.Info().Msg("starting power monitor")
	a.wg.Add(1)
	go a.workerLoop()
	return true
}

// Stop signals the sampling goroutine to exit and waits for it.
func (a *Accountant) Stop() {
	if !a.running.Swap(false) {
		return
	}
	a.log.Info().Msg("stopping power monitor")
	select {
	case a.resume <- struct{}{}:
	default:
	}
	a.wg.Wait()
}

// IsRunning reports whether the sampling goroutine is active.
func (a *Accountant) IsRunning() bool { return a.running.Load() }

// SetScreenStatus updates the screen-on flag and wakes the sampler if it
// was parked waiting for the screen to come back on.
func (a *Accountant) SetScreenStatus(on bool) {
	if !a.running.Load() {
		return
	}
	a.screenOn.Store(on)
	if on && a.parked.Load() {
		select {
		case a.resume <- struct{}{}:
		default:
		}
	}
}

// ClearStats discards all accumulated per-app data.
func (a *Accountant) ClearStats() {
	a.dataMu.Lock()
	a.data = make(map[string]AppPower)
	a.dataMu.Unlock()
	a.log.Info().Msg("power consumption records cleared")
}

func (a *Accountant) initSensors() bool {
	var err error
	a.currentFile, err = os.OpenFile("/sys/class/power_supply/battery/current_now", os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	a.voltageFile, err = os.OpenFile("/sys/class/power_supply/battery/voltage_now", os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	// status is optional; its absence is tolerated.
	a.statusFile, _ = os.OpenFile("/sys/class/power_supply/battery/status", os.O_RDONLY, 0)
	return true
}

func (a *Accountant) closeSensors() {
	for _, f := range []*os.File{a.currentFile, a.voltageFile, a.statusFile} {
		if f != nil {
			f.Close()
		}
	}
	a.currentFile, a.voltageFile, a.statusFile = nil, nil, nil
}

func readIntAt0(f *os.File) (int64, bool) {
	if f == nil {
		return 0, false
	}
	buf := make([]byte, 31)
	n, err := f.ReadAt(buf, 0)
	if n <= 0 || (err != nil && n == 0) {
		return 0, false
	}
	v, perr := strconv.ParseInt(strings.TrimSpace(string(buf[:n])), 10, 64)
	if perr != nil {
		return 0, false
	}
	return v, true
}

func (a *Accountant) readCurrentPowerW() float64 {
	currentUA, ok := readIntAt0(a.currentFile)
	if !ok || currentUA <= 0 {
		return 0
	}
	voltageUV, ok := readIntAt0(a.voltageFile)
	if !ok {
		return 0
	}

	unit := a.unitExponent.Load()
	p := float64(currentUA) * float64(voltageUV) * pow10(-int(unit))
	if a.dualBattery != nil && a.dualBattery() {
		p *= 2
	}
	return p
}

func pow10(exp int) float64 {
	if exp >= 0 {
		v := 1.0
		for i := 0; i < exp; i++ {
			v *= 10
		}
		return v
	}
	v := 1.0
	for i := 0; i < -exp; i++ {
		v /= 10
	}
	return v
}

func (a *Accountant) readBatteryStatus() byte {
	if a.statusFile == nil {
		return 0
	}
	buf := make([]byte, 1)
	n, _ := a.statusFile.ReadAt(buf, 0)
	if n <= 0 {
		return 0
	}
	return buf[0]
}

func (a *Accountant) workerLoop() {
	defer a.wg.Done()
	if !a.initSensors() {
		a.log.Error().Msg("unable to init power monitor sensors")
		a.closeSensors()
		a.running.Store(false)
		return
	}
	defer a.closeSensors()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := time.Now()

	for a.running.Load() {
		if !a.screenOn.Load() {
			a.parked.Store(true)
			a.log.Debug().Msg("screen off, power monitor parked")
			<-a.resume
			a.parked.Store(false)
			if !a.running.Load() {
				break
			}
			a.log.Debug().Msg("screen on, power monitor resumed")
			last = time.Now()
			continue
		}

		select {
		case <-ticker.C:
		case <-a.resume:
		}
		if !a.running.Load() {
			break
		}
		if !a.screenOn.Load() {
			continue
		}

		appName, _ := a.currentApp.Load().(string)
		if appName == "" {
			last = time.Now()
			continue
		}

		status := a.readBatteryStatus()
		if status == 'C' || status == 'F' {
			last = time.Now()
			continue
		}

		powerW := a.readCurrentPowerW()
		if powerW <= 1e-12 {
			last = time.Now()
			continue
		}

		now := time.Now()
		deltaT := now.Sub(last).Seconds()
		last = now

		a.dataMu.Lock()
		stats := a.data[appName]
		stats.TimeSec += deltaT
		stats.Joules += powerW * deltaT
		a.data[appName] = stats
		a.trimAndMerge()
		a.dataMu.Unlock()
	}
}

// trimAndMerge bounds cardinality to 30, keeping the top 20 by joules and
// merging the rest into the reserved "_other_" sink. Must be called with
// dataMu held.
func (a *Accountant) trimAndMerge() {
	if len(a.data) <= trimCeiling {
		return
	}

	var other AppPower
	normal := make([]struct {
		name  string
		stats AppPower
	}, 0, len(a.data))

	for name, stats := range a.data {
		if name == otherKey {
			other.TimeSec += stats.TimeSec
			other.Joules += stats.Joules
			continue
		}
		normal = append(normal, struct {
			name  string
			stats AppPower
		}{name, stats})
	}

	if len(normal) <= trimKeep {
		a.data[otherKey] = other
		return
	}

	sort.Slice(normal, func(i, j int) bool { return normal[i].stats.Joules > normal[j].stats.Joules })

	a.data = make(map[string]AppPower, trimKeep+1)
	for i := 0; i < trimKeep; i++ {
		a.data[normal[i].name] = normal[i].stats
	}
	for i := trimKeep; i < len(normal); i++ {
		other.TimeSec += normal[i].stats.TimeSec
		other.Joules += normal[i].stats.Joules
	}
	a.data[otherKey] = other
}

// dataCorrection re-estimates the unit exponent when the accumulated
// joule/second figures fall consistently outside a plausible band. Must be
// called with dataMu held.
func (a *Accountant) dataCorrection(cycles int) {
	if cycles >= maxCalibration {
		a.log.Error().Msg("power monitor: cannot calibrate data, manual calibration required")
		return
	}
	if len(a.data) <= 1 {
		return
	}

	var tooLarge, tooSmall, normal int
	for _, stats := range a.data {
		if stats.TimeSec < 0.01 {
			continue
		}
		watt := stats.Joules / stats.TimeSec
		switch {
		case watt > tooLargeWattsCap:
			tooLarge++
		case watt < tooSmallWattsCap:
			tooSmall++
		default:
			normal++
		}
	}

	if normal > tooSmall+tooLarge {
		return
	}

	switch {
	case tooSmall > tooLarge:
		for name, stats := range a.data {
			stats.Joules *= 1000
			a.data[name] = stats
		}
		unit := a.unitExponent.Load()
		if unit-3 < 0 {
			// The reference implementation's error log on this path sits
			// after its return and never runs; this port likewise returns
			// without logging, leaving the exponent unchanged.
			return
		}
		a.unitExponent.Store(unit - 3)
		a.log.Debug().Msg("power monitor: values too small, amplifying")
		a.dataCorrection(cycles + 1)
	case tooSmall < tooLarge:
		for name, stats := range a.data {
			stats.Joules /= 1000
			a.data[name] = stats
		}
		a.unitExponent.Add(3)
		a.log.Debug().Msg("power monitor: values too large, reducing")
		a.dataCorrection(cycles + 1)
	default:
		a.log.Error().Msg("power monitor: cannot calibrate data, manual calibration required")
	}
}

// ReadSnapshot trims, calibrates, and returns the current power map, all
// under the data mutex. Unit calibration runs only here; trim-and-merge
// also runs after every sample update in the sampling loop.
func (a *Accountant) ReadSnapshot() []Snapshot {
	a.dataMu.Lock()
	defer a.dataMu.Unlock()

	a.trimAndMerge()
	a.dataCorrection(0)

	out := make([]Snapshot, 0, len(a.data))
	for name, stats := range a.data {
		out = append(out, Snapshot{Name: name, Joules: stats.Joules, TimeSec: stats.TimeSec})
	}
	return out
}
