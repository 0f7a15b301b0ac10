// Package supervisor implements daemonization and worker respawn: the
// process detaches from its controlling terminal and re-executes itself
// through a daemon stage and a worker stage, keeping the worker alive
// across crashes.
//
// A raw fork() without an immediate exec() does not mix safely with the
// Go runtime's goroutine scheduler, so the source's double fork is
// expressed here as two re-executions of the same binary carrying a
// hidden "-daemon-stage" flag: stage 1 is the long-lived supervisor that
// forks and waits on stage-2 workers, stage 2 is the worker that runs the
// actual control loop.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Stage identifies where in the daemonization sequence the current
// process invocation sits.
type Stage int

const (
	// StageForeground is the initial invocation: not yet detached.
	StageForeground Stage = 0
	// StageDaemon is the detached supervisor that forks and waits on workers.
	StageDaemon Stage = 1
	// StageWorker is the process that runs the actual control loop.
	StageWorker Stage = 2
)

// FlagName is the hidden CLI flag carrying the stage across re-execs.
const FlagName = "daemon-stage"

const (
	workerRespawnDelay = 3 * time.Second
	forkFailureDelay   = 5 * time.Second
)

// Supervisor re-executes the running binary to daemonize it and keeps a
// worker process alive across exits.
type Supervisor struct {
	log     zerolog.Logger
	binary  string
	workDir string
}

// New constructs a Supervisor rooted at workDir, the directory the worker
// process should run from (the executable's own directory, or -p <path>).
func New(log zerolog.Logger, workDir string) (*Supervisor, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return &Supervisor{log: log, binary: exe, workDir: workDir}, nil
}

// Daemonize drives the stage the current invocation was started as. It
// returns true only when called from the worker stage, meaning the
// caller should now run its main loop; the foreground and daemon stages
// never return — they exit the process once their re-exec is underway.
func (s *Supervisor) Daemonize(stage Stage) bool {
	switch stage {
	case StageWorker:
		s.bindCPUAffinity()
		return true
	case StageDaemon:
		s.runDaemonLoop()
		os.Exit(0)
	default:
		s.spawnDaemon()
		os.Exit(0)
	}
	return false
}

// reexec builds the command line for the next stage: same binary, same
// user-visible args, with the hidden stage flag appended and stdio
// redirected to /dev/null. setsid detaches the child into its own
// session, mirroring the source's setsid() call on the second fork.
func (s *Supervisor) reexec(stage Stage, setsid bool) (*exec.Cmd, error) {
	args := append(append([]string{}, os.Args[1:]...), fmt.Sprintf("-%s=%d", FlagName, stage))
	cmd := exec.Command(s.binary, args...)
	cmd.Dir = s.workDir

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: setsid}
	return cmd, nil
}

func (s *Supervisor) spawnDaemon() {
	cmd, err := s.reexec(StageDaemon, true)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to prepare daemon stage")
		return
	}
	if err := cmd.Start(); err != nil {
		s.log.Error().Err(err).Msg("failed to start daemon stage")
		return
	}
	s.log.Info().Int("pid", cmd.Process.Pid).Msg("daemon stage started")
}

// runDaemonLoop is the stage-1 supervisor: it forks a worker, waits for
// it to exit by status or signal, and respawns it after a delay. A
// failure to even start the worker is treated as a longer-delay retry.
func (s *Supervisor) runDaemonLoop() {
	for {
		cmd, err := s.reexec(StageWorker, false)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to prepare worker")
			time.Sleep(forkFailureDelay)
			continue
		}
		if err := cmd.Start(); err != nil {
			s.log.Error().Err(err).Msg("failed to spawn worker")
			time.Sleep(forkFailureDelay)
			continue
		}
		s.log.Info().Int("pid", cmd.Process.Pid).Msg("worker started")

		err = cmd.Wait()
		if err != nil {
			s.log.Warn().Err(err).Msg("worker exited abnormally")
		} else {
			s.log.Warn().Msg("worker exited")
		}
		time.Sleep(workerRespawnDelay)
	}
}

// bindCPUAffinity pins the worker to CPU cores 0 and 1, the device's
// small cores on the reference target. Failure is logged and otherwise
// ignored: affinity is a scheduling hint, not a correctness requirement.
func (s *Supervisor) bindCPUAffinity() {
	var set unix.CPUSet
	set.Zero()
	set.Set(0)
	set.Set(1)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		s.log.Warn().Err(err).Msg("failed to bind worker to cpu cores 0,1")
	}
}
