package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"bswitcher/internal/supervisor"
)

// rpcSocketPath is the fixed filesystem socket the RPC server binds,
// matching original_source's JSONSocket::initialize("/dev/BSwitcher").
const rpcSocketPath = "/dev/BSwitcher"

func main() {
	workDirFlag := flag.String("p", "", "runtime working directory (defaults to the executable's own directory)")
	daemonStage := flag.Int(supervisor.FlagName, int(supervisor.StageForeground), "internal: daemonization stage, not for interactive use")
	flag.Parse()

	if err := InitLogger(DefaultLogConfig()); err != nil {
		os.Exit(1)
	}

	dir := resolveWorkDir(*workDirFlag)

	sup, err := supervisor.New(Logger, dir)
	if err != nil {
		SupervisorLog().Err(err).Msg("failed to resolve executable path")
		os.Exit(1)
	}

	if !sup.Daemonize(supervisor.Stage(*daemonStage)) {
		return
	}

	runWorker(dir)
}

func resolveWorkDir(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// runWorker is the stage-2 entry point: it brings every component up and
// runs the control loop until a termination signal arrives.
func runWorker(dir string) {
	SwitcherLog().Msg("BSwitcher is preparing...")

	s := NewSwitcher(Logger, dir, rpcSocketPath)
	if err := s.Start(); err != nil {
		SwitcherLog().Err(err).Msg("failed to initialize RPC socket")
		os.Exit(1)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		SwitcherLog().Str("signal", sig.String()).Msg("signal received, shutting down")
		s.Shutdown()
		os.Exit(0)
	}()

	s.Run()
}
