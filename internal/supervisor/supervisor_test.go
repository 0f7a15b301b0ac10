package supervisor

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func discardLogger() zerolog.Logger { return zerolog.Nop() }

func TestReexecAppendsStageFlag(t *testing.T) {
	s := &Supervisor{log: discardLogger(), binary: "/bin/true", workDir: "/tmp"}
	cmd, err := s.reexec(StageWorker, false)
	if err != nil {
		t.Fatalf("reexec: %v", err)
	}
	last := cmd.Args[len(cmd.Args)-1]
	if last != "-daemon-stage=2" {
		t.Fatalf("last arg = %q, want -daemon-stage=2", last)
	}
	if cmd.Dir != "/tmp" {
		t.Fatalf("Dir = %q, want /tmp", cmd.Dir)
	}
}

func TestReexecSetsSessionOnlyWhenRequested(t *testing.T) {
	s := &Supervisor{log: discardLogger(), binary: "/bin/true", workDir: "/tmp"}

	daemonCmd, err := s.reexec(StageDaemon, true)
	if err != nil {
		t.Fatalf("reexec: %v", err)
	}
	if !daemonCmd.SysProcAttr.Setsid {
		t.Fatal("daemon stage re-exec should request setsid")
	}

	workerCmd, err := s.reexec(StageWorker, false)
	if err != nil {
		t.Fatalf("reexec: %v", err)
	}
	if workerCmd.SysProcAttr.Setsid {
		t.Fatal("worker stage re-exec should not request setsid")
	}
}

func TestDaemonizeWorkerStageBindsAffinityAndReturnsTrue(t *testing.T) {
	s := &Supervisor{log: discardLogger(), binary: "/bin/true", workDir: "/tmp"}
	if !s.Daemonize(StageWorker) {
		t.Fatal("Daemonize(StageWorker) should return true")
	}
}

func TestFlagNameHasNoLeadingDash(t *testing.T) {
	if strings.HasPrefix(FlagName, "-") {
		t.Fatal("FlagName should be bare, callers add the leading dash")
	}
}
