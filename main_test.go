package main

import "testing"

func TestResolveWorkDirPrefersExplicitFlag(t *testing.T) {
	got := resolveWorkDir("/custom/path")
	if got != "/custom/path" {
		t.Fatalf("resolveWorkDir = %q, want /custom/path", got)
	}
}

func TestResolveWorkDirFallsBackToExecutableDir(t *testing.T) {
	got := resolveWorkDir("")
	if got == "" {
		t.Fatal("resolveWorkDir(\"\") should never return an empty string")
	}
}
