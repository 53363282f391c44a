package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCgroupConfiner_WritesPID(t *testing.T) {
	dir := t.TempDir()
	procs := filepath.Join(dir, cgroupProcs)
	if err := os.WriteFile(procs, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	c := &CgroupConfiner{Path: dir, SkipFSCheck: true, pid: func() int { return 4242 }}
	if err := c.Confine(); err != nil {
		t.Fatalf("Confine failed: %v", err)
	}

	got, err := os.ReadFile(procs)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "4242" {
		t.Errorf("cgroup.procs = %q, want %q", got, "4242")
	}
}

func TestCgroupConfiner_MissingCgroup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sandbox")

	c := &CgroupConfiner{Path: dir, SkipFSCheck: true, pid: func() int { return 1 }}
	err := c.Confine()
	if err == nil {
		t.Fatal("expected error for missing cgroup")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist in chain, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, cgroupProcs)); !os.IsNotExist(statErr) {
		t.Error("Confine must not create cgroup.procs")
	}
}

func TestCgroupConfiner_RejectsNonCgroupFS(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, cgroupProcs), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewCgroupConfiner(dir, RLimits{})
	if err := c.Confine(); !errors.Is(err, ErrNotCgroup) {
		t.Errorf("Confine error = %v, want ErrNotCgroup", err)
	}
}

func TestRLimits_ZeroIsNoop(t *testing.T) {
	if err := (RLimits{}).Apply(); err != nil {
		t.Errorf("Apply() = %v, want nil", err)
	}
}

func TestNoopConfiner(t *testing.T) {
	var c Confiner = NoopConfiner{}
	if err := c.Confine(); err != nil {
		t.Errorf("Confine() = %v", err)
	}
}
