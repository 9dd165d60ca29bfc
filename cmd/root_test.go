package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/datasafe/papl/lib/store"
	"github.com/datasafe/papl/lib/store/lstore"
)

const cliPolicy = `package authz

default allow := false

allow if input.user == "admin"
`

func execute(t *testing.T, args ...string) error {
	t.Helper()
	RootCmd.SetArgs(args)
	return RootCmd.Execute()
}

func TestPolicyCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cli.db")
	common := []string{"--path", path, "--log-level", "error"}

	policyFile := filepath.Join(dir, "authz.rego")
	if err := os.WriteFile(policyFile, []byte(cliPolicy), 0o600); err != nil {
		t.Fatal(err)
	}

	steps := [][]string{
		{"policy", "save", "authz", "1.0.0", "10", "--file", policyFile},
		// flag values persist between executions of RootCmd
		{"policy", "save", "stale", "package stale", "0.1.0", "1", "--file", ""},
		{"policy", "evict", "--max", "5"},
		{"policy", "export", filepath.Join(dir, "policies.snap")},
	}
	for _, step := range steps {
		if err := execute(t, append(step, common...)...); err != nil {
			t.Fatalf("papl %v: %v", step, err)
		}
	}

	s, err := lstore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	value, version, err := s.VersionAndValue("authz")
	if err != nil || value != cliPolicy || version != "1.0.0" {
		t.Errorf("VersionAndValue(authz) = (%q, %q), %v", value, version, err)
	}
	if _, err := s.Get("stale"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stale should have been evicted, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "policies.snap")); err != nil {
		t.Errorf("export should have written a snapshot: %v", err)
	}
}

func TestEvalCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eval.db")

	s, err := lstore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Save("authz", cliPolicy, "1.0.0", 1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	input := filepath.Join(dir, "input.yaml")
	if err := os.WriteFile(input, []byte("user: admin\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	err = execute(t, "eval", "authz.allow", "--rule", "--policy", "authz", "--input", input, "--path", path, "--log-level", "error")
	if err != nil {
		t.Fatalf("papl eval: %v", err)
	}

	err = execute(t, "eval", "data.authz.allow", "--policy", "missing", "--path", path, "--log-level", "error")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("eval with a missing policy should fail with ErrNotFound, got %v", err)
	}
}
