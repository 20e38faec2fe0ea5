package main

import (
	"path/filepath"
	"testing"

	"github.com/goliatone/go-campus-client/pkg/testsupport"
)

func setupEnv(t *testing.T) *testsupport.FakeBackend {
	t.Helper()
	seed := testsupport.LoadSeed(t, filepath.Join("..", "..", "pkg", "testsupport", "testdata", "seed.json"))
	backend, srv := testsupport.StartFakeBackend(t, seed)
	t.Setenv("CAMPUS_API_URL", srv.URL)
	t.Setenv("CAMPUS_STORE", "file")
	t.Setenv("CAMPUS_STORE_PATH", filepath.Join(t.TempDir(), "session"))
	t.Setenv("CAMPUS_LOG_LEVEL", "error")
	return backend
}

func TestRun_Help(t *testing.T) {
	for _, args := range [][]string{nil, {"help"}, {"version"}} {
		if err := run(args); err != nil {
			t.Errorf("run(%v) returned %v", args, err)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	setupEnv(t)
	if err := run([]string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestRun_SessionPersistsBetweenCommands(t *testing.T) {
	backend := setupEnv(t)

	if err := run([]string{"login", "555", "x"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := run([]string{"events"}); err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if err := run([]string{"market", "-category", "books", "-sort", "price:desc"}); err != nil {
		t.Fatalf("market failed: %v", err)
	}
	if got := backend.Hits("POST /auth/login"); got != 1 {
		t.Errorf("expected a single login, got %d", got)
	}

	if err := run([]string{"logout"}); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if err := run([]string{"events"}); err == nil {
		t.Error("expected events to fail after logout")
	}
}

func TestRun_Usage(t *testing.T) {
	setupEnv(t)
	cases := [][]string{
		{"login", "555"},
		{"chat"},
		{"chat", "abc"},
		{"send", "20"},
		{"upload"},
	}
	for _, args := range cases {
		if err := run(args); err == nil {
			t.Errorf("run(%v) should fail", args)
		}
	}
}

func TestPrintMessages(t *testing.T) {
	if got := printMessages(nil, 4); got != 4 {
		t.Errorf("printMessages(nil, 4) = %d", got)
	}
}
