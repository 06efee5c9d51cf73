package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"csvpipeline/internal/config"
	"csvpipeline/internal/queue"
	"csvpipeline/internal/storage"
	"csvpipeline/internal/storage/sqlite"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func baseConfig(dir, source string) string {
	return fmt.Sprintf(`job: cli
source:
  kind: file
  path: %s
storage:
  kind: filesystem
  filesystem:
    root: %s
queue:
  kind: in_memory
database:
  kind: sqlite
  dsn: "file:%s"
extract:
  chunk_size: 4
runtime:
  transform_workers: 2
  loader_workers: 1
  retry_initial: 1ms
  retry_max: 5ms
  exit_when_done: true
`, source, filepath.Join(dir, "blobs"), filepath.Join(dir, "sales.db"))
}

func TestRun_Validate(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, baseConfig(dir, "in.csv"))

	var out bytes.Buffer
	if code := run(context.Background(), []string{"-config", cfg, "-validate"}, &out); code != 0 {
		t.Fatalf("exit code = %d, output:\n%s", code, out.String())
	}

	bad := writeConfig(t, t.TempDir(), strings.Replace(baseConfig(dir, "in.csv"), "kind: sqlite", "kind: oracle", 1))
	out.Reset()
	if code := run(context.Background(), []string{"-config", bad, "-validate"}, &out); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out.String(), "unknown backend") {
		t.Fatalf("issue not reported:\n%s", out.String())
	}
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	if code := run(context.Background(), []string{"-nope"}, &out); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if code := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &out); code != 1 {
		t.Fatalf("missing config: exit code = %d, want 1", code)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "sales.csv")
	csv := "OrderID,OrderDate,CustomerID,ProductID,Quantity,UnitPrice,TotalAmount\n" +
		"1001,2024-08-01,C001,P001,10,15.00,100.00\n" +
		"1002,2024/08/02,C002,P002,5,$25.00,125\n" +
		"1003,2024-08-03,C001,P001,1,15.00,15.00\n"
	if err := os.WriteFile(source, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := writeConfig(t, dir, baseConfig(dir, source))

	var out bytes.Buffer
	if code := run(context.Background(), []string{"-config", cfg}, &out); code != 0 {
		t.Fatalf("exit code = %d, output:\n%s", code, out.String())
	}

	repo, err := sqlite.NewRepository(context.Background(), "file:"+filepath.Join(dir, "sales.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	var total float64
	if err := repo.DB().QueryRow(`SELECT TotalAmount FROM Orders WHERE OrderID = '1001'`).Scan(&total); err != nil {
		t.Fatal(err)
	}
	if total != 150 {
		t.Fatalf("TotalAmount = %v, want corrected 150", total)
	}
	var sales float64
	err = repo.DB().QueryRow(`SELECT TotalSales FROM SalesSummary WHERE CustomerID = 'C001' AND ProductID = 'P001'`).Scan(&sales)
	if err != nil {
		t.Fatal(err)
	}
	if sales != 165 {
		t.Fatalf("TotalSales = %v, want 165", sales)
	}
}

type stubRepo struct {
	storage.Repository
	closed int
}

func (r *stubRepo) Close() { r.closed++ }

func TestOpenBackends_ClosesRepoOnQueueError(t *testing.T) {
	repo := &stubRepo{}
	oldRepo, oldQueue := newRepository, newQueue
	t.Cleanup(func() { newRepository, newQueue = oldRepo, oldQueue })
	newRepository = func(context.Context, storage.Config) (storage.Repository, error) { return repo, nil }
	newQueue = func(context.Context, queue.Config) (queue.Queue, error) { return nil, errors.New("broker down") }

	cfg := config.Pipeline{Source: config.Source{Path: "in.csv"}}
	config.ApplyDefaults(&cfg)
	cfg.Storage.Filesystem.Root = t.TempDir()

	_, _, err := openBackends(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("err = %v", err)
	}
	if repo.closed != 1 {
		t.Fatalf("repository closed %d times, want 1", repo.closed)
	}
}

func TestOpenBackends_BadAlias(t *testing.T) {
	cfg := config.Pipeline{Transform: config.Transform{HeaderAliases: map[string]string{"Order Id": "Nope"}}}
	config.ApplyDefaults(&cfg)

	if _, _, err := openBackends(context.Background(), cfg); err == nil {
		t.Fatal("expected alias error")
	}
}

func TestReport(t *testing.T) {
	var out bytes.Buffer
	ok := report(&out, []config.Issue{
		{Severity: config.SeverityWarning, Path: "log.format", Message: "odd"},
	})
	if !ok || out.String() != "warning: log.format: odd\n" {
		t.Fatalf("ok=%v out=%q", ok, out.String())
	}
	if report(&out, []config.Issue{{Severity: config.SeverityError, Path: "job", Message: "x"}}) {
		t.Fatal("errors must fail the report")
	}
}
