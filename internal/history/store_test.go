package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/nao1215/torreq/internal/tor"
)

// setupTestStore creates a temporary database for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func successfulVerification(t *testing.T, startedAt time.Time, port int) *tor.Verification {
	t.Helper()

	settings, err := tor.NewProxySettings(port)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &tor.Verification{
		IPCheckURL: tor.DefaultIPCheckURL,
		DirectIP:   "198.51.100.1",
		Attempts: []tor.Attempt{
			{Port: 9150, Proxy: "socks5h://127.0.0.1:9150", Outcome: tor.OutcomeProbeFailed, Error: "connection refused"},
			{Port: port, Proxy: settings.HTTP, IP: "203.0.113.1", Outcome: tor.OutcomeRouted},
		},
		Proxy:     settings,
		Port:      port,
		TorIP:     "203.0.113.1",
		StartedAt: startedAt,
		Duration:  1500 * time.Millisecond,
	}
}

// TestOpen tests database opening and creation.
func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "newdir", "subdir")
		s, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer s.Close()

		if _, err := os.Stat(filepath.Join(dbDir, FileName)); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if s.Path() != filepath.Join(dbDir, FileName) {
			t.Errorf("unexpected path %q", s.Path())
		}
	})

	t.Run("database files are private", func(t *testing.T) {
		t.Parallel()

		if runtime.GOOS == "windows" {
			t.Skip("POSIX permissions only")
		}

		dbDir := t.TempDir()
		s, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer s.Close()
		if _, err := s.SaveVerification(context.Background(), successfulVerification(t, time.Now(), 9050)); err != nil {
			t.Fatalf("failed to save: %v", err)
		}

		for _, name := range []string{FileName, FileName + "-wal", FileName + "-shm"} {
			info, err := os.Stat(filepath.Join(dbDir, name))
			if os.IsNotExist(err) && name != FileName {
				continue
			}
			if err != nil {
				t.Fatalf("stat %s: %v", name, err)
			}
			if perm := info.Mode().Perm(); perm != FileMode {
				t.Errorf("%s mode = %o, want %o", name, perm, FileMode)
			}
		}
	})

	t.Run("CreateIfNotExists=false returns error when database does not exist", func(t *testing.T) {
		t.Parallel()

		_, err := Open(filepath.Join(t.TempDir(), "missing"), Options{CreateIfNotExists: false})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("reopens an existing database without creating", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		s, err := Open(dir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		if _, err := s.SaveVerification(context.Background(), successfulVerification(t, time.Now(), 9050)); err != nil {
			t.Fatalf("failed to save: %v", err)
		}
		_ = s.Close()

		reopened, err := Open(dir, Options{CreateIfNotExists: false, EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to reopen database: %v", err)
		}
		defer reopened.Close()

		records, err := reopened.RecentVerifications(context.Background(), 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(records) != 1 {
			t.Errorf("expected 1 record, got %d", len(records))
		}
	})
}

func TestSaveVerification(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	ctx := context.Background()

	t.Run("rejects nil", func(t *testing.T) {
		if _, err := s.SaveVerification(ctx, nil); !errors.Is(err, ErrNilVerification) {
			t.Errorf("expected ErrNilVerification, got %v", err)
		}
	})

	t.Run("round-trips a successful verification", func(t *testing.T) {
		original := successfulVerification(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), 9050)

		id, err := s.SaveVerification(ctx, original)
		if err != nil {
			t.Fatalf("failed to save verification: %v", err)
		}
		if id == 0 {
			t.Fatal("expected non-zero ID")
		}

		got, err := s.GetVerification(ctx, id)
		if err != nil {
			t.Fatalf("failed to get verification: %v", err)
		}
		if got == nil {
			t.Fatal("expected verification, got nil")
		}
		if !got.OK() || got.Port != 9050 || got.TorIP != "203.0.113.1" {
			t.Errorf("unexpected verification %+v", got)
		}
		if len(got.Attempts) != 2 || got.Attempts[0].Outcome != tor.OutcomeProbeFailed || got.Attempts[1].Outcome != tor.OutcomeRouted {
			t.Errorf("unexpected attempts %+v", got.Attempts)
		}
		if got.Attempts[0].Error != "connection refused" {
			t.Errorf("expected error text to survive, got %q", got.Attempts[0].Error)
		}
	})

	t.Run("stores failed verifications", func(t *testing.T) {
		failed := &tor.Verification{
			IPCheckURL:    tor.DefaultIPCheckURL,
			DirectIPError: "network unreachable",
			StartedAt:     time.Now(),
		}

		id, err := s.SaveVerification(ctx, failed)
		if err != nil {
			t.Fatalf("failed to save verification: %v", err)
		}
		got, err := s.GetVerification(ctx, id)
		if err != nil {
			t.Fatalf("failed to get verification: %v", err)
		}
		if got.OK() {
			t.Error("expected a failed verification")
		}
	})

	t.Run("returns nil for non-existent ID", func(t *testing.T) {
		got, err := s.GetVerification(ctx, 99999)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Error("expected nil for non-existent ID")
		}
	})
}

func TestRecentVerifications(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, port := range []int{9150, 9050, 9151} {
		v := successfulVerification(t, base.Add(time.Duration(i)*time.Minute), port)
		if _, err := s.SaveVerification(ctx, v); err != nil {
			t.Fatalf("failed to save verification %d: %v", i, err)
		}
	}

	t.Run("newest first with limit", func(t *testing.T) {
		records, err := s.RecentVerifications(ctx, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		if records[0].Port != 9151 || records[1].Port != 9050 {
			t.Errorf("unexpected order: %d, %d", records[0].Port, records[1].Port)
		}
		if !records[0].StartedAt.Equal(base.Add(2 * time.Minute)) {
			t.Errorf("unexpected timestamp %v", records[0].StartedAt)
		}
		if !records[0].OK || records[0].Attempts != 2 || records[0].Duration != 1500*time.Millisecond {
			t.Errorf("unexpected record %+v", records[0])
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		if _, err := s.RecentVerifications(ctx, 0); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("expected ErrInvalidLimit, got %v", err)
		}
	})
}

func TestRequests(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t)
	ctx := context.Background()

	id, err := s.SaveVerification(ctx, successfulVerification(t, time.Now(), 9050))
	if err != nil {
		t.Fatalf("failed to save verification: %v", err)
	}

	records := []*RequestRecord{
		{VerificationID: id, Method: "GET", URL: "https://example.com/", StatusCode: 200, Duration: 300 * time.Millisecond},
		{VerificationID: id, Method: "POST", URL: "https://example.com/api", Duration: time.Second, Error: "timeout"},
		{Method: "GET", URL: "https://unrelated.example/"},
	}
	for _, rec := range records {
		if err := s.SaveRequest(ctx, rec); err != nil {
			t.Fatalf("failed to save request: %v", err)
		}
	}

	got, err := s.RequestsForVerification(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(got))
	}
	if got[0].Method != "GET" || got[0].StatusCode != 200 || got[0].Duration != 300*time.Millisecond {
		t.Errorf("unexpected first request %+v", got[0])
	}
	if got[1].Error != "timeout" || got[1].VerificationID != id {
		t.Errorf("unexpected second request %+v", got[1])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  time.Time
	}{
		{"2026-01-02 03:04:05", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2026-01-02T03:04:05Z", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2026-01-02T03:04:05.500000000Z", time.Date(2026, 1, 2, 3, 4, 5, 500000000, time.UTC)},
		{"not a time", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			if got := parseTimestamp(tt.input); !got.Equal(tt.want) {
				t.Errorf("parseTimestamp(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
