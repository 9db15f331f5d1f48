package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/raceline/internal/wa"
)

// run executes the root command with args and returns combined output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeConfig writes a sqlite config into a temp dir and returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "raceline.yaml")
	body := "database:\n" +
		"  driver: sqlite\n" +
		"  path: " + filepath.Join(dir, "rl.db") + "\n" +
		"whatsapp:\n" +
		"  auth_dir: " + filepath.Join(dir, "wa-auth") + "\n" +
		"log:\n" +
		"  format: json\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestSubcommandHelp(t *testing.T) {
	tests := []struct {
		args  []string
		flags []string
	}{
		{[]string{"serve", "--help"}, []string{"--config", "--port", "--restore"}},
		{[]string{"db", "migrate", "--help"}, []string{"--config"}},
		{[]string{"db", "failures", "--help"}, []string{"--config"}},
		{[]string{"session", "list", "--help"}, []string{"--config"}},
		{[]string{"session", "create", "--help"}, []string{"--name", "--session-id", "--phone", "--description", "--inactive", "--default"}},
		{[]string{"session", "update", "--help"}, []string{"--name", "--session-id", "--active", "--default"}},
		{[]string{"session", "delete", "--help"}, []string{"--config"}},
		{[]string{"qr", "--help"}, []string{"--config", "--timeout"}},
		{[]string{"send", "--help"}, []string{"--to", "--message", "--session", "--timeout"}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args[:len(tt.args)-1], " "), func(t *testing.T) {
			out, err := run(t, tt.args...)
			if err != nil {
				t.Fatalf("help failed: %v", err)
			}
			for _, f := range tt.flags {
				if !strings.Contains(out, f) {
					t.Errorf("help missing flag %s:\n%s", f, out)
				}
			}
		})
	}
}

func TestCommands_MissingConfig(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "missing.yaml")
	tests := [][]string{
		{"serve", "-c", cfg},
		{"db", "migrate", "-c", cfg},
		{"db", "failures", "-c", cfg},
		{"session", "list", "-c", cfg},
		{"session", "create", "-c", cfg, "--name", "Support", "--session-id", "support"},
		{"session", "delete", "-c", cfg, "1"},
		{"qr", "-c", cfg, "support"},
		{"send", "-c", cfg, "--to", "08123456789", "--message", "hi"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args[:2], " "), func(t *testing.T) {
			_, err := run(t, args...)
			if err == nil {
				t.Fatal("expected error for missing config")
			}
			if !strings.Contains(err.Error(), "load config") {
				t.Errorf("error = %q, want it to contain 'load config'", err)
			}
		})
	}
}

func TestSessionCreate_RequiredFlags(t *testing.T) {
	_, err := run(t, "session", "create", "-c", writeConfig(t), "--name", "Support")
	if err == nil || !strings.Contains(err.Error(), "session-id") {
		t.Errorf("err = %v, want required session-id flag error", err)
	}
}

func TestSend_RequiredFlags(t *testing.T) {
	_, err := run(t, "send", "-c", writeConfig(t), "--to", "08123456789")
	if err == nil || !strings.Contains(err.Error(), "message") {
		t.Errorf("err = %v, want required message flag error", err)
	}
}

func TestQR_InvalidSessionID(t *testing.T) {
	_, err := run(t, "qr", "-c", writeConfig(t), "Bad-ID")
	if !errors.Is(err, wa.ErrInvalidSessionID) {
		t.Errorf("err = %v, want ErrInvalidSessionID", err)
	}
}

func TestDBMigrate(t *testing.T) {
	out, err := run(t, "db", "migrate", "-c", writeConfig(t))
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "Migrated") || !strings.Contains(out, "sqlite") {
		t.Errorf("output = %q", out)
	}
}

func TestDBFailures_Empty(t *testing.T) {
	out, err := run(t, "db", "failures", "-c", writeConfig(t))
	if err != nil {
		t.Fatalf("failures: %v", err)
	}
	if !strings.Contains(out, "No pending notifications.") {
		t.Errorf("output = %q", out)
	}
}

func TestSessionLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "session", "list", "-c", cfg)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No sessions.") {
		t.Errorf("empty list output = %q", out)
	}

	out, err = run(t, "session", "create", "-c", cfg,
		"--name", "Support", "--session-id", "support", "--phone", "628111")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(out, "Created session 1: Support (support) [default]") {
		t.Errorf("create output = %q", out)
	}

	// Single-session mode is on by default.
	if _, err := run(t, "session", "create", "-c", cfg, "--name", "Other", "--session-id", "other"); err == nil {
		t.Error("expected conflict creating a second active session")
	}

	out, err = run(t, "session", "update", "-c", cfg, "1", "--name", "Help Desk", "--active=false")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !strings.Contains(out, "Updated session 1: Help Desk (support) [default] [inactive]") {
		t.Errorf("update output = %q", out)
	}

	out, err = run(t, "session", "list", "-c", cfg)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"SESSION ID", "Help Desk", "support", "628111", "no", "yes"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "session", "delete", "-c", cfg, "1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(out, "Deleted session 1") {
		t.Errorf("delete output = %q", out)
	}

	if _, err := run(t, "session", "delete", "-c", cfg, "1"); err == nil {
		t.Error("expected error deleting a missing session")
	}
}

func TestSessionCreate_InvalidSessionID(t *testing.T) {
	_, err := run(t, "session", "create", "-c", writeConfig(t), "--name", "Support", "--session-id", "Not Valid")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "session_id") {
		t.Errorf("err = %q, want it to name session_id", err)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint
		wantErr bool
	}{
		{"1", 1, false},
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseID(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// fakeQR replays canned QR results and touches the store on every call so
// pairLoop wakes up again.
type fakeQR struct {
	store   *wa.Store
	results []wa.QRResult
	errs    []error
	calls   int
}

func (f *fakeQR) Store() *wa.Store { return f.store }

func (f *fakeQR) GetQRCode(ctx context.Context, id string) (wa.QRResult, error) {
	i := f.calls
	f.calls++
	f.store.Apply(id, func(s wa.Status) wa.Status {
		return s.QRUpdated(strings.Repeat("x", f.calls), time.Now())
	})
	if i >= len(f.results) {
		<-ctx.Done()
		return wa.QRResult{Outcome: wa.QRUnavailable}, ctx.Err()
	}
	return f.results[i], f.errs[i]
}

func TestPairLoop_PrintsEachCodeOnceUntilConnected(t *testing.T) {
	src := &fakeQR{
		store: wa.NewStore(),
		results: []wa.QRResult{
			{Outcome: wa.QRTimedOut},
			{Outcome: wa.QRReady, Code: "code-1"},
			{Outcome: wa.QRReady, Code: "code-1"},
			{Outcome: wa.QRReady, Code: "code-2"},
			{Outcome: wa.QRAlreadyConnected},
		},
		errs: []error{wa.ErrQRTimeout, nil, nil, nil, nil},
	}
	buf := new(bytes.Buffer)
	if err := pairLoop(context.Background(), src, "support", buf, false); err != nil {
		t.Fatalf("pairLoop: %v", err)
	}

	out := buf.String()
	if n := strings.Count(out, "code-1"); n != 1 {
		t.Errorf("code-1 printed %d times, want 1:\n%s", n, out)
	}
	if !strings.Contains(out, "code-2") {
		t.Errorf("code-2 not printed:\n%s", out)
	}
	if !strings.Contains(out, "Session support is connected.") {
		t.Errorf("missing connected line:\n%s", out)
	}
}

func TestPairLoop_RendersTerminalQR(t *testing.T) {
	src := &fakeQR{
		store: wa.NewStore(),
		results: []wa.QRResult{
			{Outcome: wa.QRReady, Code: "2@abc,def"},
			{Outcome: wa.QRAlreadyConnected},
		},
		errs: []error{nil, nil},
	}
	buf := new(bytes.Buffer)
	if err := pairLoop(context.Background(), src, "support", buf, true); err != nil {
		t.Fatalf("pairLoop: %v", err)
	}
	if strings.Contains(buf.String(), "2@abc,def") {
		t.Error("rendered output should draw the code, not print it raw")
	}
}

func TestPairLoop_Timeout(t *testing.T) {
	src := &fakeQR{store: wa.NewStore()}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pairLoop(ctx, src, "support", new(bytes.Buffer), false)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestPairLoop_StartFailure(t *testing.T) {
	startErr := errors.New("adapter down")
	src := &fakeQR{
		store:   wa.NewStore(),
		results: []wa.QRResult{{Outcome: wa.QRUnavailable}},
		errs:    []error{startErr},
	}
	err := pairLoop(context.Background(), src, "support", new(bytes.Buffer), false)
	if !errors.Is(err, startErr) {
		t.Errorf("err = %v, want adapter error", err)
	}
	if !strings.Contains(err.Error(), wa.MsgConnectionProblem) {
		t.Errorf("err = %q, want connection problem guidance", err)
	}
}
