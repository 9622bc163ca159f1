package cmdutil

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		opts     ExecOptions
		cmd      []string
		wantErr  bool
		wantCode int
	}{
		{"successful command", ExecOptions{}, []string{"echo", "hello"}, false, 0},
		{"command that fails", ExecOptions{}, []string{"sh", "-c", "exit 3"}, true, 3},
		{"missing binary", ExecOptions{}, []string{"/nonexistent/binary"}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Run(ctx, tt.opts, tt.cmd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if result == nil {
				t.Fatal("Expected non-nil result")
			}
			if result.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", result.ExitCode, tt.wantCode)
			}
		})
	}
}

func TestRun_EmptyCommand(t *testing.T) {
	result, err := Run(context.Background(), ExecOptions{}, nil)
	if err == nil {
		t.Error("Expected error for empty command")
	}
	if result != nil {
		t.Error("Expected nil result for empty command")
	}
}

func TestRun_DirAndEnv(t *testing.T) {
	dir := t.TempDir()

	result, err := Run(context.Background(), ExecOptions{
		Dir: dir,
		Env: []string{"REDEPLOY_RELEASE=app-v5"},
	}, []string{"sh", "-c", "pwd; echo $REDEPLOY_RELEASE"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	out := string(result.Output)
	if !strings.Contains(out, "app-v5") {
		t.Errorf("Expected env var in output, got %q", out)
	}
	if !result.OK() {
		t.Error("Expected OK result")
	}
}

func TestRun_Timeout(t *testing.T) {
	start := time.Now()
	_, err := Run(context.Background(), ExecOptions{Timeout: 100 * time.Millisecond}, []string{"sleep", "5"})
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Expected timeout message, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("Timeout was not enforced")
	}
}

func TestParseCommandString(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{"systemctl reload nginx", []string{"systemctl", "reload", "nginx"}, false},
		{`echo "hello world"`, []string{"echo", "hello world"}, false},
		{`echo 'single quoted'`, []string{"echo", "single quoted"}, false},
		{"", nil, true},
		{`echo "unterminated`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCommandString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommandString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !equalStringSlices(got, tt.want) {
				t.Errorf("ParseCommandString(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseCommandList(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		want    []string
		wantErr bool
	}{
		{"string", "nginx -s reload", []string{"nginx", "-s", "reload"}, false},
		{"interface list", []interface{}{"nginx", "-s", "reload"}, []string{"nginx", "-s", "reload"}, false},
		{"string list", []string{"true"}, []string{"true"}, false},
		{"empty list", []interface{}{}, nil, true},
		{"non-string item", []interface{}{"echo", 1}, nil, true},
		{"wrong type", 42, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommandList(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommandList() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !equalStringSlices(got, tt.want) {
				t.Errorf("ParseCommandList() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatCommand(t *testing.T) {
	if got := FormatCommand(nil); got != "<empty command>" {
		t.Errorf("FormatCommand(nil) = %q", got)
	}
	got := FormatCommand([]string{"echo", "hello world"})
	if !strings.HasPrefix(got, "echo ") || !strings.Contains(got, "hello world") || got == "echo hello world" {
		t.Errorf("FormatCommand() = %q, expected quoted argument", got)
	}
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
