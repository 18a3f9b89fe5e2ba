package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/chazu/intcode/manifest"
	"github.com/chazu/intcode/vm"
)

const ampProgram = "3,26,1001,26,-4,26,3,27,1002,27,2,27,1,27,26,27,4,27,1001,28,-1,28,1005,28,6,99,0,0,5"

func writeProgram(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.ic")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestParseWords(t *testing.T) {
	tests := []struct {
		in   string
		want []vm.Word
	}{
		{"", nil},
		{"5", []vm.Word{5}},
		{" 1, -2 ,3,", []vm.Word{1, -2, 3}},
	}
	for _, tt := range tests {
		got, err := parseWords(tt.in)
		if err != nil {
			t.Errorf("parseWords(%q) error: %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseWords(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := parseWords("1,two"); err == nil {
		t.Error("parseWords should reject non-integers")
	}
}

func TestRunCommand(t *testing.T) {
	prog := writeProgram(t, "3,9,8,9,10,9,4,9,99,-1,8")
	for _, sched := range []string{"threads", "cooperative"} {
		var out bytes.Buffer
		err := handleRunCommand(testContext(t), []string{"-in", "8", "-sched", sched, prog}, nil, nil, &out)
		if err != nil {
			t.Fatalf("%s: %v", sched, err)
		}
		if got := out.String(); got != "1\n" {
			t.Errorf("%s: output = %q, want %q", sched, got, "1\n")
		}
	}
}

func TestRunCommandUnreadInput(t *testing.T) {
	prog := writeProgram(t, "3,0,4,0,99")
	for _, sched := range []string{"threads", "coop"} {
		var out bytes.Buffer
		err := handleRunCommand(testContext(t), []string{"-in", "7,8", "-sched", sched, prog}, nil, nil, &out)
		if err != nil {
			t.Fatalf("%s: %v", sched, err)
		}
		if got := out.String(); got != "7\n" {
			t.Errorf("%s: output = %q, want %q", sched, got, "7\n")
		}
	}
}

func TestRunCommandDumpFromStdin(t *testing.T) {
	var out bytes.Buffer
	stdin := strings.NewReader("1,9,10,3,2,3,11,0,99,30,40,50")
	if err := handleRunCommand(testContext(t), []string{"-dump", "-"}, nil, stdin, &out); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "3500,9,10,70,2,3,11,0,99,30,40,50\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRunCommandFails(t *testing.T) {
	prog := writeProgram(t, "3,0,99")
	var out bytes.Buffer
	err := handleRunCommand(testContext(t), []string{prog}, nil, nil, &out)
	if err == nil || !strings.Contains(err.Error(), "end of input") {
		t.Errorf("got %v, want end of input error", err)
	}
}

func TestFeedbackCommand(t *testing.T) {
	prog := writeProgram(t, ampProgram)
	var out bytes.Buffer
	err := handleFeedbackCommand(testContext(t), []string{"-phases", "9,8,7,6,5", "-sched", "coop", prog}, nil, nil, &out)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "139629729\n" {
		t.Errorf("output = %q, want 139629729", got)
	}
}

func TestNetworkCommand(t *testing.T) {
	prog := writeProgram(t, "3,100,104,255,104,7,104,42,3,101,1008,101,-1,102,1005,102,8,"+
		"3,103,104,255,4,101,4,103,1105,1,8")
	var out bytes.Buffer
	err := handleNetworkCommand(testContext(t), []string{"-size", "3", prog}, nil, nil, &out)
	if err != nil {
		t.Fatal(err)
	}
	want := "first 7 42\nrepeated 7 42 after 2 wakeups\n"
	if got := out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestDisCommand(t *testing.T) {
	var out bytes.Buffer
	if err := handleDisCommand([]string{"-"}, nil, strings.NewReader("1002,4,3,4,33"), &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "0000  MUL") {
		t.Errorf("output = %q, want a MUL listing", out.String())
	}
}

func TestRunManifest(t *testing.T) {
	dir := t.TempDir()
	content := `
[program]
source = "` + ampProgram + `"

[run]
mode = "feedback"
phases = [9, 8, 7, 6, 5]
`
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runManifest(testContext(t), m, &out); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "139629729\n" {
		t.Errorf("output = %q, want 139629729", got)
	}

	// Flags fall back to the manifest when omitted.
	out.Reset()
	if err := handleFeedbackCommand(testContext(t), nil, m, nil, &out); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "139629729\n" {
		t.Errorf("feedback from manifest = %q, want 139629729", got)
	}
}

func TestLoadProgramNeedsSource(t *testing.T) {
	if _, err := loadProgram(nil, nil, nil); err == nil {
		t.Error("loadProgram without args or manifest should fail")
	}
}
