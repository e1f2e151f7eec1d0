package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	want := []string{"ingest", "validate", "query", "verify", "version"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("version command error = %v", err)
	}
	if !strings.Contains(buf.String(), "docpipe") {
		t.Errorf("version output = %q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 100, "short"},
		{"abcdef", 3, "abc..."},
		{"héllo wörld", 4, "héll..."},
		{"日本語のテキスト", 3, "日本語..."},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestIngestRejectsArguments(t *testing.T) {
	root := newRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"ingest", "unexpected"})

	if err := root.Execute(); err == nil {
		t.Fatal("ingest accepted a positional argument")
	}
}
