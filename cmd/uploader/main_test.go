package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--short"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestUploadCommandRequiresFiles(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"upload"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected an error without file arguments")
	}
}

func TestUploadCommandFlags(t *testing.T) {
	cmd := uploadCmd()
	for name, want := range map[string]string{"config": "config.json", "log-dir": "data", "serve": "false"} {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			t.Fatalf("missing flag %q", name)
		}
		if flag.DefValue != want {
			t.Fatalf("flag %q defaults to %q, want %q", name, flag.DefValue, want)
		}
	}
}
