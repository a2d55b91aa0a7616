package main

import "testing"

func TestServeFlagDefaults(t *testing.T) {
	cmd := newServeCommand(newCommandContext())

	cases := map[string]string{
		"addr":         "127.0.0.1:8787",
		"retention":    "1h0m0s",
		"allow-origin": "[]",
	}
	for name, want := range cases {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			t.Fatalf("missing --%s", name)
		}
		if flag.DefValue != want {
			t.Fatalf("--%s default = %q, want %q", name, flag.DefValue, want)
		}
	}
}
