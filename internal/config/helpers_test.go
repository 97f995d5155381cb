package config

import (
	"flag"
	"testing"
)

// parseFlags installs a fresh command line with args for the duration of the test
func parseFlags(t *testing.T, args ...string) {
	t.Helper()

	oldCommandLine, oldFlags := flag.CommandLine, flags
	t.Cleanup(func() {
		flag.CommandLine, flags = oldCommandLine, oldFlags
	})

	flag.CommandLine = flag.NewFlagSet("resender-test", flag.ContinueOnError)
	flags = registerFlags(flag.CommandLine)
	if err := flag.CommandLine.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
}

func checkValidationError(t *testing.T, err error, wantError string) {
	t.Helper()
	if wantError == "" {
		if err != nil {
			t.Errorf("validation error = %v; want nil", err)
		}
	} else {
		if err == nil {
			t.Errorf("validation error = nil; want %s", wantError)
		} else if err.Error() != wantError {
			t.Errorf("validation error = %s; want %s", err.Error(), wantError)
		}
	}
}
