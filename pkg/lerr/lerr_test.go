package lerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew_NilError(t *testing.T) {
	if err := New(CodeImageUnavailable, nil); err != nil {
		t.Errorf("New with nil error should return nil, got %v", err)
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeDuplicateRun, errors.New("already in progress"))

	if !IsCode(err, CodeDuplicateRun) {
		t.Error("IsCode should match the wrapped code")
	}
	if IsCode(err, CodeUnknownRun) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(nil, CodeDuplicateRun) {
		t.Error("IsCode on nil should be false")
	}
	if IsCode(errors.New("plain"), CodeDuplicateRun) {
		t.Error("IsCode on a plain error should be false")
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("registry unreachable")
	err := New(CodeImageUnavailable, fmt.Errorf("pulling image: %w", inner))

	if !errors.Is(err, inner) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		jobExit int
		want    int
	}{
		{"success", nil, 0, ExitOK},
		{"invalid config", Newf(CodeInvalidConfig, "num_envs must be > 0"), 0, ExitInvalidConfig},
		{"image unavailable", Newf(CodeImageUnavailable, "no such tag"), 0, ExitImageUnavailable},
		{"device unavailable", Newf(CodeDeviceUnavailable, "no nvidia runtime"), 0, ExitDeviceUnavailable},
		{"launch timeout", Newf(CodeLaunchTimeout, "not running after 60s"), 0, ExitLaunchTimeout},
		{"job not found", Newf(CodeJobNotFound, "container stopped"), 0, ExitJobNotFound},
		{"duplicate run", Newf(CodeDuplicateRun, "in progress"), 0, ExitDuplicateRun},
		{"unknown run", Newf(CodeUnknownRun, "never allocated"), 0, ExitUnknownRun},
		{"crashed job propagates", Newf(CodeJobCrashed, "exit 7"), 7, 7},
		{"crashed without code", Newf(CodeJobCrashed, "exit unknown"), 0, ExitUnknown},
		{"plain error", errors.New("boom"), 0, ExitUnknown},
	}

	for _, tc := range cases {
		if got := ExitCode(tc.err, tc.jobExit); got != tc.want {
			t.Errorf("%s: ExitCode = %d, want %d", tc.name, got, tc.want)
		}
	}
}
