package agenterr

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", NotFound("search.stop", "search_1"), KindNotFound},
		{"invalid state", InvalidState("process.write", "proc_1", "session has ended"), KindInvalidState},
		{"filesystem", Filesystem("search.start", "/nope", os.ErrNotExist), KindFilesystem},
		{"wrapped", fmt.Errorf("dispatch: %w", NotFound("process.read", "proc_2")), KindNotFound},
		{"plain error", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := NotFound("search.results", "search_42")
	if got, want := err.Error(), "search.results search_42: session not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	fsErr := Filesystem("search.start", "/missing", os.ErrNotExist)
	if !errors.Is(fsErr, os.ErrNotExist) {
		t.Error("Filesystem error should unwrap to os.ErrNotExist")
	}
	if got, want := fsErr.Error(), "search.start /missing: file does not exist"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIsKind(t *testing.T) {
	if IsKind(nil, KindNotFound) {
		t.Error("IsKind(nil) = true, want false")
	}
	if !IsKind(InvalidState("search.clear", "search_1", "session is still running"), KindInvalidState) {
		t.Error("IsKind() = false, want true")
	}
}

func TestSpawnError(t *testing.T) {
	cause := errors.New(`exec: "nope": executable file not found in $PATH`)
	err := Spawn("process.start", "nope", cause)
	if KindOf(err) != KindSpawn {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindSpawn)
	}
	if !errors.Is(err, cause) {
		t.Error("Spawn error should unwrap to its cause")
	}
	if got, want := err.Error(), `process.start nope: exec: "nope": executable file not found in $PATH`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
