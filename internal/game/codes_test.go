package game

import (
	"strings"
	"testing"
)

func TestRandomCode_LengthAndAlphabet(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := randomCode()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(code) != CodeLength {
			t.Fatalf("expected %d chars, got %q", CodeLength, code)
		}
		for _, c := range code {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("code %q contains %q outside the alphabet", code, c)
			}
		}
	}
}

func TestNewCode_SkipsTakenCodes(t *testing.T) {
	r := NewRegistry(nil, nil)

	code, err := r.newCode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Register the code and draw again; the taken code must not come back.
	r.sessions[code] = &Session{Code: code}
	next, err := r.newCode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next == code {
		t.Fatalf("newCode returned a taken code: %s", code)
	}
}
