package credentials

import (
	"strings"
	"testing"
)

func TestNewPassword(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		pw, err := NewPassword()
		if err != nil {
			t.Fatalf("NewPassword: %v", err)
		}
		if len(pw) != passwordLength {
			t.Fatalf("len = %d, want %d", len(pw), passwordLength)
		}
		for _, r := range pw {
			if !strings.ContainsRune(alphabet, r) {
				t.Fatalf("unexpected character %q in %q", r, pw)
			}
		}
		seen[pw] = true
	}
	if len(seen) < 45 {
		t.Fatalf("only %d distinct passwords out of 50", len(seen))
	}
}
