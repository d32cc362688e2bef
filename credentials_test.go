package eventauth_test

import (
	"testing"
	"time"

	ea "github.com/panyam/eventauth"
)

func TestPasswordPolicy(t *testing.T) {
	policy := ea.DefaultPasswordPolicy()

	tests := []struct {
		password string
		valid    bool
	}{
		{"Str0ng!Pass", true},
		{"Sh0rt!", false},
		{"alllower1!x", false},
		{"ALLUPPER1!X", false},
		{"NoDigits!!x", false},
		{"NoSymbol123", false},
		{"Ünïcödé1!ab", true},
	}
	for _, tt := range tests {
		err := policy.Validate(tt.password)
		if tt.valid && err != nil {
			t.Errorf("%q: unexpected error %v", tt.password, err)
		}
		if !tt.valid {
			if err == nil {
				t.Errorf("%q: expected policy violation", tt.password)
			} else if err.Code != ea.ErrCodeWeakPassword || err.StatusCode() != 400 {
				t.Errorf("%q: unexpected error %s", tt.password, err)
			}
		}
	}
}

func TestParseDateOfBirth(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	dob, err := ea.ParseDateOfBirth("2000-01-01", now)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if dob.Year() != 2000 {
		t.Errorf("got %v", dob)
	}
	if _, err := ea.ParseDateOfBirth("2000-01-01T00:00:00Z", now); err != nil {
		t.Errorf("RFC3339 rejected: %v", err)
	}

	for value, code := range map[string]string{
		"":           ea.ErrCodeMissingField,
		"01/02/2000": ea.ErrCodeInvalidDateOfBirth,
		"2030-01-01": ea.ErrCodeInvalidDateOfBirth,
	} {
		_, err := ea.ParseDateOfBirth(value, now)
		if err == nil || err.Code != code {
			t.Errorf("%q: expected %s, got %v", value, code, err)
		}
	}
}

func TestDetectIdentifierType(t *testing.T) {
	if got := ea.DetectIdentifierType("a@x.com"); got != "email" {
		t.Errorf("got %s", got)
	}
	if got := ea.DetectIdentifierType("alice"); got != "username" {
		t.Errorf("got %s", got)
	}
	if ea.IsValidEmail("not-an-email@") {
		t.Error("expected invalid email")
	}
}
