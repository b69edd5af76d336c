package ai

import (
	"errors"
	"testing"
)

func TestClassifyErrorReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "other"},
		{"billing text", errors.New("insufficient quota for this request"), "billing"},
		{"rate limit", errors.New("429 Too Many Requests"), "rate_limit"},
		{"auth", errors.New("invalid api key provided"), "auth"},
		{"timeout", errors.New("context deadline exceeded"), "timeout"},
		{"plain", errors.New("connection refused"), "other"},
		{
			"provider error code",
			&ProviderError{Code: "rate_limit_exceeded", Message: "slow down"},
			"rate_limit",
		},
		{
			"provider error type",
			&ProviderError{Type: "authentication_error", Message: "bad key"},
			"auth",
		},
		{
			"provider billing code",
			&ProviderError{Code: "insufficient_quota", Message: "no credits"},
			"billing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyErrorReason(tt.err); got != tt.want {
				t.Errorf("ClassifyErrorReason = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsContextOverflow(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("prompt is too long: 210000 tokens > 200000 maximum"), true},
		{errors.New("maximum context length exceeded"), true},
		{errors.New("rate limit hit"), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := IsContextOverflow(tt.err); got != tt.want {
			t.Errorf("IsContextOverflow(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsRoleOrderingError(t *testing.T) {
	if !IsRoleOrderingError(errors.New(`messages: roles must alternate between "user" and "assistant"`)) {
		t.Error("role alternation error should be detected")
	}
	if IsRoleOrderingError(errors.New("some other problem")) {
		t.Error("unrelated error should not be detected")
	}
	if IsRoleOrderingError(nil) {
		t.Error("nil should not be detected")
	}
}
