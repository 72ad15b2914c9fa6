package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/edgestream/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad token, got %v", err)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected success for ok token, got %v", err)
	}
}

func TestBearerRoundTrip(t *testing.T) {
	testlog.Start(t)
	if h := BearerHeader("  "); h != nil {
		t.Fatalf("expected nil header for empty token, got %v", h)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header = BearerHeader("s3cret")
	if got := TokenFromRequest(r); got != "s3cret" {
		t.Fatalf("unexpected token: %q", got)
	}
	if err := Check(StaticToken{Token: "s3cret"}, r); err != nil {
		t.Fatalf("expected accepted token, got %v", err)
	}

	r.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	if got := TokenFromRequest(r); got != "" {
		t.Fatalf("expected no bearer token, got %q", got)
	}
	if err := Check(StaticToken{Token: "s3cret"}, r); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := Check(nil, r); err != nil {
		t.Fatalf("nil validator should accept, got %v", err)
	}
}
