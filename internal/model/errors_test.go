package model

import (
	"errors"
	"fmt"
	"testing"
)

type httpErr struct{ code int }

func (e *httpErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *httpErr) HTTPStatusCode() int { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"status 429", &httpErr{code: 429}, CodeQuotaError},
		{"body 429", errors.New(`{"error":{"code":429}}`), CodeQuotaError},
		{"quota any case", errors.New("QUOTA exceeded"), CodeQuotaError},
		{"resource exhausted", errors.New("status: RESOURCE_EXHAUSTED"), CodeQuotaError},
		{"entity not found", errors.New("Requested entity was not found."), CodeAuthError},
		{"auth literal", errors.New("AUTH_ERROR"), CodeAuthError},
		{"status 404", &httpErr{code: 404}, CodeAuthError},
		{"already auth", ErrAuth, CodeAuthError},
		{"download", &DownloadUnavailableError{Operation: "op"}, CodeDownloadError},
		{"analysis", &CreativeAnalysisError{Reason: "empty"}, CodeAnalysisError},
		{"generic", errors.New("safety filter blocked the prompt"), CodeGenerationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(Classify(tt.err)); got != tt.want {
				t.Errorf("ErrorCode(Classify(%v)) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify_GenericKeepsMessage(t *testing.T) {
	err := Classify(errors.New("prompt rejected"))
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %T", err)
	}
	if genErr.Error() != "prompt rejected" {
		t.Errorf("expected message to pass through, got %q", genErr.Error())
	}
}

func TestBannerFor(t *testing.T) {
	if b := BannerFor(fmt.Errorf("%w: 429", ErrQuota)); b.Code != CodeQuotaError {
		t.Errorf("expected quota banner, got %s", b.Code)
	}
	if b := BannerFor(ErrAuth); b.Code != CodeAuthError {
		t.Errorf("expected auth banner, got %s", b.Code)
	}
	b := BannerFor(&GenerationError{Message: "boom"})
	if b.Code != CodeGenerationError || b.Message != "Error: boom" {
		t.Errorf("unexpected generic banner: %+v", b)
	}
}
