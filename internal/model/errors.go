package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/veoflow/api/internal/retry"
)

// Error codes surfaced in banners and WebSocket error events
const (
	CodeAuthError        = "AUTH_ERROR"
	CodeQuotaError       = "LIMITE_COTAS"
	CodeAnalysisError    = "CREATIVE_ANALYSIS_ERROR"
	CodeDownloadError    = "DOWNLOAD_UNAVAILABLE"
	CodeGenerationError  = "GENERATION_ERROR"
	defaultFailureReason = "Video production failed."
)

var (
	// ErrAuth means the credential or its billing is unusable. It is never
	// retried automatically.
	ErrAuth = errors.New(CodeAuthError)
	// ErrQuota means the service kept rate limiting after the retry budget
	// was spent. The user resumes once the limit clears.
	ErrQuota = errors.New(CodeQuotaError)
)

// CreativeAnalysisError is returned when the script breakdown is unusable.
type CreativeAnalysisError struct {
	Reason string
	Err    error
}

func (e *CreativeAnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("creative analysis failed: %s: %v", e.Reason, e.Err)
	}
	return "creative analysis failed: " + e.Reason
}

func (e *CreativeAnalysisError) Unwrap() error { return e.Err }

// DownloadUnavailableError is returned when a finished operation has no clip.
type DownloadUnavailableError struct {
	Operation string
}

func (e *DownloadUnavailableError) Error() string {
	return fmt.Sprintf("download unavailable for operation %s", e.Operation)
}

// GenerationError carries any other failure message through unchanged.
type GenerationError struct {
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsAuthMessage applies the auth patterns to a raw message or body.
func IsAuthMessage(msg string) bool {
	return strings.Contains(msg, CodeAuthError) ||
		strings.Contains(strings.ToLower(msg), "not found")
}

// Classify maps any error from the generation chain onto the taxonomy:
// ErrAuth, ErrQuota, the typed analysis/download errors, or a
// GenerationError. Already classified errors pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrQuota) {
		return err
	}
	var analysisErr *CreativeAnalysisError
	var downloadErr *DownloadUnavailableError
	var genErr *GenerationError
	if errors.As(err, &analysisErr) || errors.As(err, &downloadErr) || errors.As(err, &genErr) {
		return err
	}

	var sc retry.StatusCoder
	if errors.As(err, &sc) && sc.HTTPStatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if IsAuthMessage(err.Error()) {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if retry.IsQuotaError(err) {
		return fmt.Errorf("%w: %v", ErrQuota, err)
	}
	return &GenerationError{Message: err.Error(), Err: err}
}

// ErrorCode returns the banner code for a classified error.
func ErrorCode(err error) string {
	var analysisErr *CreativeAnalysisError
	var downloadErr *DownloadUnavailableError
	switch {
	case errors.Is(err, ErrAuth):
		return CodeAuthError
	case errors.Is(err, ErrQuota):
		return CodeQuotaError
	case errors.As(err, &analysisErr):
		return CodeAnalysisError
	case errors.As(err, &downloadErr):
		return CodeDownloadError
	}
	return CodeGenerationError
}

// BannerFor builds the user-facing banner for a pipeline failure.
func BannerFor(err error) *Banner {
	code := ErrorCode(err)
	switch code {
	case CodeAuthError:
		return &Banner{
			Code:    code,
			Message: "Billing error: your Google account has no active Veo credits or the selected project does not have billing enabled.",
		}
	case CodeQuotaError:
		return &Banner{
			Code:    code,
			Message: "Usage limit exceeded: too many requests in a short time. Click 'Resume' to continue where you left off.",
		}
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = defaultFailureReason
	}
	return &Banner{Code: code, Message: "Error: " + msg}
}
