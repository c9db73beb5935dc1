package errors

import (
	stderr "errors"
	"strings"
	"testing"
)

func TestNewError_Defaults(t *testing.T) {
	err := NewError(ErrCodeFileNotFound, "no such virtual path")

	if err.Code != ErrCodeFileNotFound {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeFileNotFound)
	}
	if err.Category != CategoryFilesystem {
		t.Errorf("Category = %s, want %s", err.Category, CategoryFilesystem)
	}
	if err.Retryable {
		t.Error("a missing virtual path must not default to retryable")
	}
	if !err.UserFacing {
		t.Error("FILE_NOT_FOUND should be user-facing by default")
	}
	if err.HTTPStatus != 404 {
		t.Errorf("HTTPStatus = %d, want 404", err.HTTPStatus)
	}
	if err.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestError_Formatting(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want string
	}{
		{
			"bare",
			NewError(ErrCodeProviderBusy, "provider is not running"),
			"PROVIDER_BUSY: provider is not running",
		},
		{
			"with component",
			NewError(ErrCodeProviderBusy, "provider is not running").WithComponent("host"),
			"[host] PROVIDER_BUSY: provider is not running",
		},
		{
			"with component and operation",
			NewError(ErrCodeMountFailed, "mark-root failed").WithComponent("host").WithOperation("start"),
			"[host:start] MOUNT_FAILED: mark-root failed",
		},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("%s: Error() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestChaining(t *testing.T) {
	cause := stderr.New("CreateFile: access is denied")
	err := NewError(ErrCodePlatformAPI, "platform API call failed").
		WithComponent("winprojfs").
		WithOperation("mark_directory_as_placeholder").
		WithCause(cause).
		WithDetail("platform_code", int32(5)).
		WithContext("path", "/invites")

	if err.Component != "winprojfs" || err.Operation != "mark_directory_as_placeholder" {
		t.Errorf("component/operation = %s/%s", err.Component, err.Operation)
	}
	if !stderr.Is(err, cause) {
		t.Error("errors.Is must find the wrapped platform cause")
	}
	if err.Details["platform_code"] != int32(5) {
		t.Errorf("Details[platform_code] = %v, want 5", err.Details["platform_code"])
	}
	if err.Context["path"] != "/invites" {
		t.Errorf("Context[path] = %q, want /invites", err.Context["path"])
	}
}

func TestIs_MatchesByCode(t *testing.T) {
	a := NewError(ErrCodeFileNotFound, "first").WithComponent("resolver")
	b := NewError(ErrCodeFileNotFound, "second").WithComponent("delivery")
	c := NewError(ErrCodeAccessDenied, "third")

	if !stderr.Is(a, b) {
		t.Error("two errors with the same code must satisfy errors.Is")
	}
	if stderr.Is(a, c) {
		t.Error("different codes must not satisfy errors.Is")
	}
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConnectionTimeout, CategoryConnection},
		{ErrCodeObjectNotFound, CategoryStorage},
		{ErrCodeFileNotFound, CategoryFilesystem},
		{ErrCodeOutOfMemory, CategoryResource},
		{ErrCodeShutdownInProgress, CategoryState},
		{ErrCodeOperationTimeout, CategoryOperation},
		{ErrCodeIOPending, CategoryProvider},
		{ErrCodeProviderBusy, CategoryProvider},
		{ErrCodePlatformAPI, CategoryProvider},
		{ErrCodeTombstoneFailed, CategoryProvider},
		{ErrCodeUnknownError, CategoryInternal},
	}
	for _, tt := range tests {
		if got := GetCategory(tt.code); got != tt.want {
			t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestIsRetryableByDefault(t *testing.T) {
	retryable := []ErrorCode{
		ErrCodeConnectionTimeout, ErrCodeNetworkError, ErrCodeWorkerBusy, ErrCodeProviderBusy,
	}
	for _, code := range retryable {
		if !IsRetryableByDefault(code) {
			t.Errorf("IsRetryableByDefault(%s) = false, want true", code)
		}
	}

	permanent := []ErrorCode{
		ErrCodeFileNotFound, ErrCodeAccessDenied, ErrCodeInvalidConfig, ErrCodePlatformAPI,
	}
	for _, code := range permanent {
		if IsRetryableByDefault(code) {
			t.Errorf("IsRetryableByDefault(%s) = true, want false", code)
		}
	}
}

func TestUserFacingMessage(t *testing.T) {
	denied := NewError(ErrCodeAccessDenied, "write operations are denied")
	if msg := denied.UserFacingMessage(); !strings.Contains(msg, "read-only") {
		t.Errorf("access-denied message %q should name the read-only projection", msg)
	}

	internal := NewError(ErrCodePanicRecovered, "recovered from callback panic")
	if msg := internal.UserFacingMessage(); !strings.Contains(msg, "internal error") {
		t.Errorf("non-user-facing error leaked internals: %q", msg)
	}
}

func TestString_IncludesDiagnosticFields(t *testing.T) {
	err := NewError(ErrCodeConnectionTimeout, "logical filesystem timed out").
		WithComponent("bridge").
		WithCause(stderr.New("dial timeout"))

	s := err.String()
	for _, want := range []string{"CONNECTION_TIMEOUT", "bridge", "Retryable=true", "dial timeout"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

func TestJSON_RoundsTripCode(t *testing.T) {
	err := NewError(ErrCodeIOPending, "request suspended").WithComponent("delivery")

	j := err.JSON()
	if !strings.Contains(j, `"code":"IO_PENDING"`) {
		t.Errorf("JSON() = %q, missing code field", j)
	}
}

func TestDetailedDiagnostic(t *testing.T) {
	err := NewError(ErrCodeMountFailed, "mark-root failed").
		WithComponent("host").
		WithContext("virtual_root", `C:\virt`)

	diag := err.DetailedDiagnostic()
	for _, want := range []string{"MOUNT_FAILED", "virtual_root", "Recommendation", "troubleshooting"} {
		if !strings.Contains(diag, want) {
			t.Errorf("DetailedDiagnostic() missing %q", want)
		}
	}
}

func TestWithStack(t *testing.T) {
	err := NewError(ErrCodeInternalError, "unexpected").WithStack()
	if err.Stack == "" {
		t.Error("WithStack() left Stack empty")
	}
	if !strings.Contains(err.Stack, "errors_test") {
		t.Errorf("Stack %q does not include the caller", err.Stack)
	}
}
