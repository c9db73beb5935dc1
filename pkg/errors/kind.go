package errors

// Kind is one of the six outcomes every callback body translates a
// failure into before returning to the kernel.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindAccessDenied Kind = "access_denied"
	KindIOPending    Kind = "io_pending"
	KindBusy         Kind = "busy"
	KindOutOfMemory  Kind = "out_of_memory"
	KindPlatform     Kind = "platform_error"
)

// KindOf classifies an ProviderError into one of the six platform-facing
// kinds. Errors that aren't *ProviderError, or whose code isn't recognized,
// classify as KindPlatform so a callback always has a safe default.
func KindOf(err error) Kind {
	e, ok := err.(*ProviderError)
	if !ok {
		return KindPlatform
	}
	switch e.Code {
	case ErrCodeFileNotFound, ErrCodeObjectNotFound, ErrCodeBucketNotFound:
		return KindNotFound
	case ErrCodeAccessDenied, ErrCodePermissionDenied:
		return KindAccessDenied
	case ErrCodeIOPending:
		return KindIOPending
	case ErrCodeProviderBusy, ErrCodeServiceUnavailable, ErrCodeShutdownInProgress:
		return KindBusy
	case ErrCodeOutOfMemory:
		return KindOutOfMemory
	default:
		return KindPlatform
	}
}

// NotFound builds a KindNotFound error for the given component/path.
func NotFound(component, path string) *ProviderError {
	return NewError(ErrCodeFileNotFound, "no such virtual path").
		WithComponent(component).
		WithContext("path", path)
}

// AccessDenied builds a KindAccessDenied error for a write-class operation.
func AccessDenied(component, operation, path string) *ProviderError {
	return NewError(ErrCodeAccessDenied, "write operations are denied on a read-only projection").
		WithComponent(component).
		WithOperation(operation).
		WithContext("path", path)
}

// Busy builds a KindBusy error, used when the provider is stopped/stopping.
func Busy(component string) *ProviderError {
	return NewError(ErrCodeProviderBusy, "provider is not running").
		WithComponent(component)
}

// Platform wraps an underlying platform API failure, carrying its code.
func Platform(component, operation string, code int32, cause error) *ProviderError {
	return NewError(ErrCodePlatformAPI, "platform API call failed").
		WithComponent(component).
		WithOperation(operation).
		WithDetail("platform_code", code).
		WithCause(cause)
}
