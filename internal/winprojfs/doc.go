// Package winprojfs is the platform interop layer: the
// only place in this module that speaks the Windows Projected File
// System ABI directly. Everything above it (internal/host and the
// engines it wires together) talks to the Provider interface, never to
// a PRJ_* struct or the ProjectedFSLib.dll entry points themselves.
//
// provider_windows.go carries the real implementation, built only for
// GOOS=windows; provider_other.go carries a stub that reports
// PlatformError for every operation that would reach the platform, so
// the rest of the module builds and tests on any platform.
package winprojfs
