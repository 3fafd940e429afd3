// Package acquireerr defines the typed error taxonomy for the
// acquisition core. Every recoverable condition is constructed through
// one helper here, so call sites never hand-roll fmt.Errorf for a
// condition that has a kind.
package acquireerr

import (
	"errors"
	"fmt"
)

// Kind identifies a recoverable error condition.
type Kind string

const (
	KindInvalidVersion               Kind = "InvalidVersion"
	KindUnsupported                  Kind = "Unsupported"
	KindVersionResolutionFailed      Kind = "VersionResolutionFailed"
	KindCompatibilityMismatch        Kind = "CompatibilityMismatch"
	KindTimeout                      Kind = "Timeout"
	KindOffline                      Kind = "Offline"
	KindWebRequestFailed             Kind = "WebRequestFailed"
	KindDownloadFailed               Kind = "DownloadFailed"
	KindDiskFull                     Kind = "DiskFull"
	KindInstallScriptFailed          Kind = "InstallScriptFailed"
	KindNonZeroInstallerExit         Kind = "NonZeroInstallerExit"
	KindInstallValidationFailed      Kind = "InstallValidationFailed"
	KindConflictingInstallTypes      Kind = "ConflictingInstallTypes"
	KindCustomInstallExists          Kind = "CustomInstallExists"
	KindConflictingGlobalWindowsInst Kind = "ConflictingGlobalWindowsInstall"
	KindWSLSecurityError             Kind = "WSLSecurityError"
	KindDistroUnknown                Kind = "DistroUnknown"
	KindRhelUnsupported               Kind = "RhelUnsupported"
	KindCancelled                     Kind = "Cancelled"
)

// Error is the structured error object exposed to callers: it carries
// a Kind, a human message, the installId it concerns (if any) and the
// underlying cause, but never a stack trace. Message is kept as its
// constructor built it; no component removes the OS user name from it.
type Error struct {
	Kind      Kind
	Message   string
	InstallID string
	Cause     error
}

func (e *Error) Error() string {
	if e.InstallID != "" {
		return fmt.Sprintf("%s: %s (installId=%s)", e.Kind, e.Message, e.InstallID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, acquireerr.Sentinel(acquireerr.KindTimeout))
// style comparisons work
// by comparing Kind, since Kind values aren't sentinel errors
// themselves.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind Kind, installID string, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		InstallID: installID,
		Cause:     cause,
	}
}

// Sentinel returns a comparable *Error carrying only a Kind, useful as
// an errors.Is target: errors.Is(err, acquireerr.Sentinel(acquireerr.KindTimeout)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

func InvalidVersion(raw string) *Error {
	return newErr(KindInvalidVersion, "", nil, "%q is not a valid .NET version (expected M, M.m, M.m.Fxx, or M.m.Fpp[-tag])", raw)
}

func Unsupported(installID, reason string) *Error {
	return newErr(KindUnsupported, installID, nil, "%s", reason)
}

func VersionResolutionFailed(raw string, cause error) *Error {
	return newErr(KindVersionResolutionFailed, "", cause, "could not resolve %q to a fully specified version", raw)
}

func CompatibilityMismatch(installID, requested string) *Error {
	return newErr(KindCompatibilityMismatch, installID, nil, "no installed version is compatible with requested %q", requested)
}

func Timeout(installID string, cause error, offline bool) *Error {
	msg := "request timed out"
	if offline {
		msg = "request timed out and the machine appears to be offline"
	}
	return newErr(KindTimeout, installID, cause, "%s", msg)
}

func Offline(cause error) *Error {
	return newErr(KindOffline, "", cause, "the machine appears to be offline")
}

func WebRequestFailed(url string, cause error) *Error {
	return newErr(KindWebRequestFailed, "", cause, "request to %s failed", url)
}

func DownloadFailed(dest string, cause error) *Error {
	return newErr(KindDownloadFailed, "", cause, "download to %s failed", dest)
}

func DiskFull(dest string, cause error) *Error {
	return newErr(KindDiskFull, "", cause, "not enough disk space to write %s", dest)
}

func InstallScriptFailed(installID, output string, cause error) *Error {
	return newErr(KindInstallScriptFailed, installID, cause, "install script failed: %s", output)
}

func NonZeroInstallerExit(installID string, code int) *Error {
	return newErr(KindNonZeroInstallerExit, installID, nil, "installer exited with code %d", code)
}

func InstallValidationFailed(installID, reason string) *Error {
	return newErr(KindInstallValidationFailed, installID, nil, "%s", reason)
}

func ConflictingInstallTypes(installID, path string) *Error {
	return newErr(KindConflictingInstallTypes, installID, nil, "a conflicting install already exists at %s", path)
}

func CustomInstallExists(installID, path string) *Error {
	return newErr(KindCustomInstallExists, installID, nil, "an install not managed by this tool exists at %s", path)
}

func ConflictingGlobalWindowsInstall(installID string) *Error {
	return newErr(KindConflictingGlobalWindowsInst, installID, nil, "elevation was denied or a conflicting global install is present")
}

func WSLSecurityError() *Error {
	return newErr(KindWSLSecurityError, "", nil, "elevated commands are not permitted under WSL")
}

func DistroUnknown() *Error {
	return newErr(KindDistroUnknown, "", nil, "could not determine the Linux distribution")
}

func RhelUnsupported(downloadURL string) *Error {
	return newErr(KindRhelUnsupported, "", nil, "RHEL 7 is not supported; see %s", downloadURL)
}

func Cancelled(installID string) *Error {
	return newErr(KindCancelled, installID, nil, "operation was cancelled")
}
