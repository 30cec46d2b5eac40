package domain

import "errors"

var (
	ErrValidation    = errors.New("validation error")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")

	// ErrInProgress guards workspaces whose tool run has not finished.
	ErrInProgress = errors.New("lifecycle operation in progress")

	// ErrManifestNotFound is returned by the pre-flight check before the tool is spawned.
	ErrManifestNotFound = errors.New("PinFile not found. Please check that it exists or specify pinfile_path in request")
	// ErrToolFailure covers non-zero exits and missing run artifacts.
	ErrToolFailure = errors.New("external tool failure")
	// ErrEmptyWorkspace is recorded when a fetch produced nothing on disk.
	ErrEmptyWorkspace = errors.New("only public repositories can be used as fetch URLs")
	ErrStorage        = errors.New("storage error")

	ErrCredentialMissing    = errors.New("API key is missing")
	ErrCredentialInvalid    = errors.New("API key is invalid")
	ErrAuthenticationFailed = errors.New("invalid username or password")
)
