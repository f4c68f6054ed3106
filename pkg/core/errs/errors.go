// Package errs defines the failure taxonomy shared by the pipeline stages.
//
// Failures scoped to one candidate, document or year are recovered by the pipeline
// and recorded; only whole-run conditions are returned to the caller as a StageError.
package errs

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrDiscoveryFailure: no qualifying candidate links were found. Terminal.
	ErrDiscoveryFailure = eris.New("no annual report candidates found")
	// ErrResolutionFailure: a viewer link could not be turned into a direct URL.
	ErrResolutionFailure = eris.New("viewer link could not be resolved")
	// ErrDownloadFailure: network, content-type or size problem while downloading.
	ErrDownloadFailure = eris.New("document download failed")
	// ErrExtractionUnreadable: extracted text is too short to hold statements.
	ErrExtractionUnreadable = eris.New("document text unreadable")
	// ErrAuthentication: the extraction service rejected the credentials. Terminal.
	ErrAuthentication = eris.New("extraction service authentication failed")
	// ErrRateLimit: the extraction service throttled the call. Retryable by the caller.
	ErrRateLimit = eris.New("extraction service rate limited")
	// ErrMalformedResponse: the service answer did not contain the expected object.
	ErrMalformedResponse = eris.New("malformed extraction response")
	// ErrExtractionService: any other extraction service failure (timeouts, 5xx).
	ErrExtractionService = eris.New("extraction service call failed")
	// ErrConsolidationEmpty: no year was extracted successfully. Terminal.
	ErrConsolidationEmpty = eris.New("no fiscal year extracted successfully")
	// ErrRunInProgress: another run for the same company holds the lock.
	ErrRunInProgress = eris.New("a run for this company is already in progress")
)

// Stage identifies a pipeline stage.
type Stage string

const (
	StageDiscovery     Stage = "discovery"
	StageResolution    Stage = "resolution"
	StageDownload      Stage = "download"
	StageTextExtract   Stage = "text_extraction"
	StageExtraction    Stage = "extraction"
	StageConsolidation Stage = "consolidation"
	StageExport        Stage = "export"
	StageLock          Stage = "lock"
)

// StageError reports which stage ended a run and why.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// AtStage wraps err with its stage. A nil err stays nil.
func AtStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage recorded on err, or "" when there is none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// IsTerminal reports whether err ends the whole run rather than one unit of work.
func IsTerminal(err error) bool {
	return eris.Is(err, ErrDiscoveryFailure) ||
		eris.Is(err, ErrAuthentication) ||
		eris.Is(err, ErrConsolidationEmpty) ||
		eris.Is(err, ErrRunInProgress)
}

// Kind returns a short machine-readable name for the failure class of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case eris.Is(err, ErrDiscoveryFailure):
		return "DiscoveryFailure"
	case eris.Is(err, ErrResolutionFailure):
		return "ResolutionFailure"
	case eris.Is(err, ErrDownloadFailure):
		return "DownloadFailure"
	case eris.Is(err, ErrExtractionUnreadable):
		return "ExtractionUnreadable"
	case eris.Is(err, ErrAuthentication):
		return "Authentication"
	case eris.Is(err, ErrRateLimit):
		return "RateLimit"
	case eris.Is(err, ErrMalformedResponse):
		return "MalformedResponse"
	case eris.Is(err, ErrExtractionService):
		return "ExtractionServiceError"
	case eris.Is(err, ErrConsolidationEmpty):
		return "ConsolidationEmpty"
	case eris.Is(err, ErrRunInProgress):
		return "RunInProgress"
	}
	return "Unknown"
}
