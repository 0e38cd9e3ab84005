package engine

import (
	"errors"
	"fmt"

	"rush_engine/internal/model"
)

// ErrConfig is the parent of every configuration problem that prevents a run.
var ErrConfig = errors.New("config error")

var (
	ErrMissingRegion       = fmt.Errorf("%w: missing region", ErrConfig)
	ErrEmptyCatalog        = fmt.Errorf("%w: empty catalog", ErrConfig)
	ErrEnvironmentNotReady = errors.New("environment not ready")
	ErrNoEligibleTargets   = errors.New("no eligible targets")
	ErrAlreadyRunning      = errors.New("engine already running")
	ErrInvalidRegion       = model.ErrInvalidRegion
)

var errCaptureFailed = errors.New("capture failed")
