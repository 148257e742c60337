package api

import (
	"errors"
	"net/http"

	"mediaflow/internal/jobs"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/stageexec"
)

// StatusCode maps a service error onto an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, stageexec.ErrStageNotInJob):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrInvalidJob),
		errors.Is(err, jobs.ErrDuplicateStage),
		errors.Is(err, pipeline.ErrUnknownStage),
		errors.Is(err, ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrInvalidTransition),
		errors.Is(err, jobs.ErrVersionConflict),
		errors.Is(err, stageexec.ErrJobCancelled),
		errors.Is(err, stageexec.ErrJobFinished),
		errors.Is(err, stageexec.ErrStageNotFinished):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
