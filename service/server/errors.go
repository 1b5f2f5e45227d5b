package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/revit3d/WebEnsemble/pkg/errors"
	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/service/storage"
	"github.com/revit3d/WebEnsemble/service/tasks"
)

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	var (
		notFitted   *errors.NotFittedError
		unsupported *errors.UnsupportedFeatureError
		dataErr     *errors.DataError
		validation  *errors.ValidationError
		dimension   *errors.DimensionError
	)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &notFitted):
		return http.StatusConflict
	case errors.As(err, &unsupported):
		return http.StatusNotImplemented
	case errors.As(err, &dataErr), errors.As(err, &validation), errors.As(err, &dimension):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tasks.ErrQueueFull), errors.Is(err, tasks.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", log.RouteKey, c.FullPath(), log.ErrAttrKey, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
