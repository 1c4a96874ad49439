package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// errorBody is the JSON error envelope every endpoint returns on failure.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusOf maps the error taxonomy to HTTP status codes. The mapping lives
// here and nowhere else; components never reason about HTTP.
func statusOf(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusUnprocessableEntity
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindPrecondition:
		return http.StatusBadRequest
	case errs.KindUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	case errs.KindConfig:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// abortWithError renders err through the taxonomy. Internal failures get a
// generic message so internal detail stays in the logs.
func (s *Server) abortWithError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := statusOf(kind)

	msg := err.Error()
	if kind == errs.KindInternal {
		s.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{
		Kind:    string(kind),
		Message: msg,
	}})
}

// abortValidation renders a request-shape failure as 400 without routing it
// through the taxonomy, for malformed JSON and bad query parameters.
func abortValidation(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: errorDetail{
		Kind:    string(errs.KindValidation),
		Message: err.Error(),
	}})
}
