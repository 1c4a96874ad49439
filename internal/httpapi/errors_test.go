package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		kind errs.Kind
		want int
	}{
		{errs.KindValidation, http.StatusUnprocessableEntity},
		{errs.KindNotFound, http.StatusNotFound},
		{errs.KindConflict, http.StatusConflict},
		{errs.KindPrecondition, http.StatusBadRequest},
		{errs.KindUnavailable, http.StatusServiceUnavailable},
		{errs.KindTimeout, http.StatusGatewayTimeout},
		{errs.KindConfig, http.StatusBadRequest},
		{errs.KindInternal, http.StatusInternalServerError},
		{errs.Kind("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.kind))
		})
	}
}
