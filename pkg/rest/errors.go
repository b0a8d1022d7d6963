package rest

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/edgeflare/restless/pkg/backend"
	"github.com/edgeflare/restless/pkg/httputil"
	"github.com/edgeflare/restless/pkg/metrics"
	"github.com/edgeflare/restless/pkg/validation"
	"go.uber.org/zap"
)

// Response messages.
const (
	MsgNoResult         = "No result found"
	MsgMultipleResults  = "Multiple results found"
	MsgSearchValidation = "Validation of search query failed"
	MsgValidation       = "Validation error"
	MsgDatabase         = "Database query error"
)

func countError(collection, reason string) {
	metrics.APIErrors.WithLabelValues(collection, reason).Inc()
}

// writeError maps err onto a response. validationMsg is the message sent
// with the error list of a *validation.AggregateError.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, validationMsg string) {
	if agg, ok := validation.AsAggregate(err); ok {
		countError(a.collection, "validation")
		httputil.ErrorList(w, http.StatusBadRequest, validationMsg, agg.Messages())
		return
	}

	var fnErr *backend.FunctionEvaluationError
	if errors.As(err, &fnErr) {
		countError(a.collection, "function")
		resp := httputil.ErrorResponse{Field: fnErr.Field, Function: fnErr.Function}
		if fnErr.Field != "" {
			resp.Message = fmt.Sprintf("No such field %q", fnErr.Field)
		} else {
			resp.Message = fmt.Sprintf("No such function %q", fnErr.Function)
		}
		httputil.JSON(w, http.StatusBadRequest, resp)
		return
	}

	switch {
	case errors.Is(err, backend.ErrNoResultFound):
		countError(a.collection, "not_found")
		httputil.Error(w, http.StatusNotFound, MsgNoResult)
	case errors.Is(err, backend.ErrMultipleResultsFound):
		countError(a.collection, "multiple")
		httputil.Error(w, http.StatusBadRequest, MsgMultipleResults)
	default:
		countError(a.collection, "database")
		httputil.Logger(r).Error("request failed",
			zap.String("collection", a.collection),
			zap.String("method", r.Method),
			zap.Error(err))
		httputil.Error(w, http.StatusInternalServerError, MsgDatabase)
	}
}

func (a *API) decodeFailed(w http.ResponseWriter, r *http.Request, err error) {
	countError(a.collection, "decode")
	httputil.Logger(r).Debug("undecodable request", zap.String("collection", a.collection), zap.Error(err))
	httputil.Error(w, http.StatusBadRequest, httputil.MsgDecodeFailed)
}
