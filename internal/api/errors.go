package api

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/pkg/i18n"
)

// codeRateLimited is answered by the limiter, outside the core taxonomy.
const codeRateLimited = "RATE_LIMITED"

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	if errs.CodeOf(err) == errs.Unauthenticated {
		return http.StatusUnauthorized
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindFunds:
		return http.StatusUnprocessableEntity
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody renders err as {"code","error","detail"} in the caller's language.
func (s *Server) errorBody(c *gin.Context, err error) (int, gin.H) {
	if stderrors.Is(err, context.DeadlineExceeded) && errs.CodeOf(err) == errs.Internal {
		err = errs.Wrap(err, errs.Unavailable, "request deadline exceeded")
	}
	status := statusOf(err)
	code := errs.CodeOf(err)
	lang := i18n.ParseAcceptLanguage(c.GetHeader("Accept-Language"))

	body := gin.H{
		"code":  code,
		"error": i18n.ForCode(lang, string(code)),
	}
	if status < http.StatusInternalServerError {
		body["detail"] = errs.Message(err)
		s.log.Info("request rejected", zap.String("path", c.FullPath()),
			zap.String("code", string(code)), zap.String("detail", errs.Message(err)))
	} else {
		s.log.Error("❌ request failed", zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
	}
	return status, body
}

// respond writes err or, when nil, status with v.
func (s *Server) respond(c *gin.Context, status int, v any, err error) {
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(status, v)
}

func badRequest(err error) error {
	return errs.Wrap(err, errs.InvalidArgument, "invalid request payload")
}
