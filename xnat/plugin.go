package xnat

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type ctxKey string

const reqTime ctxKey = "request_time_start"

type requestLogger struct {
	logger *zap.Logger
}

// NewRequestLogger returns a heimdall plugin logging every request with its
// status and duration.
func NewRequestLogger(logger *zap.Logger) *requestLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &requestLogger{logger: logger}
}

func (rl *requestLogger) OnRequestStart(req *http.Request) {
	ctx := context.WithValue(req.Context(), reqTime, time.Now())
	*req = *(req.WithContext(ctx))
}

func (rl *requestLogger) OnRequestEnd(req *http.Request, res *http.Response) {
	rl.logger.Debug("xnat request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", res.StatusCode),
		zap.Duration("took", elapsed(req)))
}

func (rl *requestLogger) OnError(req *http.Request, err error) {
	rl.logger.Warn("xnat request failed",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Duration("took", elapsed(req)),
		zap.Error(err))
}

func elapsed(req *http.Request) time.Duration {
	start, ok := req.Context().Value(reqTime).(time.Time)
	if !ok {
		return 0
	}
	return time.Since(start)
}
