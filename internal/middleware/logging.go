// internal/middleware/logging.go

package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// statusRecorder remembers the status code written through it. It passes
// Hijack and Flush through so websocket upgrades and streamed replies work.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// LogMiddleware is an HTTP middleware that logs incoming requests using Logrus.
// Logs the method, path, status and duration of each request.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			fields := logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}
			if rec.status >= http.StatusInternalServerError {
				logger.WithFields(fields).Warn("HTTP Request")
				return
			}
			logger.WithFields(fields).Info("HTTP Request")
		})
	}
}

// LogWebSocketConnect logs a player's channel opening.
func LogWebSocketConnect(logger *logrus.Logger, remoteAddr, session, identity string) {
	logger.WithFields(logrus.Fields{
		"remote":   remoteAddr,
		"session":  session,
		"identity": identity,
	}).Info("WebSocket connected")
}

// LogWebSocketDisconnect logs a player's channel closing.
func LogWebSocketDisconnect(logger *logrus.Logger, remoteAddr, session, identity string, err error) {
	fields := logrus.Fields{
		"remote":   remoteAddr,
		"session":  session,
		"identity": identity,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("WebSocket disconnected")
}
