package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
	"time"
)

type level string

const (
	levelDebug level = "DEBUG"
	levelInfo  level = "INFO"
	levelError level = "ERROR"
)

// errObject is the error block attached to ERROR entries.
type errObject struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack"`
}

// entry is the structured log format written as one JSON line to stdout.
type entry struct {
	Timestamp string     `json:"timestamp"`
	Level     level      `json:"level"`
	Service   string     `json:"service"`
	Action    string     `json:"action"`
	Message   string     `json:"message"`
	Hostname  string     `json:"hostname"`
	RequestID string     `json:"request_id"`
	Error     *errObject `json:"error,omitempty"`
	Details   any        `json:"details,omitempty"`
}

// Logger emits structured JSON log lines tagged with the service name.
type Logger struct {
	service  string
	hostname string
}

func NewLogger(service string) *Logger {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Logger{service: service, hostname: hostname}
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// WithRequestID returns a context carrying a request id across HTTP/mq hops.
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestIDKey, rid)
}

// RequestIDFrom extracts the request id, or "" when none was attached.
func RequestIDFrom(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDKey).(string); ok {
		return s
	}
	return ""
}

func (logger *Logger) Debug(ctx context.Context, action, msg string, details any) {
	logger.emit(ctx, levelDebug, action, msg, details, nil)
}

func (logger *Logger) Info(ctx context.Context, action, msg string, details any) {
	logger.emit(ctx, levelInfo, action, msg, details, nil)
}

func (logger *Logger) Error(ctx context.Context, action, msg string, err error) {
	logger.emit(ctx, levelError, action, msg, nil, &errObject{
		Msg:   err.Error(),
		Stack: string(debug.Stack()),
	})
}

func (logger *Logger) emit(ctx context.Context, lvl level, action, msg string, details any, errObj *errObject) {
	b, err := json.Marshal(entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     lvl,
		Service:   logger.service,
		Action:    action,
		Message:   msg,
		Hostname:  logger.hostname,
		RequestID: RequestIDFrom(ctx),
		Error:     errObj,
		Details:   details,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "log marshal failed: %v\n", err)
		return
	}
	fmt.Println(string(b))
}
