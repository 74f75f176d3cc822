package log

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-logr/logr"
)

// WatermillLogger routes watermill's router and pub/sub logs into logr.
type WatermillLogger struct {
	l logr.Logger
}

// NewWatermillLogger wraps the global logger under the "watermill" name.
func NewWatermillLogger() watermill.LoggerAdapter {
	return &WatermillLogger{l: logger.WithName("watermill")}
}

func (w *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.l.Error(err, msg, flatten(fields)...)
}

func (w *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	w.l.Info(msg, flatten(fields)...)
}

func (w *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.l.V(1).Info(msg, flatten(fields)...)
}

func (w *WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.l.V(2).Info(msg, flatten(fields)...)
}

func (w *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{l: w.l.WithValues(flatten(fields)...)}
}

func flatten(fields watermill.LogFields) []interface{} {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return kv
}
