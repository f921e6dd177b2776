// Package klog adapts a logr.Logger to the logger interfaces of the franz-go
// client and the in-process kfake cluster.
package klog

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Client logs at Warn and above through log. franz-go's info and debug
// output is only forwarded when log is enabled at V(1).
func Client(log logr.Logger) kgo.Logger {
	return &clientLogger{log: log}
}

type clientLogger struct {
	log logr.Logger
}

func (l *clientLogger) Level() kgo.LogLevel {
	if l.log.GetSink() == nil {
		return kgo.LogLevelNone
	}
	if l.log.V(1).Enabled() {
		return kgo.LogLevelDebug
	}
	return kgo.LogLevelWarn
}

func (l *clientLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	switch level {
	case kgo.LogLevelError:
		l.log.Error(nil, msg, keyvals...)
	case kgo.LogLevelWarn:
		l.log.Info(msg, keyvals...)
	case kgo.LogLevelInfo:
		l.log.V(1).Info(msg, keyvals...)
	default:
		l.log.V(2).Info(msg, keyvals...)
	}
}

// Cluster returns a kfake logger writing through log.
func Cluster(log logr.Logger) kfake.Logger {
	return &clusterLogger{log: log}
}

type clusterLogger struct {
	log logr.Logger
}

func (l *clusterLogger) Logf(level kfake.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case kfake.LogLevelError:
		l.log.Error(nil, msg)
	case kfake.LogLevelWarn:
		l.log.Info(msg)
	case kfake.LogLevelInfo:
		l.log.V(1).Info(msg)
	default:
		l.log.V(2).Info(msg)
	}
}
