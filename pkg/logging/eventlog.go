// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"fmt"
	"sync"

	"github.com/AleutianAI/dynexp/pkg/util"
	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

var (
	eventLogMu sync.RWMutex
	eventLog   *Logger
)

// EventLog returns the process-wide event log. If none was installed with
// SetEventLog, a Default() logger is created on first use.
func EventLog() *Logger {
	eventLogMu.RLock()
	l := eventLog
	eventLogMu.RUnlock()
	if l != nil {
		return l
	}

	eventLogMu.Lock()
	defer eventLogMu.Unlock()
	if eventLog == nil {
		eventLog = Default()
	}
	return eventLog
}

// SetEventLog installs l as the process-wide event log and returns the
// previous one, which may be nil. The caller owns both loggers.
func SetEventLog(l *Logger) *Logger {
	eventLogMu.Lock()
	defer eventLogMu.Unlock()
	prev := eventLog
	eventLog = l
	return prev
}

// OpenLogFile binds the logger to an HTML event log at path, truncating
// it. A file opened before is finished and closed.
func (l *Logger) OpenLogFile(path string) error {
	if err := l.res.html.open(expandPath(path)); err != nil {
		return exception.FileIO(err, "opening HTML event log %s", path)
	}
	return nil
}

// CloseLogFile writes the footer of the HTML event log and closes it.
// Without an open file it does nothing.
func (l *Logger) CloseLogFile() error {
	if err := l.res.html.close(); err != nil {
		return exception.FileIO(err, "closing HTML event log")
	}
	return nil
}

// LogFilePath returns the path of the open HTML event log, "" if none.
func (l *Logger) LogFilePath() string {
	return l.res.html.currentPath()
}

// LogError logs err at the level matching its severity, with kind, code,
// source location and, for errors that stop an Object, the stack trace.
// Foreign errors are logged at Error level. A nil err is ignored.
func (l *Logger) LogError(err error, args ...any) {
	if err == nil {
		return
	}
	defer util.RecoverPanic(nil)()

	level := levelForSeverity(exception.SeverityOf(err))
	attrs := append([]any{}, args...)
	attrs = append(attrs,
		"kind", exception.KindOf(err).String(),
		attrCode, exception.CodeOf(err),
	)
	if e, ok := exception.As(err); ok {
		attrs = append(attrs, attrLocation, e.Location.String())
		if e.Origin != "" {
			attrs = append(attrs, "origin", e.Origin)
		}
		if !e.Severity.Recoverable() && len(e.StackTrace()) > 0 {
			attrs = append(attrs, attrStack, fmt.Sprintf("%+v", e.StackTrace()))
		}
	}
	l.log(level, err.Error(), attrs...)
}

func levelForSeverity(s exception.Severity) Level {
	switch s {
	case exception.SeverityInfo:
		return LevelInfo
	case exception.SeverityWarning:
		return LevelWarn
	default:
		return LevelError
	}
}
