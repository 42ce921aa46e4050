// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package bus

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/waymark-analytics/waymark/internal/logging"
)

// wmLogger adapts the process zerolog logger to watermill's LoggerAdapter.
type wmLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return wmLogger{}
}

func (l wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	ev := logging.Error().Err(err)
	for k, v := range l.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l wmLogger) Info(msg string, fields watermill.LogFields) {
	ev := logging.Debug()
	for k, v := range l.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l wmLogger) Debug(msg string, fields watermill.LogFields) {
	ev := logging.Debug()
	for k, v := range l.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l wmLogger) Trace(msg string, fields watermill.LogFields) {
	ev := logging.Trace()
	for k, v := range l.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return wmLogger{fields: l.fields.Add(fields)}
}
