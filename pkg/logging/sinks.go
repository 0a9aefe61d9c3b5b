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
	"context"
	"fmt"
	"html"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/dynexp/pkg/util"
)

// entrySink receives fully resolved log entries.
type entrySink interface {
	write(entry LogEntry) error
}

// entryHandler converts slog records into LogEntry values for a sink.
type entryHandler struct {
	sink   entrySink
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

func newEntryHandler(sink entrySink, level slog.Leveler) *entryHandler {
	return &entryHandler{sink: sink, level: level}
}

func (h *entryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *entryHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{
		Timestamp: r.Time,
		Level:     levelFromSlog(r.Level),
		Message:   r.Message,
		Attrs:     make(map[string]any, len(h.attrs)+r.NumAttrs()),
	}
	for _, a := range h.attrs {
		addAttr(entry.Attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(entry.Attrs, h.prefix, a)
		return true
	})
	if svc, ok := entry.Attrs["service"].(string); ok {
		entry.Service = svc
		delete(entry.Attrs, "service")
	}
	return h.sink.write(entry)
}

func (h *entryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *entryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			addAttr(dst, p, ga)
		}
		return
	}
	dst[prefix+a.Key] = a.Value.Any()
}

// =============================================================================
// History
// =============================================================================

// historySink keeps the most recent entries.
type historySink struct {
	ring *util.RingBuffer[LogEntry]
}

func (s *historySink) write(entry LogEntry) error {
	s.ring.Push(entry)
	return nil
}

// =============================================================================
// HTML Event Log
// =============================================================================

const htmlHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>DynExp event log</title>
<style>
body { font-family: sans-serif; font-size: 10pt; }
table { border-collapse: collapse; width: 100%%; }
td, th { border: 1px solid #ccc; padding: 2px 6px; vertical-align: top; text-align: left; }
.debug { color: #888888; } .info { color: #000000; } .warn { color: #c07000; } .error { color: #c00000; font-weight: bold; }
pre { margin: 0; font-size: 8pt; }
</style>
</head>
<body>
<h1>DynExp event log</h1>
<p>Opened %s</p>
<table>
<tr><th>Time</th><th>Level</th><th>Message</th><th>Origin</th><th>Code</th><th>Details</th></tr>
`

const htmlFooter = `</table>
<p>Closed %s</p>
</body>
</html>
`

// htmlSink writes entries as table rows to an HTML file. Without an open
// file it discards entries.
type htmlSink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

func (s *htmlSink) open(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, htmlHeader, html.EscapeString(time.Now().Format(time.RFC3339))); err != nil {
		_ = f.Close()
		return err
	}

	s.mu.Lock()
	prev := s.file
	s.file = f
	s.path = path
	s.mu.Unlock()

	if prev != nil {
		_ = finishHTML(prev)
	}
	return nil
}

func (s *htmlSink) close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.path = ""
	s.mu.Unlock()

	if f == nil {
		return nil
	}
	return finishHTML(f)
}

func (s *htmlSink) currentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func finishHTML(f *os.File) error {
	_, werr := fmt.Fprintf(f, htmlFooter, html.EscapeString(time.Now().Format(time.RFC3339)))
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

func (s *htmlSink) write(entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	_, err := s.file.WriteString(formatHTMLRow(entry))
	return err
}

// Attribute keys rendered in dedicated columns.
const (
	attrLocation = "location"
	attrCode     = "code"
	attrStack    = "stack"
	attrObject   = "object"
)

func formatHTMLRow(entry LogEntry) string {
	var b strings.Builder
	class := strings.ToLower(entry.Level.String())

	b.WriteString(`<tr class="`)
	b.WriteString(class)
	b.WriteString(`"><td>`)
	b.WriteString(html.EscapeString(entry.Timestamp.Format("2006-01-02 15:04:05.000")))
	b.WriteString(`</td><td>`)
	b.WriteString(entry.Level.String())
	b.WriteString(`</td><td>`)
	if obj, ok := entry.Attrs[attrObject]; ok {
		b.WriteString(html.EscapeString(fmt.Sprintf("[%v] ", obj)))
	}
	b.WriteString(html.EscapeString(entry.Message))
	b.WriteString(`</td><td>`)
	if loc, ok := entry.Attrs[attrLocation]; ok {
		b.WriteString(html.EscapeString(fmt.Sprint(loc)))
	}
	b.WriteString(`</td><td>`)
	if code, ok := entry.Attrs[attrCode]; ok {
		b.WriteString(html.EscapeString(fmt.Sprint(code)))
	}
	b.WriteString(`</td><td>`)

	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		switch k {
		case attrLocation, attrCode, attrStack, attrObject:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(html.EscapeString(fmt.Sprintf("%s=%v", k, entry.Attrs[k])))
	}
	if stack, ok := entry.Attrs[attrStack]; ok {
		b.WriteString(`<pre>`)
		b.WriteString(html.EscapeString(fmt.Sprint(stack)))
		b.WriteString(`</pre>`)
	}
	b.WriteString("</td></tr>\n")
	return b.String()
}
