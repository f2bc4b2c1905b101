package handler

import (
	"io"
	"net/http"
	"strings"
)

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// sseWriter 写 server-sent events，每个事件写完立即 flush
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: flusher}, true
}

// setSSEHeaders 禁用缓存和代理缓冲
func setSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Data 写一个无名事件
func (s *sseWriter) Data(data string) error {
	return s.Event("", data)
}

// Event 写一个事件；多行数据拆成多个 data 行
func (s *sseWriter) Event(name, data string) error {
	var b strings.Builder
	if name != "" {
		b.WriteString("event: ")
		b.WriteString(name)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(newlines.Replace(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
