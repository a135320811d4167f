package logging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PrettyJSONHandler is a slog.Handler that writes each record as one
// indented JSON object. It is meant for a terminal, not for log shippers.
type PrettyJSONHandler struct {
	w    io.Writer
	mu   *sync.Mutex
	opts slog.HandlerOptions

	// attrs are pre-rendered WithAttrs values, already nested under the
	// groups that were open when they were added.
	attrs  map[string]any
	groups []string
}

func NewPrettyJSONHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyJSONHandler {
	h := &PrettyJSONHandler{w: w, mu: &sync.Mutex{}, attrs: map[string]any{}}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

func (h *PrettyJSONHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *PrettyJSONHandler) Handle(_ context.Context, r slog.Record) error {
	payload := cloneMap(h.attrs)

	when := r.Time
	if when.IsZero() {
		when = time.Now()
	}
	h.put(payload, nil, slog.Time(slog.TimeKey, when))
	h.put(payload, nil, slog.String(slog.LevelKey, r.Level.String()))
	h.put(payload, nil, slog.String(slog.MessageKey, r.Message))
	if h.opts.AddSource {
		if src := sourceFromPC(r.PC); src != "" {
			h.put(payload, nil, slog.String(slog.SourceKey, src))
		}
	}

	dst := descend(payload, h.groups)
	r.Attrs(func(a slog.Attr) bool {
		h.put(dst, h.groups, a)
		return true
	})

	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		b = []byte(`{"time":` + strconv.Quote(when.Format(time.RFC3339Nano)) +
			`,"level":` + strconv.Quote(r.Level.String()) +
			`,"msg":` + strconv.Quote(r.Message) + `}`)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(append(b, '\n'))
	return err
}

func (h *PrettyJSONHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = cloneMap(h.attrs)
	dst := descend(clone.attrs, h.groups)
	for _, a := range attrs {
		clone.put(dst, h.groups, a)
	}
	return &clone
}

func (h *PrettyJSONHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// put stores a into dst after ReplaceAttr. Group values become nested maps.
func (h *PrettyJSONHandler) put(dst map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() != slog.KindGroup && h.opts.ReplaceAttr != nil {
		a = h.opts.ReplaceAttr(groups, a)
		a.Value = a.Value.Resolve()
	}
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		members := a.Value.Group()
		if len(members) == 0 {
			return
		}
		child := dst
		inner := groups
		if a.Key != "" {
			m, ok := dst[a.Key].(map[string]any)
			if !ok {
				m = map[string]any{}
				dst[a.Key] = m
			}
			child = m
			inner = append(append([]string(nil), groups...), a.Key)
		}
		for _, ga := range members {
			h.put(child, inner, ga)
		}
		return
	}

	dst[a.Key] = valueToAny(a.Value)
}

func descend(root map[string]any, groups []string) map[string]any {
	dst := root
	for _, g := range groups {
		m, ok := dst[g].(map[string]any)
		if !ok {
			m = map[string]any{}
			dst[g] = m
		}
		dst = m
	}
	return dst
}

func cloneMap(src map[string]any) map[string]any {
	out := make(map[string]any, len(src)+4)
	for k, v := range src {
		if m, ok := v.(map[string]any); ok {
			out[k] = cloneMap(m)
			continue
		}
		out[k] = v
	}
	return out
}

func valueToAny(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case json.Marshaler:
			return x
		case interface{ String() string }:
			return x.String()
		}
		return v.Any()
	default:
		return v.String()
	}
}

func sourceFromPC(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	if f.File == "" {
		return ""
	}
	file := f.File
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		file = file[idx+1:]
	}
	return file + ":" + strconv.Itoa(f.Line)
}
