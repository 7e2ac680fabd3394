// Package out renders command results for the terminal.
package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/ggonzalez94/chatswap/internal/model"
)

type Options struct {
	// Mode is "json" or "plain".
	Mode        string
	Fields      []string
	ResultsOnly bool
}

// ParseFields splits a --select value.
func ParseFields(v string) []string {
	var fields []string
	for _, part := range strings.Split(v, ",") {
		if f := strings.TrimSpace(part); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

func Render(w io.Writer, env model.Envelope, opts Options) error {
	data := env.Data
	if len(opts.Fields) > 0 {
		data = project(data, opts.Fields)
	}

	if opts.Mode != "plain" {
		var v any = data
		if !opts.ResultsOnly {
			env.Data = data
			v = env
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	if opts.ResultsOnly {
		return renderPlain(w, data)
	}
	if env.Error != nil {
		_, err := fmt.Fprintf(w, "error %s (%d): %s\n", env.Error.Type, env.Error.Code, env.Error.Message)
		return err
	}
	return renderPlain(w, data)
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
	if v.Len() == 0 {
		_, err := fmt.Fprintln(w, "(none)")
		return err
	}
	for i := 0; i < v.Len(); i++ {
		line, err := toLine(normalizeValue(v.Index(i).Interface()))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func project(data any, fields []string) any {
	switch t := normalizeValue(data).(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, projectMap(m, fields))
			}
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return t
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return out
}

// normalizeValue round-trips v through JSON so struct tags drive field names.
func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
	keys := make([]string, 0, len(m))
	for k, val := range m {
		if val == nil || val == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " "), nil
}
