package decode

import (
	"encoding/json"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 宽松解码（默认 true）："123" -> int、1.0 -> int 等。
	WeaklyTypedInput bool
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
	}
}

// Into decodes a loosely typed payload map onto a copy of def and returns it.
// Fields missing from m keep the values already set in def, so def doubles as the
// default-value table for the target type. A decode failure never surfaces: the
// caller gets whatever was decoded before the failure on top of def.
func Into[T any](m map[string]any, def T, opts ...Options) T {
	out := def
	if len(m) == 0 {
		return out
	}
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			jsonRawStringToMapHook(),
		),
	})
	if err != nil {
		return def
	}
	_ = dec.Decode(m)
	return out
}

// -----------------------------
// 基础读取工具
// -----------------------------

// String 读取 string 字段，缺失或类型不符时返回 def。
func String(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

// Int 读取整数字段（兼容 float64 / int / json.Number / 数字字符串），浮点直接截断。
func Int(m map[string]any, key string, def int) int {
	n, ok := toInt64(m[key])
	if !ok {
		return def
	}
	return int(n)
}

// Int64 同 Int，返回 int64。
func Int64(m map[string]any, key string, def int64) int64 {
	n, ok := toInt64(m[key])
	if !ok {
		return def
	}
	return n
}

// Float 读取浮点字段。
func Float(m map[string]any, key string, def float64) float64 {
	switch t := m[key].(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return def
}

// Bool 读取 bool 字段。
func Bool(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

// Map 读取嵌套对象，缺失时返回空 map（非 nil）。
func Map(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

// Maps 读取对象数组，跳过非对象元素。
func Maps(m map[string]any, key string) []map[string]any {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, it := range arr {
		if mm, ok := it.(map[string]any); ok {
			out = append(out, mm)
		}
	}
	return out
}

// Strings 读取字符串数组（兼容 []any）。
func Strings(m map[string]any, key string) []string {
	arr, ok := m[key].([]any)
	if !ok {
		if ss, ok := m[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, it := range arr {
		switch s := it.(type) {
		case string:
			out = append(out, s)
		case json.Number:
			out = append(out, s.String())
		default:
			b, _ := json.Marshal(s)
			out = append(out, string(b))
		}
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case float32:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

// -----------------------------
// Decode Hooks
// -----------------------------

// floatToIntHook：float64 -> int / int32 / int64，截断不四舍五入。
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}

// jsonRawStringToMapHook：嵌套的 JSON 字符串 -> map[string]any。
func jsonRawStringToMapHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Map {
			return data, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(data.(string)), &m); err == nil {
			return m, nil
		}
		return data, nil
	}
}
