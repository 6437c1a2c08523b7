package xjob

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobDataMap 作业/触发器附带的数据。
//
// 持久化时每个值连同类型一起编码，读回后类型与写入时一致。支持的值类型：
// nil、bool、string、各种宽度的整数与浮点数、time.Duration、[]byte、[]string，
// 以及由这些类型构成的 []any、map[string]any 和嵌套的 JobDataMap。
// 其他类型在编码时返回 ErrUnsupportedJobData。
type JobDataMap map[string]any

// Clone 深拷贝，嵌套的 map[string]any 与 []any 同样复制。
func (m JobDataMap) Clone() JobDataMap {
	if m == nil {
		return nil
	}
	out := make(JobDataMap, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		if vv == nil {
			return vv
		}
		out := make(map[string]any, len(vv))
		for k, e := range vv {
			out[k] = cloneValue(e)
		}
		return out
	case JobDataMap:
		return vv.Clone()
	case []any:
		if vv == nil {
			return vv
		}
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	case []byte:
		return append([]byte(nil), vv...)
	default:
		return v
	}
}

// Validate 检查所有值都可以持久化。
func (m JobDataMap) Validate() error {
	_, err := m.encode()
	return err
}

// typedValue 单个值的持久化格式。
type typedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON 以 {"key": {"type": ..., "value": ...}} 形式编码。
func (m JobDataMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	enc, err := m.encode()
	if err != nil {
		return nil, err
	}
	return json.Marshal(enc)
}

func (m JobDataMap) encode() (map[string]typedValue, error) {
	out := make(map[string]typedValue, len(m))
	for k, v := range m {
		tv, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("job data %q: %w", k, err)
		}
		out[k] = tv
	}
	return out, nil
}

// UnmarshalJSON 还原 MarshalJSON 的输出。
func (m *JobDataMap) UnmarshalJSON(data []byte) error {
	var raw map[string]typedValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(JobDataMap, len(raw))
	for k, tv := range raw {
		v, err := decodeValue(tv)
		if err != nil {
			return fmt.Errorf("xjob: job data %q: %w", k, err)
		}
		out[k] = v
	}
	*m = out
	return nil
}

func typed(name string, v any) (typedValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return typedValue{}, fmt.Errorf("%w: %s: %w", ErrUnsupportedJobData, name, err)
	}
	return typedValue{Type: name, Value: data}, nil
}

func encodeValue(v any) (typedValue, error) {
	switch vv := v.(type) {
	case nil:
		return typedValue{Type: "null"}, nil
	case bool:
		return typed("bool", vv)
	case string:
		return typed("string", vv)
	case int:
		return typed("int", vv)
	case int8:
		return typed("int8", vv)
	case int16:
		return typed("int16", vv)
	case int32:
		return typed("int32", vv)
	case int64:
		return typed("int64", vv)
	case uint:
		return typed("uint", vv)
	case uint8:
		return typed("uint8", vv)
	case uint16:
		return typed("uint16", vv)
	case uint32:
		return typed("uint32", vv)
	case uint64:
		return typed("uint64", vv)
	case float32:
		return typed("float32", vv)
	case float64:
		return typed("float64", vv)
	case time.Duration:
		return typed("duration", int64(vv))
	case []byte:
		return typed("bytes", vv)
	case []string:
		return typed("strings", vv)
	case []any:
		if vv == nil {
			return typedValue{Type: "list"}, nil
		}
		list := make([]typedValue, len(vv))
		for i, e := range vv {
			tv, err := encodeValue(e)
			if err != nil {
				return typedValue{}, fmt.Errorf("[%d]: %w", i, err)
			}
			list[i] = tv
		}
		return typed("list", list)
	case JobDataMap:
		if vv == nil {
			return typedValue{Type: "data"}, nil
		}
		enc, err := vv.encode()
		if err != nil {
			return typedValue{}, err
		}
		return typed("data", enc)
	case map[string]any:
		if vv == nil {
			return typedValue{Type: "map"}, nil
		}
		enc, err := JobDataMap(vv).encode()
		if err != nil {
			return typedValue{}, err
		}
		return typed("map", enc)
	default:
		return typedValue{}, fmt.Errorf("%w: %T", ErrUnsupportedJobData, v)
	}
}

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeValue(tv typedValue) (any, error) {
	// 容器类型省略 value 表示 nil
	if len(tv.Value) == 0 {
		switch tv.Type {
		case "list":
			return []any(nil), nil
		case "data":
			return JobDataMap(nil), nil
		case "map":
			return map[string]any(nil), nil
		}
	}
	switch tv.Type {
	case "null":
		return nil, nil
	case "bool":
		return decodeAs[bool](tv.Value)
	case "string":
		return decodeAs[string](tv.Value)
	case "int":
		return decodeAs[int](tv.Value)
	case "int8":
		return decodeAs[int8](tv.Value)
	case "int16":
		return decodeAs[int16](tv.Value)
	case "int32":
		return decodeAs[int32](tv.Value)
	case "int64":
		return decodeAs[int64](tv.Value)
	case "uint":
		return decodeAs[uint](tv.Value)
	case "uint8":
		return decodeAs[uint8](tv.Value)
	case "uint16":
		return decodeAs[uint16](tv.Value)
	case "uint32":
		return decodeAs[uint32](tv.Value)
	case "uint64":
		return decodeAs[uint64](tv.Value)
	case "float32":
		return decodeAs[float32](tv.Value)
	case "float64":
		return decodeAs[float64](tv.Value)
	case "duration":
		var n int64
		if err := json.Unmarshal(tv.Value, &n); err != nil {
			return nil, err
		}
		return time.Duration(n), nil
	case "bytes":
		return decodeAs[[]byte](tv.Value)
	case "strings":
		return decodeAs[[]string](tv.Value)
	case "list":
		var list []typedValue
		if err := json.Unmarshal(tv.Value, &list); err != nil {
			return nil, err
		}
		out := make([]any, len(list))
		for i, e := range list {
			v, err := decodeValue(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	case "data":
		return decodeAs[JobDataMap](tv.Value)
	case "map":
		var m JobDataMap
		if err := json.Unmarshal(tv.Value, &m); err != nil {
			return nil, err
		}
		return map[string]any(m), nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnsupportedJobData, tv.Type)
	}
}
