package xjobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
	"github.com/omeyang/xsched/pkg/storage/xdmap"
)

// codecMap 在 xdmap.Map 之上按类型编解码。每次读取都得到独立的新值。
type codecMap[T any] struct {
	m      xdmap.Map
	encode func(T) ([]byte, error)
	decode func([]byte) (T, error)
}

func (c codecMap[T]) get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	data, err := c.m.Get(ctx, key)
	if errors.Is(err, xdmap.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	v, err := c.decode(data)
	if err != nil {
		return zero, false, fmt.Errorf("xjobstore: decode %s/%s: %w", c.m.Name(), key, err)
	}
	return v, true, nil
}

func (c codecMap[T]) set(ctx context.Context, key string, v T) error {
	data, err := c.encode(v)
	if err != nil {
		return fmt.Errorf("xjobstore: encode %s/%s: %w", c.m.Name(), key, err)
	}
	return c.m.Set(ctx, key, data)
}

// all 返回全部值，单个值解码失败时返回错误。
func (c codecMap[T]) all(ctx context.Context) (map[string]T, error) {
	entries, err := c.m.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(entries))
	for k, data := range entries {
		v, err := c.decode(data)
		if err != nil {
			return nil, fmt.Errorf("xjobstore: decode %s/%s: %w", c.m.Name(), k, err)
		}
		out[k] = v
	}
	return out, nil
}

func newJobMap(m xdmap.Map) codecMap[*xjob.JobDetail] {
	return codecMap[*xjob.JobDetail]{
		m: m,
		encode: func(j *xjob.JobDetail) ([]byte, error) {
			return json.Marshal(j)
		},
		decode: func(data []byte) (*xjob.JobDetail, error) {
			j := new(xjob.JobDetail)
			if err := json.Unmarshal(data, j); err != nil {
				return nil, err
			}
			return j, nil
		},
	}
}

func newTriggerMap(m xdmap.Map) codecMap[TriggerWrapper] {
	return codecMap[TriggerWrapper]{m: m, encode: encodeWrapper, decode: decodeWrapper}
}

func newCalendarMap(m xdmap.Map) codecMap[xjob.Calendar] {
	return codecMap[xjob.Calendar]{m: m, encode: xjob.MarshalCalendar, decode: xjob.UnmarshalCalendar}
}
