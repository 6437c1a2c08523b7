package xjob

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobDataMapRoundTripKeepsTypes(t *testing.T) {
	data := JobDataMap{
		"count":    3,
		"small":    int8(-4),
		"offset":   int64(1 << 60),
		"mask":     uint64(1<<64 - 1),
		"flag":     uint8(7),
		"ratio":    0.5,
		"weight":   float32(1.25),
		"name":     "nightly",
		"enabled":  true,
		"none":     nil,
		"interval": 90 * time.Second,
		"payload":  []byte{0, 1, 2},
		"tags":     []string{"a", "b"},
		"list":     []any{1, "x", []any{int32(2)}},
		"nested":   map[string]any{"retries": 5, "inner": map[string]any{"id": uint(9)}},
		"sub":      JobDataMap{"n": int16(12)},
		"emptyMap": map[string]any{},
		"nilList":  []any(nil),
		"nilSub":   JobDataMap(nil),
	}

	raw, err := json.Marshal(data)
	require.NoError(t, err)

	var got JobDataMap
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, data, got)
}

func TestJobDataMapNilAndEmpty(t *testing.T) {
	raw, err := json.Marshal(JobDataMap(nil))
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))

	var got JobDataMap
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Nil(t, got)

	raw, err = json.Marshal(JobDataMap{})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestJobDetailRoundTrip(t *testing.T) {
	job := NewJobDetail(NewJobKeyWithGroup("j", "etl"), "report.Render")
	job.JobData = JobDataMap{"count": 3, "nested": map[string]any{"ids": []any{1, 2}}}

	raw, err := json.Marshal(job)
	require.NoError(t, err)

	got := new(JobDetail)
	require.NoError(t, json.Unmarshal(raw, got))
	assert.Equal(t, job, got)
}

func TestJobDataMapUnsupported(t *testing.T) {
	type point struct{ X, Y int }

	tests := []struct {
		name string
		data JobDataMap
	}{
		{"struct", JobDataMap{"p": point{1, 2}}},
		{"time", JobDataMap{"at": time.Now()}},
		{"nested struct", JobDataMap{"m": map[string]any{"p": &point{}}}},
		{"list struct", JobDataMap{"l": []any{point{}}}},
		{"int map", JobDataMap{"m": map[string]int{"a": 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.data.Validate(), ErrUnsupportedJobData)
			_, err := json.Marshal(tt.data)
			assert.ErrorIs(t, err, ErrUnsupportedJobData)
		})
	}

	assert.NoError(t, JobDataMap{"n": 1}.Validate())
	assert.NoError(t, JobDataMap(nil).Validate())
}

func TestJobDataMapUnknownType(t *testing.T) {
	var got JobDataMap
	err := json.Unmarshal([]byte(`{"k":{"type":"complex128","value":1}}`), &got)
	assert.ErrorIs(t, err, ErrUnsupportedJobData)
}
