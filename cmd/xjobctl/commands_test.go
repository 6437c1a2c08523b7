package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
	"github.com/omeyang/xsched/pkg/distributed/xjobstore"
)

// testEnv 基于 miniredis 的存储与对应的配置文件。
type testEnv struct {
	configPath string
	store      *xjobstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)

	path := filepath.Join(t.TempDir(), "store.yaml")
	cfg := fmt.Sprintf(`instanceName: ops
backend:
  type: redis
  healthAttempts: 1
  redis:
    addrs: ["%s"]
    lockRetryDelay: 5ms
log:
  level: error
`, mr.Addr())
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loaded, err := xjobstore.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	ctx := context.Background()
	s, err := xjobstore.Open(ctx, loaded)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Initialize(ctx, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	start := time.Now().Add(time.Hour)
	seed := []struct {
		job, jobGroup, trigger, triggerGroup string
	}{
		{"report", "reports", "nightly", "reports"},
		{"cleanup", "", "hourly", "batch-a"},
	}
	for _, sd := range seed {
		job := xjob.NewJobDetail(xjob.NewJobKeyWithGroup(sd.job, sd.jobGroup), "noop")
		trigger := xjob.NewSimpleTrigger(xjob.NewTriggerKeyWithGroup(sd.trigger, sd.triggerGroup), job.Key,
			time.Hour, xjob.RepeatIndefinitely, xjob.WithStartTime(start))
		if err := s.StoreJobAndTrigger(ctx, job, trigger); err != nil {
			t.Fatalf("StoreJobAndTrigger(%s): %v", sd.job, err)
		}
	}
	return &testEnv{configPath: path, store: s}
}

// run 执行一条命令，返回标准输出。
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runApp(t, append([]string{"-c", e.configPath}, args...)...)
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := createApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(context.Background(), append([]string{"xjobctl"}, args...))
	return out.String(), err
}

func (e *testEnv) state(t *testing.T, name string) xjobstore.TriggerState {
	t.Helper()
	st, err := e.store.TriggerState(context.Background(), xjob.NewTriggerKey(name))
	if err != nil {
		t.Fatalf("TriggerState(%s): %v", name, err)
	}
	return st
}

func TestParseMatcher(t *testing.T) {
	tests := []struct {
		name    string
		match   string
		value   string
		want    xjob.GroupMatcher
		wantErr bool
	}{
		{"empty_value", "prefix", "", xjob.AnyGroup(), false},
		{"equals", "equals", "g", xjob.GroupEquals("g"), false},
		{"default", "", "g", xjob.GroupEquals("g"), false},
		{"prefix", "prefix", "g", xjob.GroupStartsWith("g"), false},
		{"suffix", "suffix", "g", xjob.GroupEndsWith("g"), false},
		{"contains", "contains", "g", xjob.GroupContains("g"), false},
		{"unknown", "regex", "g", xjob.GroupMatcher{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMatcher(tt.match, tt.value)
			if tt.wantErr {
				var usageErr *usageError
				if !errors.As(err, &usageErr) {
					t.Fatalf("expected *usageError, got %T: %v", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseMatcher(%q, %q) = %+v, want %+v", tt.match, tt.value, got, tt.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"exit_error", &exitError{code: 3}, 3},
		{"usage_error", &usageError{msg: "bad"}, 2},
		{"cli_usage", errors.New("flag provided but not defined: -x"), 2},
		{"trigger_not_found", fmt.Errorf("wrap: %w", xjobstore.ErrTriggerNotFound), 3},
		{"job_not_found", xjobstore.ErrJobNotFound, 3},
		{"other", errors.New("connection refused"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestListCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "triggers")
	if err != nil {
		t.Fatalf("triggers: %v", err)
	}
	for _, want := range []string{"NEXT_FIRE", "nightly", "reports.report", "hourly", "NORMAL"} {
		if !strings.Contains(out, want) {
			t.Errorf("triggers output missing %q:\n%s", want, out)
		}
	}

	out, err = env.run(t, "triggers", "--group", "batch", "--match", "prefix")
	if err != nil {
		t.Fatalf("triggers --match prefix: %v", err)
	}
	if !strings.Contains(out, "hourly") || strings.Contains(out, "nightly") {
		t.Errorf("prefix filter not applied:\n%s", out)
	}

	out, err = env.run(t, "triggers", "--job", "report")
	if err != nil {
		t.Fatalf("triggers --job: %v", err)
	}
	if !strings.Contains(out, "nightly") || strings.Contains(out, "hourly") {
		t.Errorf("job filter not applied:\n%s", out)
	}

	out, err = env.run(t, "jobs", "-g", "reports")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if !strings.Contains(out, "report") || strings.Contains(out, "cleanup") {
		t.Errorf("jobs output unexpected:\n%s", out)
	}

	out, err = env.run(t, "groups")
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	for _, want := range []string{"job", "DEFAULT", "trigger", "batch-a"} {
		if !strings.Contains(out, want) {
			t.Errorf("groups output missing %q:\n%s", want, out)
		}
	}

	out, err = env.run(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"instance", "ops", "triggers", "NORMAL"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}
}

func TestPauseResumeCommands(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.run(t, "pause-trigger", "nightly"); err != nil {
		t.Fatalf("pause-trigger: %v", err)
	}
	if got := env.state(t, "nightly"); got != xjobstore.StatePaused {
		t.Errorf("after pause-trigger state = %s, want PAUSED", got)
	}

	if _, err := env.run(t, "resume-trigger", "nightly"); err != nil {
		t.Fatalf("resume-trigger: %v", err)
	}
	if got := env.state(t, "nightly"); got != xjobstore.StateNormal {
		t.Errorf("after resume-trigger state = %s, want NORMAL", got)
	}

	out, err := env.run(t, "pause-group", "--match", "prefix", "batch")
	if err != nil {
		t.Fatalf("pause-group: %v", err)
	}
	if !strings.Contains(out, "batch-a") {
		t.Errorf("pause-group output missing group:\n%s", out)
	}
	if got := env.state(t, "hourly"); got != xjobstore.StatePaused {
		t.Errorf("after pause-group state = %s, want PAUSED", got)
	}
	if got := env.state(t, "nightly"); got != xjobstore.StateNormal {
		t.Errorf("unmatched group state = %s, want NORMAL", got)
	}

	if _, err := env.run(t, "resume-all"); err != nil {
		t.Fatalf("resume-all: %v", err)
	}
	if got := env.state(t, "hourly"); got != xjobstore.StateNormal {
		t.Errorf("after resume-all state = %s, want NORMAL", got)
	}

	if _, err := env.run(t, "pause-job", "-g", "reports", "report"); err != nil {
		t.Fatalf("pause-job: %v", err)
	}
	if got := env.state(t, "nightly"); got != xjobstore.StatePaused {
		t.Errorf("after pause-job state = %s, want PAUSED", got)
	}

	if _, err := env.run(t, "pause-all"); err != nil {
		t.Fatalf("pause-all: %v", err)
	}
	if got := env.state(t, "hourly"); got != xjobstore.StatePaused {
		t.Errorf("after pause-all state = %s, want PAUSED", got)
	}
}

func TestRemoveCommands(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out, err := env.run(t, "remove-trigger", "hourly", "missing")
	var exitErr *exitError
	if !errors.As(err, &exitErr) || exitErr.code != 3 {
		t.Fatalf("expected exit code 3, got %v", err)
	}
	if !strings.Contains(out, "hourly: 完成") || !strings.Contains(out, "missing: 失败") {
		t.Errorf("unexpected output:\n%s", out)
	}

	// 非持久作业随最后一个触发器删除
	ok, err := env.store.CheckJobExists(ctx, xjob.NewJobKey("cleanup"))
	if err != nil {
		t.Fatalf("CheckJobExists: %v", err)
	}
	if ok {
		t.Error("job cleanup should be removed with its last trigger")
	}

	if _, err := env.run(t, "remove-job", "report"); err != nil {
		t.Fatalf("remove-job: %v", err)
	}
	n, err := env.store.NumberOfTriggers(ctx)
	if err != nil {
		t.Fatalf("NumberOfTriggers: %v", err)
	}
	if n != 0 {
		t.Errorf("NumberOfTriggers = %d, want 0", n)
	}
}

func TestResetErrorCommand(t *testing.T) {
	env := newTestEnv(t)

	// 非 ERROR 触发器不受影响
	if _, err := env.run(t, "reset-error", "nightly"); err != nil {
		t.Fatalf("reset-error: %v", err)
	}
	if got := env.state(t, "nightly"); got != xjobstore.StateNormal {
		t.Errorf("state = %s, want NORMAL", got)
	}

	_, err := env.run(t, "reset-error", "ghost")
	var exitErr *exitError
	if !errors.As(err, &exitErr) || exitErr.code != 3 {
		t.Fatalf("expected exit code 3, got %v", err)
	}
}

func TestCommandUsageErrors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		args []string
	}{
		{"pause_trigger_no_args", []string{"pause-trigger"}},
		{"pause_group_no_args", []string{"pause-group"}},
		{"bad_match", []string{"triggers", "--group", "g", "--match", "regex"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(t, tt.args...)
			var usageErr *usageError
			if !errors.As(err, &usageErr) {
				t.Fatalf("expected *usageError, got %T: %v", err, err)
			}
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.ini")
	if err := os.WriteFile(path, []byte("x=1"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := runApp(t, "-c", path, "stats")
	var usageErr *usageError
	if !errors.As(err, &usageErr) {
		t.Fatalf("expected *usageError, got %T: %v", err, err)
	}
	if exitCode(err) != 2 {
		t.Errorf("exitCode = %d, want 2", exitCode(err))
	}
}

func TestMemoryBackendStats(t *testing.T) {
	out, err := runApp(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "jobs") {
		t.Errorf("stats output missing jobs:\n%s", out)
	}
}

func TestIsCLIUsageError(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"flag provided but not defined: -x", true},
		{`invalid value "abc" for flag -t`, true},
		{"flag needs an argument: -c", true},
		{"No help topic for 'foo'", true},
		{"dial tcp: connection refused", false},
	}
	for _, tt := range tests {
		if got := isCLIUsageError(errors.New(tt.msg)); got != tt.want {
			t.Errorf("isCLIUsageError(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}
