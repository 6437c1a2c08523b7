package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xsched/pkg/distributed/xjob"
	"github.com/omeyang/xsched/pkg/distributed/xjobstore"
)

// exitError 表示需要非零退出码但已完成输出的场景。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return "" }

// usageError 参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createJobsCommand(),
		createTriggersCommand(),
		createGroupsCommand(),
		createCalendarsCommand(),
		createStatsCommand(),
		createKeyCommand("pause-trigger", "暂停触发器", "trigger", pauseTrigger),
		createKeyCommand("resume-trigger", "恢复触发器（错过的触发按 misfire 策略处理）", "trigger", resumeTrigger),
		createKeyCommand("pause-job", "暂停作业的全部触发器", "job", pauseJob),
		createKeyCommand("resume-job", "恢复作业的全部触发器", "job", resumeJob),
		createKeyCommand("reset-error", "将 ERROR 触发器复位为 WAITING（分组暂停时为 PAUSED）", "trigger", resetError),
		createKeyCommand("remove-trigger", "删除触发器，非持久作业随最后一个触发器删除", "trigger", removeTrigger),
		createKeyCommand("remove-job", "删除作业及其全部触发器", "job", removeJob),
		createGroupCommand("pause-group", "暂停匹配的分组", pauseGroups),
		createGroupCommand("resume-group", "恢复匹配的分组", resumeGroups),
		{
			Name:  "pause-all",
			Usage: "暂停全部触发器分组",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withStore(ctx, cmd, func(ctx context.Context, s *xjobstore.Store) error {
					if err := s.PauseAll(ctx); err != nil {
						return err
					}
					fmt.Fprintln(writer(cmd), "已暂停全部触发器分组")
					return nil
				})
			},
		},
		{
			Name:  "resume-all",
			Usage: "恢复全部分组（含作业分组）",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withStore(ctx, cmd, func(ctx context.Context, s *xjobstore.Store) error {
					if err := s.ResumeAll(ctx); err != nil {
						return err
					}
					fmt.Fprintln(writer(cmd), "已恢复全部分组")
					return nil
				})
			},
		},
	}
}

// =============================================================================
// 公共
// =============================================================================

// withStore 按全局选项打开存储，执行 fn 后关闭。
func withStore(ctx context.Context, cmd *cli.Command, fn func(context.Context, *xjobstore.Store) error) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	logger, cleanup, err := cfg.Log.Build()
	if err != nil {
		return &usageError{msg: fmt.Sprintf("日志配置无效: %v", err)}
	}
	defer func() { _ = cleanup() }()

	s, err := xjobstore.Open(ctx, cfg, xjobstore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer func() { _ = s.Shutdown(context.WithoutCancel(ctx)) }()

	if err := s.Initialize(ctx, nil); err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	return fn(ctx, s)
}

// loadConfig 加载配置文件，未指定时使用默认配置。
//
// 命令行默认只输出 warn 及以上日志，避免干扰表格输出。
func loadConfig(path string) (xjobstore.Config, error) {
	var cfg xjobstore.Config
	if path != "" {
		var err error
		if cfg, err = xjobstore.LoadConfig(path); err != nil {
			if errors.Is(err, xjobstore.ErrInvalidConfig) {
				return cfg, &usageError{msg: err.Error()}
			}
			return cfg, err
		}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	return cfg, nil
}

// writer 返回根命令的输出，测试中可替换。
func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func newTable(cmd *cli.Command) *tabwriter.Writer {
	return tabwriter.NewWriter(writer(cmd), 0, 0, 2, ' ', 0)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// flag 对象保存解析结果，每个命令使用独立实例。
func groupFlag() cli.Flag {
	return &cli.StringFlag{Name: "group", Aliases: []string{"g"}, Usage: "分组名"}
}

func matchFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "match",
		Aliases: []string{"m"},
		Usage:   "分组匹配方式: equals、prefix、suffix、contains",
		Value:   "equals",
	}
}

// parseMatcher 由匹配方式与分组值构建匹配器，值为空时匹配全部分组。
func parseMatcher(match, value string) (xjob.GroupMatcher, error) {
	if value == "" {
		return xjob.AnyGroup(), nil
	}
	switch match {
	case "", "equals":
		return xjob.GroupEquals(value), nil
	case "prefix":
		return xjob.GroupStartsWith(value), nil
	case "suffix":
		return xjob.GroupEndsWith(value), nil
	case "contains":
		return xjob.GroupContains(value), nil
	default:
		return xjob.GroupMatcher{}, &usageError{msg: fmt.Sprintf("未知的匹配方式: %q", match)}
	}
}

// =============================================================================
// 查询命令
// =============================================================================

func createJobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "列出作业",
		Flags: []cli.Flag{groupFlag(), matchFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			matcher, err := parseMatcher(cmd.String("match"), cmd.String("group"))
			if err != nil {
				return err
			}
			return withStore(ctx, cmd, func(ctx context.Context, s *xjobstore.Store) error {
				return cmdJobs(ctx, s, matcher, newTable(cmd))
			})
		},
	}
}

func cmdJobs(ctx context.Context, s *xjobstore.Store, matcher xjob.GroupMatcher, tw *tabwriter.Writer) error {
	keys, err := s.JobKeys(ctx, matcher)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "GROUP\tNAME\tTYPE\tDURABLE\tNONCONCURRENT\tTRIGGERS")
	for _, key := range keys {
		job, err := s.RetrieveJob(ctx, key)
		if errors.Is(err, xjobstore.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		triggers, err := s.TriggersForJob(ctx, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%d\n", key.Group, key.Name, orDash(job.JobType),
			job.Durable, job.ConcurrentExecutionDisallowed, len(triggers))
	}
	return tw.Flush()
}

func createTriggersCommand() *cli.Command {
	return &cli.Command{
		Name:  "triggers",
		Usage: "列出触发器及其状态",
		Flags: []cli.Flag{
			groupFlag(), matchFlag(),
			&cli.StringFlag{Name: "job", Aliases: []string{"j"}, Usage: "只列出该作业的触发器"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			matcher, err := parseMatcher(cmd.String("match"), cmd.String("group"))
			if err != nil {
				return err
			}
			job := cmd.String("job")
			return withStore(ctx, cmd, func(ctx context.Context, s *xjobstore.Store) error {
				return cmdTriggers(ctx, s, matcher, job, newTable(cmd))
			})
		},
	}
}

func cmdTriggers(ctx context.Context, s *xjobstore.Store, matcher xjob.GroupMatcher, job string,
	tw *tabwriter.Writer) error {
	var triggers []xjob.Trigger
	if job != "" {
		ts, err := s.TriggersForJob(ctx, xjob.NewJobKey(job))
		if err != nil {
			return err
		}
		for _, t := range ts {
			if matcher.IsMatch(t.Key().Group) {
				triggers = append(triggers, t)
			}
		}
	} else {
		keys, err := s.TriggerKeys(ctx, matcher)
		if err != nil {
			return err
		}
		for _, key := range keys {
			t, err := s.RetrieveTrigger(ctx, key)
			if errors.Is(err, xjobstore.ErrTriggerNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			triggers = append(triggers, t)
		}
	}

	fmt.Fprintln(tw, "GROUP\tNAME\tJOB\tKIND\tSTATE\tNEXT_FIRE\tPREV_FIRE\tCALENDAR")
	for _, t := range triggers {
		state, err := s.TriggerState(ctx, t.Key())
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", t.Key().Group, t.Key().Name, t.JobKey(),
			t.Kind(), state, formatTime(t.NextFireTime()), formatTime(t.PreviousFireTime()),
			orDash(t.CalendarName()))
	}
	return tw.Flush()
}

func createGroupsCommand() *cli.Command {
	return &cli.Command{
		Name:  "groups",
		Usage: "列出作业分组与触发器分组及暂停情况",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(ctx context.Context, s *xjobstore.Store) error {
				return cmdGroups(ctx, s, newTable(cmd))
			})
		},
	}
}

func cmdGroups(ctx context.Context, s *xjobstore.Store, tw *tabwriter.Writer) error {
	jobGroups, err := s.JobGroupNames(ctx)
	if err != nil {
		return err
	}
	triggerGroups, err := s.TriggerGroupNames(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(tw, "KIND\tGROUP\tPAUSED")
	for _, g := range jobGroups {
		paused, err := s.IsJobGroupPaused(ctx, g)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "job\t%s\t%t\n", g, paused)
	}
	for _, g := range triggerGroups {
		paused, err := s.IsTriggerGroupPaused(ctx, g)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "trigger\t%s\t%t\n", g, paused)
	}
	return tw.Flush()
}

func createCalendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "列出日历",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(ctx context.Context, s *xjobstore.Store) error {
				return cmdCalendars(ctx, s, newTable(cmd))
			})
		},
	}
}

func cmdCalendars(ctx context.Context, s *xjobstore.Store, tw *tabwriter.Writer) error {
	names, err := s.CalendarNames(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "NAME\tKIND\tDESCRIPTION")
	for _, name := range names {
		cal, err := s.RetrieveCalendar(ctx, name)
		if errors.Is(err, xjobstore.ErrCalendarNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, cal.Kind(), orDash(cal.Description()))
	}
	return tw.Flush()
}

func createStatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "显示存储统计与各状态触发器数量",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStore(ctx, cmd, func(ctx context.Context, s *xjobstore.Store) error {
				return cmdStats(ctx, s, newTable(cmd))
			})
		},
	}
}

// statsStates stats 输出的状态顺序。
var statsStates = []xjobstore.TriggerState{
	xjobstore.StateWaiting,
	xjobstore.StateNormal,
	xjobstore.StateAcquired,
	xjobstore.StateBlocked,
	xjobstore.StatePaused,
	xjobstore.StatePausedBlocked,
	xjobstore.StateComplete,
	xjobstore.StateCompleted,
	xjobstore.StateError,
}

func cmdStats(ctx context.Context, s *xjobstore.Store, tw *tabwriter.Writer) error {
	jobs, err := s.NumberOfJobs(ctx)
	if err != nil {
		return err
	}
	triggers, err := s.NumberOfTriggers(ctx)
	if err != nil {
		return err
	}
	calendars, err := s.NumberOfCalendars(ctx)
	if err != nil {
		return err
	}
	keys, err := s.TriggerKeys(ctx, xjob.AnyGroup())
	if err != nil {
		return err
	}
	counts := make(map[xjobstore.TriggerState]int, len(statsStates))
	for _, key := range keys {
		state, err := s.TriggerState(ctx, key)
		if err != nil {
			return err
		}
		counts[state]++
	}
	paused, err := s.PausedTriggerGroups(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(tw, "instance\t%s\n", s.InstanceName())
	fmt.Fprintf(tw, "jobs\t%d\n", jobs)
	fmt.Fprintf(tw, "triggers\t%d\n", triggers)
	fmt.Fprintf(tw, "calendars\t%d\n", calendars)
	fmt.Fprintf(tw, "paused trigger groups\t%d\n", len(paused))
	for _, state := range statsStates {
		fmt.Fprintf(tw, "  %s\t%d\n", state, counts[state])
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// =============================================================================
// 变更命令
// =============================================================================

// keyAction 对单个作业或触发器执行的操作。
type keyAction func(ctx context.Context, s *xjobstore.Store, name, group string) error

// createKeyCommand 创建以名称为参数的命令，kind 为 "trigger" 或 "job"。
func createKeyCommand(name, usage, kind string, action keyAction) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<" + kind + "-name>...",
		Flags:     []cli.Flag{groupFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			names := cmd.Args().Slice()
			if len(names) == 0 {
				return &usageError{msg: name + " 命令需要指定至少一个" + kind + "名称"}
			}
			group := cmd.String("group")
			return withStore(ctx, cmd, func(ctx context.Context, s *xjobstore.Store) error {
				return cmdEach(ctx, s, names, group, action, writer(cmd))
			})
		},
	}
}

// cmdEach 依次处理每个名称并逐行输出结果。
//
// 有失败时返回 exitError：全部失败项均为不存在时退出码为 3，否则为 1。
func cmdEach(ctx context.Context, s *xjobstore.Store, names []string, group string,
	action keyAction, w io.Writer) error {
	code := 0
	for _, name := range names {
		err := action(ctx, s, name, group)
		if err == nil {
			fmt.Fprintf(w, "%s: 完成\n", name)
			continue
		}
		fmt.Fprintf(w, "%s: 失败: %v\n", name, err)
		switch {
		case errors.Is(err, xjobstore.ErrJobNotFound), errors.Is(err, xjobstore.ErrTriggerNotFound):
			if code == 0 {
				code = 3
			}
		default:
			code = 1
		}
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func requireTrigger(ctx context.Context, s *xjobstore.Store, key xjob.TriggerKey) error {
	ok, err := s.CheckTriggerExists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", xjobstore.ErrTriggerNotFound, key.Name)
	}
	return nil
}

func requireJob(ctx context.Context, s *xjobstore.Store, key xjob.JobKey) error {
	ok, err := s.CheckJobExists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", xjobstore.ErrJobNotFound, key.Name)
	}
	return nil
}

func pauseTrigger(ctx context.Context, s *xjobstore.Store, name, group string) error {
	key := xjob.NewTriggerKeyWithGroup(name, group)
	if err := requireTrigger(ctx, s, key); err != nil {
		return err
	}
	return s.PauseTrigger(ctx, key)
}

func resumeTrigger(ctx context.Context, s *xjobstore.Store, name, group string) error {
	key := xjob.NewTriggerKeyWithGroup(name, group)
	if err := requireTrigger(ctx, s, key); err != nil {
		return err
	}
	return s.ResumeTrigger(ctx, key)
}

func pauseJob(ctx context.Context, s *xjobstore.Store, name, group string) error {
	key := xjob.NewJobKeyWithGroup(name, group)
	if err := requireJob(ctx, s, key); err != nil {
		return err
	}
	return s.PauseJob(ctx, key)
}

func resumeJob(ctx context.Context, s *xjobstore.Store, name, group string) error {
	key := xjob.NewJobKeyWithGroup(name, group)
	if err := requireJob(ctx, s, key); err != nil {
		return err
	}
	return s.ResumeJob(ctx, key)
}

func resetError(ctx context.Context, s *xjobstore.Store, name, group string) error {
	key := xjob.NewTriggerKeyWithGroup(name, group)
	if err := requireTrigger(ctx, s, key); err != nil {
		return err
	}
	return s.ResetTriggerFromErrorState(ctx, key)
}

func removeTrigger(ctx context.Context, s *xjobstore.Store, name, group string) error {
	key := xjob.NewTriggerKeyWithGroup(name, group)
	removed, err := s.RemoveTrigger(ctx, key)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", xjobstore.ErrTriggerNotFound, name)
	}
	return nil
}

func removeJob(ctx context.Context, s *xjobstore.Store, name, group string) error {
	key := xjob.NewJobKeyWithGroup(name, group)
	removed, err := s.RemoveJob(ctx, key)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", xjobstore.ErrJobNotFound, name)
	}
	return nil
}

// groupAction 对匹配分组执行的操作，返回受影响的分组。
type groupAction func(ctx context.Context, s *xjobstore.Store, matcher xjob.GroupMatcher, jobs bool) ([]string, error)

func createGroupCommand(name, usage string, action groupAction) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<group>",
		Flags: []cli.Flag{
			matchFlag(),
			&cli.BoolFlag{Name: "jobs", Usage: "操作作业分组（默认操作触发器分组）"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return &usageError{msg: name + " 命令需要且只需要一个分组参数"}
			}
			matcher, err := parseMatcher(cmd.String("match"), cmd.Args().First())
			if err != nil {
				return err
			}
			jobs := cmd.Bool("jobs")
			return withStore(ctx, cmd, func(ctx context.Context, s *xjobstore.Store) error {
				groups, err := action(ctx, s, matcher, jobs)
				if err != nil {
					return err
				}
				w := writer(cmd)
				if len(groups) == 0 {
					fmt.Fprintln(w, "没有匹配的分组")
					return nil
				}
				for _, g := range groups {
					fmt.Fprintln(w, g)
				}
				fmt.Fprintf(w, "共 %d 个分组\n", len(groups))
				return nil
			})
		},
	}
}

func pauseGroups(ctx context.Context, s *xjobstore.Store, matcher xjob.GroupMatcher, jobs bool) ([]string, error) {
	if jobs {
		return s.PauseJobs(ctx, matcher)
	}
	return s.PauseTriggers(ctx, matcher)
}

func resumeGroups(ctx context.Context, s *xjobstore.Store, matcher xjob.GroupMatcher, jobs bool) ([]string, error) {
	if jobs {
		return s.ResumeJobs(ctx, matcher)
	}
	return s.ResumeTriggers(ctx, matcher)
}

// setupSignalHandler 第一次信号取消 ctx，第二次强制退出。
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()

		<-sigCh
		signal.Stop(sigCh)
		os.Exit(130)
	}()
}
