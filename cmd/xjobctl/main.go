// xjobctl 是集群作业存储的运维命令行工具。
//
// xjobctl 直接连接作业存储所用的分布式后端（Redis 或 etcd），
// 查看作业与触发器、暂停/恢复、复位 ERROR 触发器、删除作业。
// 所有写操作都经过存储层的键锁，可在调度集群运行时安全执行。
//
// 用法:
//
//	xjobctl [全局选项] <命令> [命令选项] [参数...]
//
// 全局选项:
//
//	--config, -c    存储配置文件（.yaml/.yml/.json），也可通过 XJOBCTL_CONFIG 设置
//	--timeout, -t   单条命令的超时时间（默认 30s）
//
// 退出码:
//
//	0  成功
//	1  一般错误（连接失败、后端错误等）
//	2  参数错误
//	3  目标不存在
//
// 示例:
//
//	xjobctl -c store.yaml triggers --group reports
//	xjobctl -c store.yaml pause-group --match prefix batch-
//	xjobctl -c store.yaml reset-error --group reports nightly
//	xjobctl -c store.yaml stats
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xsched/pkg/distributed/xjobstore"
)

// 版本信息（构建时通过 -ldflags 注入）。
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// defaultTimeout 单条命令的默认超时。
const defaultTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "xjobctl",
		Usage:   "集群作业存储运维工具",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "存储配置文件路径，为空时使用内存后端",
				Sources: cli.EnvVars("XJOBCTL_CONFIG"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "单条命令超时时间",
				Value:   defaultTimeout,
			},
		},
		Commands:       createCommands(),
		DefaultCommand: "help",
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			var exitCoder cli.ExitCoder
			if errors.As(err, &exitCoder) {
				if msg := err.Error(); msg != "" {
					fmt.Fprintln(os.Stderr, msg)
				}
			}
		},
	}
}

// run 执行命令并返回退出码。
func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	return exitCode(createApp().Run(ctx, os.Args))
}

// exitCode 将命令错误映射为退出码，并把错误写到 stderr。
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 2
	}
	if isCLIUsageError(err) {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 2
	}

	if errors.Is(err, xjobstore.ErrJobNotFound) || errors.Is(err, xjobstore.ErrTriggerNotFound) {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 3
	}

	fmt.Fprintf(os.Stderr, "错误: %v\n", err)
	return 1
}

// isCLIUsageError 识别 urfave/cli 的参数解析错误。
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{
		"flag provided but not defined",
		"invalid value",
		"flag needs an argument",
		"No help topic for",
	} {
		if strings.Contains(msg, prefix) {
			return true
		}
	}
	return false
}
