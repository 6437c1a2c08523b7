package xjobstore

import (
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/sony/sonyflake/v2"
)

// flake 进程内共享的 ID 生成器，同一进程的多个存储不会得到相同 ID。
var flake = sync.OnceValues(func() (*sonyflake.Sonyflake, error) {
	return sonyflake.New(sonyflake.Settings{})
})

// newNodeID 生成 "<hostname>-<id>"，id 优先使用 sonyflake（base36），
// 无私有 IP 等导致 sonyflake 不可用时使用 UUID。
func newNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	if sf, err := flake(); err == nil {
		if id, err := sf.NextID(); err == nil {
			return host + "-" + strconv.FormatInt(id, 36)
		}
	}
	return host + "-" + uuid.NewString()
}
