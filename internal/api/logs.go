package api

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogManager 最近日志的环形缓冲区
type LogManager struct {
	mu    sync.RWMutex
	buf   []LogEntry
	next  int
	full  bool
	limit int
}

// NewLogManager 创建日志管理器
func NewLogManager(maxLogs int) *LogManager {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &LogManager{
		buf:   make([]LogEntry, maxLogs),
		limit: maxLogs,
	}
}

// AddLog 添加日志，缓冲区满时覆盖最旧的一条
func (lm *LogManager) AddLog(entry *logrus.Entry) {
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		// error 直接序列化为 {}，先转成字符串
		if err, ok := v.(error); ok {
			v = err.Error()
		} else if s, ok := v.(fmt.Stringer); ok {
			v = s.String()
		}
		fields[k] = v
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.buf[lm.next] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	}
	lm.next = (lm.next + 1) % lm.limit
	if lm.next == 0 {
		lm.full = true
	}
}

// snapshot 按时间倒序返回缓冲区内容，调用方需持有读锁
func (lm *LogManager) snapshot(level string) []LogEntry {
	n := lm.next
	if lm.full {
		n = lm.limit
	}
	out := make([]LogEntry, 0, n)
	for i := 1; i <= n; i++ {
		e := lm.buf[(lm.next-i+lm.limit)%lm.limit]
		if level != "" && e.Level != level {
			continue
		}
		out = append(out, e)
	}
	return out
}

// GetLogsWithPagination 获取分页日志，最新的在前
func (lm *LogManager) GetLogsWithPagination(level string, page, pageSize int) ([]LogEntry, int) {
	lm.mu.RLock()
	all := lm.snapshot(level)
	lm.mu.RUnlock()

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return []LogEntry{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total
}

// ClearLogs 清空日志
func (lm *LogManager) ClearLogs() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.buf = make([]LogEntry, lm.limit)
	lm.next = 0
	lm.full = false
}

// LogHook 将日志写入 LogManager 的 logrus 钩子
type LogHook struct {
	manager *LogManager
	levels  []logrus.Level
}

// NewLogHook 创建日志钩子，只收集 info 及以上级别
func NewLogHook(manager *LogManager) *LogHook {
	return &LogHook{
		manager: manager,
		levels: []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
			logrus.WarnLevel,
			logrus.InfoLevel,
		},
	}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.AddLog(entry)
	return nil
}

// Levels 实现 logrus.Hook 接口
func (h *LogHook) Levels() []logrus.Level {
	return h.levels
}

func queryInt(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// getLogs 获取最近日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"logs":      logs,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"level":     level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}
