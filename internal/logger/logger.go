package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"log/slog"
)

// 内存中保留的最近日志条数,供 dashboard /api/logs 查询
const tailCapacity = 500

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger

	tailMu    sync.Mutex
	tailLines []string
	tailNext  int
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
	tailLines = make([]string, 0, tailCapacity)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

// record 把格式化后的日志追加进环形缓冲
func record(level, msg string) {
	line := fmt.Sprintf("%s %s %s", time.Now().Format("2006-01-02 15:04:05"), level, msg)
	tailMu.Lock()
	if len(tailLines) < tailCapacity {
		tailLines = append(tailLines, line)
	} else {
		tailLines[tailNext] = line
		tailNext = (tailNext + 1) % tailCapacity
	}
	tailMu.Unlock()
}

// Tail 返回最近的 n 条日志,按时间正序
func Tail(n int) []string {
	tailMu.Lock()
	defer tailMu.Unlock()
	total := len(tailLines)
	out := make([]string, 0, total)
	if total == tailCapacity {
		out = append(out, tailLines[tailNext:]...)
		out = append(out, tailLines[:tailNext]...)
	} else {
		out = append(out, tailLines...)
	}
	if n > 0 && n < len(out) {
		out = out[len(out)-n:]
	}
	return out
}

func Debugf(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	activeLogger().Debug(msg)
	record("DEBUG", msg)
}

func Infof(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	activeLogger().Info(msg)
	record("INFO", msg)
}

func Warnf(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	activeLogger().Warn(msg)
	record("WARN", msg)
}

func Errorf(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	activeLogger().Error(msg)
	record("ERROR", msg)
}

func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	lines := strings.Split(block, "\n")
	for _, line := range lines {
		Infof("%s", line)
	}
}
