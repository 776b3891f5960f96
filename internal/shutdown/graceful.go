package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序，数字越小越早执行
const (
	OrderStopHTTP        = 10 // 停止接收API请求，等待进行中的请求
	OrderFlushOutputs    = 20 // 刷新Kafka/文件输出缓冲
	OrderCloseStores     = 30 // 关闭 bbolt 与 PostgreSQL 连接
	OrderCleanupResource = 40 // 其余清理
)

// Hook 停机处理函数
type Hook struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int
}

// GracefulShutdown 优雅停机管理器
type GracefulShutdown struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu             sync.Mutex
	hooks          []Hook
	isShuttingDown bool
	errs           []error

	signalChan chan os.Signal
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewGracefulShutdown 创建优雅停机管理器
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GracefulShutdown{
		logger:     logger,
		timeout:    timeout,
		signalChan: make(chan os.Signal, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register 注册停机处理函数
func (gs *GracefulShutdown) Register(name string, order int, fn func(ctx context.Context) error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.hooks = append(gs.hooks, Hook{Name: name, Func: fn, Order: order})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// Start 开始监听 SIGINT/SIGTERM/SIGQUIT
func (gs *GracefulShutdown) Start() {
	signal.Notify(gs.signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		select {
		case sig := <-gs.signalChan:
			gs.logger.Infof("收到停机信号: %v", sig)
			gs.Shutdown()
		case <-gs.done:
		}
	}()
	gs.logger.Info("优雅停机管理器已启动，监听信号: SIGINT, SIGTERM, SIGQUIT")
}

// Context 停机开始后取消的上下文
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Done 停机流程结束后关闭
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// Wait 阻塞直到停机流程结束，返回各处理函数的错误
func (gs *GracefulShutdown) Wait() []error {
	<-gs.done
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return append([]error(nil), gs.errs...)
}

// Shutdown 触发停机，重复调用只执行一次
func (gs *GracefulShutdown) Shutdown() {
	gs.mu.Lock()
	if gs.isShuttingDown {
		gs.mu.Unlock()
		gs.logger.Warn("停机过程已在进行中，忽略")
		return
	}
	gs.isShuttingDown = true
	hooks := append([]Hook(nil), gs.hooks...)
	gs.mu.Unlock()

	signal.Stop(gs.signalChan)
	errs := gs.run(hooks)

	gs.mu.Lock()
	gs.errs = errs
	gs.mu.Unlock()
	close(gs.done)
}

func (gs *GracefulShutdown) run(hooks []Hook) []error {
	gs.logger.Info("开始优雅停机流程...")
	// 先取消主上下文，后台任务尽快收尾
	gs.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Order < hooks[j].Order })

	var errs []error
	for _, h := range hooks {
		if ctx.Err() != nil {
			gs.logger.Warnf("停机超时，跳过剩余处理: %s", h.Name)
			errs = append(errs, fmt.Errorf("%s: %w", h.Name, ctx.Err()))
			continue
		}

		start := time.Now()
		err := h.Func(ctx)
		elapsed := time.Since(start)
		if err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", h.Name, elapsed, err)
			errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
			continue
		}
		gs.logger.Infof("停机处理 '%s' 完成 (耗时: %v)", h.Name, elapsed)
	}

	if len(errs) > 0 {
		gs.logger.Errorf("停机过程中发生 %d 个错误", len(errs))
	}
	gs.logger.Info("优雅停机流程完成")
	return errs
}

// IsShuttingDown 是否已开始停机
func (gs *GracefulShutdown) IsShuttingDown() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.isShuttingDown
}

// RegisteredHooks 已注册处理函数名称，按注册顺序
func (gs *GracefulShutdown) RegisteredHooks() []string {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	names := make([]string, len(gs.hooks))
	for i, h := range gs.hooks {
		names[i] = h.Name
	}
	return names
}
