package notify

import (
	"sync"

	"fraudguard/internal/errors"
	"fraudguard/pkg/models"
)

// DefaultCapacity 通知中心默认容量
const DefaultCapacity = 500

// Feed 内存通知中心，超过容量时丢弃最旧的通知
type Feed struct {
	items    []models.Notification
	capacity int
	mu       sync.RWMutex
}

// NewFeed 创建通知中心
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		items:    make([]models.Notification, 0, capacity),
		capacity: capacity,
	}
}

// Add 添加通知
func (f *Feed) Add(n models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = append(f.items, n)
	if len(f.items) > f.capacity {
		f.items = f.items[len(f.items)-f.capacity:]
	}
}

// ListOptions 通知查询条件
type ListOptions struct {
	UnreadOnly bool `form:"unread"`
	Page       int  `form:"page"`
	PageSize   int  `form:"page_size"`
}

// ListResult 通知分页结果，最新的在前
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Total  int                   `json:"total"`
	Unread int                   `json:"unread"`
}

// List 分页获取通知
func (f *Feed) List(opts ListOptions) ListResult {
	f.mu.RLock()
	defer f.mu.RUnlock()

	filtered := make([]models.Notification, 0, len(f.items))
	unread := 0
	for i := len(f.items) - 1; i >= 0; i-- {
		n := f.items[i]
		if !n.Read {
			unread++
		}
		if opts.UnreadOnly && n.Read {
			continue
		}
		filtered = append(filtered, n)
	}

	total := len(filtered)
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}

	start := (opts.Page - 1) * opts.PageSize
	if start >= total {
		return ListResult{Items: []models.Notification{}, Total: total, Unread: unread}
	}
	end := start + opts.PageSize
	if end > total {
		end = total
	}

	return ListResult{Items: filtered[start:end], Total: total, Unread: unread}
}

func (f *Feed) indexOf(id string) int {
	for i := range f.items {
		if f.items[i].ID == id {
			return i
		}
	}
	return -1
}

// MarkRead 标记单条通知为已读
func (f *Feed) MarkRead(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.indexOf(id)
	if i < 0 {
		return errors.NotFound("notification", id)
	}
	f.items[i].Read = true
	return nil
}

// MarkAllRead 全部标记为已读，返回本次标记的数量
func (f *Feed) MarkAllRead() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	marked := 0
	for i := range f.items {
		if !f.items[i].Read {
			f.items[i].Read = true
			marked++
		}
	}
	return marked
}

// Delete 删除单条通知
func (f *Feed) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.indexOf(id)
	if i < 0 {
		return errors.NotFound("notification", id)
	}
	f.items = append(f.items[:i], f.items[i+1:]...)
	return nil
}

// Clear 清空通知
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = make([]models.Notification, 0, f.capacity)
}

// UnreadCount 未读数量
func (f *Feed) UnreadCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	count := 0
	for _, n := range f.items {
		if !n.Read {
			count++
		}
	}
	return count
}
