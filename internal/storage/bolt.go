package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath 默认数据库路径
	DefaultDBPath = "./data/fraudguard.db"

	// 存储桶名称
	DisputesBucket = "disputes"
	AnalysesBucket = "analyses"
	FeedbackBucket = "feedback"
)

var buckets = []string{DisputesBucket, AnalysesBucket, FeedbackBucket}

// DB 基于 BoltDB 的 JSON 键值存储
type DB struct {
	db     *bolt.DB
	logger *logrus.Logger
}

// Open 打开数据库并创建存储桶
func Open(path string, logger *logrus.Logger) (*DB, error) {
	if path == "" {
		path = DefaultDBPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("数据库已初始化，路径: %s", path)
	return &DB{db: db, logger: logger}, nil
}

// PutJSON 序列化后写入
func (d *DB) PutJSON(bucket, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化失败: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("存储桶不存在: %s", bucket)
		}
		return b.Put([]byte(key), data)
	})
}

// GetJSON 读取并反序列化，键不存在时返回 false
func (d *DB) GetJSON(bucket, key string, value interface{}) (bool, error) {
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("存储桶不存在: %s", bucket)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, value)
	})
	return found, err
}

// ForEach 遍历存储桶，data 仅在回调内有效
func (d *DB) ForEach(bucket string, fn func(key string, data []byte) error) error {
	return d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("存储桶不存在: %s", bucket)
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// Count 统计存储桶中的键数量
func (d *DB) Count(bucket string) (int, error) {
	var n int
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("存储桶不存在: %s", bucket)
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Stats 各存储桶的记录数
func (d *DB) Stats() (map[string]int, error) {
	stats := make(map[string]int, len(buckets))
	for _, name := range buckets {
		n, err := d.Count(name)
		if err != nil {
			return nil, err
		}
		stats[name] = n
	}
	return stats, nil
}

// Close 关闭数据库
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	d.logger.Info("关闭数据库")
	return d.db.Close()
}
