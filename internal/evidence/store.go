package evidence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"

	"fraudguard/internal/errors"
)

// Storage 证据内容存储，返回内容寻址引用
type Storage interface {
	Put(ctx context.Context, payload io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// cidPrefix CIDv1 raw 编码 + sha2-256
var cidPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// ComputeCID 计算内容的 CIDv1
func ComputeCID(data []byte) (string, error) {
	c, err := cidPrefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("计算CID失败: %w", err)
	}
	return c.String(), nil
}

// LocalStore 本地目录内容寻址存储，替代真实 IPFS 节点
type LocalStore struct {
	dir     string
	maxSize int64
	logger  *logrus.Logger
}

// NewLocalStore 创建本地存储
func NewLocalStore(dir string, maxSize int64, logger *logrus.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建证据目录失败: %w", err)
	}
	return &LocalStore{dir: dir, maxSize: maxSize, logger: logger}, nil
}

// Put 写入内容并返回CID，相同内容重复写入是幂等的
func (s *LocalStore) Put(ctx context.Context, payload io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	reader := payload
	if s.maxSize > 0 {
		reader = io.LimitReader(payload, s.maxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", errors.Storage(err, "读取证据内容失败")
	}
	if len(data) == 0 {
		return "", errors.Validation("证据内容为空")
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return "", errors.Validation("证据内容超过大小限制 %d 字节", s.maxSize)
	}

	ref, err := ComputeCID(data)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	// 先写临时文件再重命名，避免读到半截内容
	tmp, err := os.CreateTemp(s.dir, ref+".*.tmp")
	if err != nil {
		return "", errors.Storage(err, "创建临时文件失败")
	}
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errors.Storage(err, "写入证据内容失败")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Storage(err, "写入证据内容失败")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Storage(err, "保存证据内容失败")
	}

	s.logger.WithFields(logrus.Fields{
		"reference": ref,
		"size":      len(data),
	}).Debug("证据内容已保存")

	return ref, nil
}

// Open 按引用读取内容
func (s *LocalStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := cid.Decode(ref); err != nil {
		return nil, errors.Validation("证据引用不是合法的CID: %v", err)
	}
	f, err := os.Open(filepath.Join(s.dir, ref))
	if os.IsNotExist(err) {
		return nil, errors.NotFound("evidence_content", ref)
	}
	if err != nil {
		return nil, errors.Storage(err, "读取证据内容失败")
	}
	return f, nil
}
