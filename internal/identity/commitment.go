package identity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"fraudguard/internal/errors"
)

// Protocol 承诺协议标识。这里只是对提交字段做哈希，不是零知识证明
const Protocol = "simulated-zk-snark"

// Commitment 身份承诺
type Commitment struct {
	Hash       string    `json:"hash"`
	Commitment string    `json:"commitment"`
	Nullifier  string    `json:"nullifier"`
	Protocol   string    `json:"protocol"`
	Timestamp  time.Time `json:"timestamp"`
}

// Committer 生成与校验身份承诺
type Committer struct {
	now func() time.Time
}

// NewCommitter 创建承诺生成器
func NewCommitter() *Committer {
	return &Committer{now: time.Now}
}

// Commit 对提交字段做 SHA-256 并截取承诺与作废标识
func (c *Committer) Commit(fields map[string]string) (*Commitment, error) {
	hash, err := digest(fields)
	if err != nil {
		return nil, err
	}
	return &Commitment{
		Hash:       hash,
		Commitment: hash[:16],
		Nullifier:  hash[16:32],
		Protocol:   Protocol,
		Timestamp:  c.now().UTC(),
	}, nil
}

// Verify 用相同字段重新计算，判断承诺是否匹配
func (c *Committer) Verify(fields map[string]string, commitment *Commitment) (bool, error) {
	if commitment == nil {
		return false, errors.Validation("承诺不能为空")
	}
	if commitment.Protocol != "" && commitment.Protocol != Protocol {
		return false, errors.Validation("不支持的承诺协议: %s", commitment.Protocol)
	}
	hash, err := digest(fields)
	if err != nil {
		return false, err
	}
	ok := subtle.ConstantTimeCompare([]byte(hash[:16]), []byte(strings.ToLower(commitment.Commitment))) == 1 &&
		subtle.ConstantTimeCompare([]byte(hash[16:32]), []byte(strings.ToLower(commitment.Nullifier))) == 1
	return ok, nil
}

// digest 字段按键排序后序列化再哈希，保证同一组字段结果稳定
func digest(fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "", errors.Validation("身份字段不能为空")
	}
	for k, v := range fields {
		if strings.TrimSpace(k) == "" {
			return "", errors.Validation("字段名不能为空")
		}
		if strings.TrimSpace(v) == "" {
			return "", errors.Validation("字段 %s 不能为空", k)
		}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeSerialization, errors.SeverityLow, "IDENTITY_ENCODE", "序列化身份字段失败")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
