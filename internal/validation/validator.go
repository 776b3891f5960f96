package validation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"fraudguard/internal/errors"
	"fraudguard/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Validator 数据验证器
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下地址格式问题视为错误
	mu         sync.RWMutex
	rules      map[string]ValidationRule
	stats      map[string]int
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool               `json:"valid"`
	Errors   []*errors.AppError `json:"errors,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
	DataType string             `json:"data_type"`
}

// Err 返回首个错误，验证通过时为 nil
func (r *ValidationResult) Err() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// NewValidator 创建数据验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		rules:      make(map[string]ValidationRule),
		stats:      make(map[string]int),
	}

	v.AddRule(NewTransactionValidationRule())
	v.AddRule(NewAddressValidationRule())
	v.AddRule(NewHashValidationRule())
	v.AddRule(NewDisputeValidationRule())

	return v
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

func (v *Validator) rule(name string) (ValidationRule, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	r, ok := v.rules[name]
	return r, ok
}

func (v *Validator) record(result *ValidationResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stats[result.DataType+"_total"]++
	if !result.Valid {
		v.stats[result.DataType+"_invalid"]++
	}
	if len(result.Warnings) > 0 {
		v.stats[result.DataType+"_warnings"]++
	}
}

// ValidateTransaction 验证交易数据
func (v *Validator) ValidateTransaction(tx *models.Transaction) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		DataType: "transaction",
		Errors:   make([]*errors.AppError, 0),
		Warnings: make([]string, 0),
	}
	defer v.record(result)

	if tx == nil {
		result.Valid = false
		result.Errors = append(result.Errors, errors.Validation("交易为空"))
		return result
	}

	if rule, ok := v.rule("transaction"); ok {
		if err := rule.Validate(tx); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, asValidationError(err).WithContext("transaction_id", tx.ID))
		}
	}

	// 地址格式只做提示，核心逻辑不依赖链上校验和
	if rule, ok := v.rule("address"); ok {
		for _, addr := range []string{tx.From, tx.To} {
			if err := rule.Validate(addr); err != nil {
				if v.strictMode {
					result.Valid = false
					result.Errors = append(result.Errors, asValidationError(err).WithContext("transaction_id", tx.ID))
				} else {
					result.Warnings = append(result.Warnings, err.Error())
				}
			}
		}
	}

	if tx.BlockHash != "" {
		if rule, ok := v.rule("hash"); ok {
			if err := rule.Validate(tx.BlockHash); err != nil {
				result.Warnings = append(result.Warnings, err.Error())
			}
		}
	}

	if len(result.Warnings) > 0 {
		v.logger.WithFields(logrus.Fields{
			"transaction_id": tx.ID,
			"warnings":       result.Warnings,
		}).Debug("交易数据存在格式警告")
	}

	return result
}

// DisputeRequest 创建争议的请求数据
type DisputeRequest struct {
	TransactionID string
	Description   string
}

// ValidateDisputeRequest 验证争议创建请求
func (v *Validator) ValidateDisputeRequest(req DisputeRequest) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		DataType: "dispute",
		Errors:   make([]*errors.AppError, 0),
	}
	defer v.record(result)

	if rule, ok := v.rule("dispute"); ok {
		if err := rule.Validate(req); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, asValidationError(err))
		}
	}
	return result
}

// IsWalletAddress 判断字符串是否为以太坊地址格式
func IsWalletAddress(addr string) bool {
	return common.IsHexAddress(addr)
}

// NormalizeAddress 地址格式正确时转为校验和格式，否则原样返回
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}

func asValidationError(err error) *errors.AppError {
	if appErr, ok := errors.As(err); ok {
		return appErr
	}
	return errors.Validation("%v", err)
}

var hashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

func isValidHash(hash string) bool {
	return hashPattern.MatchString(hash)
}

// TransactionValidationRule 交易验证规则
type TransactionValidationRule struct{}

// NewTransactionValidationRule 创建交易验证规则
func NewTransactionValidationRule() *TransactionValidationRule {
	return &TransactionValidationRule{}
}

func (r *TransactionValidationRule) Name() string { return "transaction" }

func (r *TransactionValidationRule) Description() string {
	return "验证交易标识、金额、状态与风险等级"
}

func (r *TransactionValidationRule) Validate(data interface{}) error {
	tx, ok := data.(*models.Transaction)
	if !ok {
		return errors.Validation("数据类型不是交易")
	}
	if strings.TrimSpace(tx.ID) == "" {
		return errors.Validation("交易ID不能为空")
	}
	if tx.Amount.IsNegative() {
		return errors.Validation("交易金额不能为负数: %s", tx.Amount.String())
	}
	if tx.Currency == "" {
		return errors.Validation("交易币种不能为空")
	}
	if !tx.Status.Valid() {
		return errors.Validation("无效的交易状态: %s", tx.Status)
	}
	if tx.RiskLevel != "" && !tx.RiskLevel.Valid() {
		return errors.Validation("无效的风险等级: %s", tx.RiskLevel)
	}
	return nil
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

// NewAddressValidationRule 创建地址验证规则
func NewAddressValidationRule() *AddressValidationRule {
	return &AddressValidationRule{}
}

func (r *AddressValidationRule) Name() string { return "address" }

func (r *AddressValidationRule) Description() string {
	return "验证以太坊地址格式"
}

func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return errors.Validation("地址数据类型错误")
	}
	if addr == "" {
		return errors.Validation("地址为空")
	}
	if !common.IsHexAddress(addr) {
		return errors.Validation("地址格式无效: %s", addr)
	}
	return nil
}

// HashValidationRule 哈希验证规则
type HashValidationRule struct{}

// NewHashValidationRule 创建哈希验证规则
func NewHashValidationRule() *HashValidationRule {
	return &HashValidationRule{}
}

func (r *HashValidationRule) Name() string { return "hash" }

func (r *HashValidationRule) Description() string {
	return "验证32字节十六进制哈希格式"
}

func (r *HashValidationRule) Validate(data interface{}) error {
	hash, ok := data.(string)
	if !ok {
		return errors.Validation("哈希数据类型错误")
	}
	if !isValidHash(hash) {
		return errors.Validation("哈希格式无效: %s", hash)
	}
	return nil
}

// DisputeValidationRule 争议请求验证规则
type DisputeValidationRule struct{}

// NewDisputeValidationRule 创建争议验证规则
func NewDisputeValidationRule() *DisputeValidationRule {
	return &DisputeValidationRule{}
}

func (r *DisputeValidationRule) Name() string { return "dispute" }

func (r *DisputeValidationRule) Description() string {
	return "验证争议必须关联交易并附带描述"
}

func (r *DisputeValidationRule) Validate(data interface{}) error {
	req, ok := data.(DisputeRequest)
	if !ok {
		return errors.Validation("数据类型不是争议请求")
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		return errors.Validation("交易ID不能为空")
	}
	if strings.TrimSpace(req.Description) == "" {
		return errors.Validation("争议描述不能为空")
	}
	return nil
}

// GetValidationStats 获取验证统计
func (v *Validator) GetValidationStats() map[string]interface{} {
	v.mu.RLock()
	defer v.mu.RUnlock()

	counts := make(map[string]int, len(v.stats))
	for k, c := range v.stats {
		counts[k] = c
	}
	return map[string]interface{}{
		"strict_mode": v.strictMode,
		"rules":       len(v.rules),
		"counts":      counts,
	}
}

// String 便于日志输出
func (r *ValidationResult) String() string {
	return fmt.Sprintf("%s valid=%t errors=%d warnings=%d", r.DataType, r.Valid, len(r.Errors), len(r.Warnings))
}
