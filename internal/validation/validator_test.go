package validation

import (
	"io"
	"testing"
	"time"

	"fraudguard/internal/errors"
	"fraudguard/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(strict bool) *Validator {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewValidator(logger, strict)
}

func validTransaction() *models.Transaction {
	return &models.Transaction{
		ID:                 "tx-1001",
		Timestamp:          time.Now(),
		From:               "0x1234567890abcdef1234567890abcdef12345678",
		To:                 "0xabcdef1234567890abcdef1234567890abcdef12",
		Amount:             decimal.RequireFromString("1.25"),
		Currency:           "ETH",
		Status:             models.TransactionConfirmed,
		RiskLevel:          models.RiskLow,
		BlockConfirmations: 12,
		BlockHash:          "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
	}
}

func TestNewValidator(t *testing.T) {
	validator := newTestValidator(true)

	assert.True(t, validator.strictMode)
	assert.Equal(t, 4, len(validator.rules)) // 默认注册的规则数量
}

func TestValidateTransaction_Valid(t *testing.T) {
	result := newTestValidator(false).ValidateTransaction(validTransaction())

	assert.True(t, result.Valid)
	assert.Equal(t, "transaction", result.DataType)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.NoError(t, result.Err())
}

func TestValidateTransaction_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tx *models.Transaction)
	}{
		{"缺少ID", func(tx *models.Transaction) { tx.ID = "" }},
		{"金额为负", func(tx *models.Transaction) { tx.Amount = decimal.NewFromInt(-1) }},
		{"缺少币种", func(tx *models.Transaction) { tx.Currency = "" }},
		{"状态无效", func(tx *models.Transaction) { tx.Status = "settled" }},
		{"风险等级无效", func(tx *models.Transaction) { tx.RiskLevel = "extreme" }},
	}

	validator := newTestValidator(false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tt.mutate(tx)

			result := validator.ValidateTransaction(tx)
			assert.False(t, result.Valid)
			require.NotEmpty(t, result.Errors)
			assert.True(t, errors.Is(result.Err(), errors.ErrValidation))
		})
	}
}

func TestValidateTransaction_Nil(t *testing.T) {
	result := newTestValidator(false).ValidateTransaction(nil)
	assert.False(t, result.Valid)
}

func TestValidateTransaction_AddressWarnings(t *testing.T) {
	tx := validTransaction()
	tx.To = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"

	// 非严格模式只产生警告
	result := newTestValidator(false).ValidateTransaction(tx)
	assert.True(t, result.Valid)
	assert.Len(t, result.Warnings, 1)

	// 严格模式视为错误
	result = newTestValidator(true).ValidateTransaction(tx)
	assert.False(t, result.Valid)
}

func TestValidateTransaction_BlockHashWarning(t *testing.T) {
	tx := validTransaction()
	tx.BlockHash = "0x1234"

	result := newTestValidator(false).ValidateTransaction(tx)
	assert.True(t, result.Valid)
	assert.Len(t, result.Warnings, 1)
}

func TestValidateDisputeRequest(t *testing.T) {
	validator := newTestValidator(false)

	assert.True(t, validator.ValidateDisputeRequest(DisputeRequest{TransactionID: "tx-1", Description: "被盗"}).Valid)
	assert.False(t, validator.ValidateDisputeRequest(DisputeRequest{TransactionID: "tx-1", Description: "  "}).Valid)
	assert.False(t, validator.ValidateDisputeRequest(DisputeRequest{Description: "被盗"}).Valid)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7",
		NormalizeAddress(" 0x52908400098527886e0f7030069857d2e4169ee7 "))
	assert.Equal(t, "not-an-address", NormalizeAddress("not-an-address"))
	assert.True(t, IsWalletAddress("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, IsWalletAddress("0x1234"))
}

func TestGetValidationStats(t *testing.T) {
	validator := newTestValidator(false)
	validator.ValidateTransaction(validTransaction())
	validator.ValidateTransaction(nil)

	stats := validator.GetValidationStats()
	counts := stats["counts"].(map[string]int)
	assert.Equal(t, 2, counts["transaction_total"])
	assert.Equal(t, 1, counts["transaction_invalid"])
	assert.Equal(t, 4, stats["rules"])
}

func BenchmarkValidateTransaction(b *testing.B) {
	validator := newTestValidator(false)
	tx := validTransaction()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		validator.ValidateTransaction(tx)
	}
}
