package transaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"fraudguard/internal/errors"
	"fraudguard/internal/validation"
	"fraudguard/pkg/models"
)

const selectColumns = `t.id, t.timestamp, t.from_address, t.to_address, t.amount, t.currency, t.status,
	t.risk_level, t.block_confirmations, t.block_hash,
	a.fraud_score, a.verdict, a.confidence, a.analysis_time, a.details, a.source`

const fromClause = `FROM transactions t LEFT JOIN transaction_ai_analysis a ON a.transaction_id = t.id`

// PostgresRepository 基于 PostgreSQL 的交易查询
type PostgresRepository struct {
	db           *sql.DB
	validator    *validation.Validator
	logger       *logrus.Logger
	defaultLimit int
	maxLimit     int
}

// NewPostgresRepository 连接数据库并创建交易查询
func NewPostgresRepository(dsn string, validator *validation.Validator, logger *logrus.Logger) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresRepository{
		db:           db,
		validator:    validator,
		logger:       logger,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
	}, nil
}

// SetLimits 设置分页参数
func (r *PostgresRepository) SetLimits(defaultLimit, maxLimit int) {
	r.defaultLimit = defaultLimit
	r.maxLimit = maxLimit
}

// buildWhere 生成过滤条件与参数，参数从 $1 开始编号
func buildWhere(filter Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filter.Wallet != "" {
		args = append(args, strings.ToLower(filter.Wallet))
		n := len(args)
		conds = append(conds, fmt.Sprintf("(lower(t.from_address) = $%d OR lower(t.to_address) = $%d)", n, n))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("t.timestamp >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("t.timestamp <= $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildListQuery 生成分页查询与计数查询
func buildListQuery(filter Filter) (listQuery, countQuery string, args []interface{}) {
	where, args := buildWhere(filter)
	countQuery = "SELECT COUNT(*) FROM transactions t" + where

	listArgs := append(append([]interface{}(nil), args...), filter.Limit, filter.Offset)
	listQuery = fmt.Sprintf("SELECT %s %s%s ORDER BY t.timestamp DESC, t.id LIMIT $%d OFFSET $%d",
		selectColumns, fromClause, where, len(listArgs)-1, len(listArgs))
	return listQuery, countQuery, listArgs
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		tx           models.Transaction
		amount       decimal.Decimal
		status, risk string
		blockHash    sql.NullString
		score        sql.NullInt64
		verdict      sql.NullString
		confidence   sql.NullInt64
		analysisTime sql.NullTime
		details      []byte
		source       sql.NullString
	)

	err := row.Scan(&tx.ID, &tx.Timestamp, &tx.From, &tx.To, &amount, &tx.Currency, &status,
		&risk, &tx.BlockConfirmations, &blockHash,
		&score, &verdict, &confidence, &analysisTime, &details, &source)
	if err != nil {
		return nil, err
	}

	tx.Amount = amount
	tx.Status = models.TransactionStatus(status)
	tx.RiskLevel = models.RiskLevel(risk)
	tx.BlockHash = blockHash.String

	if score.Valid {
		result := &models.AIAnalysisResult{
			TransactionID: tx.ID,
			FraudScore:    int(score.Int64),
			Verdict:       models.Verdict(verdict.String),
			Confidence:    int(confidence.Int64),
			AnalysisTime:  analysisTime.Time,
			Source:        models.AnalysisSource(source.String),
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &result.Details); err != nil {
				return nil, fmt.Errorf("解析分析明细失败: %w", err)
			}
		}
		tx.AIDetection = result
	}

	return &tx, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Transaction, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE t.id = $1", selectColumns, fromClause)
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("transaction", id)
	}
	if err != nil {
		return nil, errors.Storage(err, "查询交易失败")
	}
	return tx, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter Filter) (*Page, error) {
	filter, err := filter.Normalize(r.defaultLimit, r.maxLimit)
	if err != nil {
		return nil, err
	}

	listQuery, countQuery, args := buildListQuery(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args[:len(args)-2]...).Scan(&total); err != nil {
		return nil, errors.Storage(err, "统计交易失败")
	}

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, errors.Storage(err, "查询交易失败")
	}
	defer rows.Close()

	items := make([]*models.Transaction, 0, filter.Limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Storage(err, "读取交易失败")
		}
		if result := r.validator.ValidateTransaction(tx); !result.Valid {
			r.logger.WithField("transaction_id", tx.ID).Warnf("数据库中的交易未通过校验: %v", result.Err())
		}
		items = append(items, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage(err, "读取交易失败")
	}

	return &Page{
		Items:   items,
		Total:   total,
		HasMore: filter.Offset+len(items) < total,
	}, nil
}

// AttachAnalysis 写入最新分析结果，每笔交易只保留一条
func (r *PostgresRepository) AttachAnalysis(ctx context.Context, id string, result *models.AIAnalysisResult) error {
	tx, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if tx.Status == models.TransactionRejected {
		return errors.InvalidState("交易 %s 已被拒绝，不可修改", id)
	}

	details, err := json.Marshal(result.Details)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, errors.SeverityMedium, "SERIALIZATION_FAILED", "序列化分析明细失败")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO transaction_ai_analysis
			(transaction_id, fraud_score, verdict, confidence, analysis_time, details, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO UPDATE SET
			fraud_score = EXCLUDED.fraud_score,
			verdict = EXCLUDED.verdict,
			confidence = EXCLUDED.confidence,
			analysis_time = EXCLUDED.analysis_time,
			details = EXCLUDED.details,
			source = EXCLUDED.source`,
		id, result.FraudScore, string(result.Verdict), result.Confidence, result.AnalysisTime, string(details), string(result.Source))
	if err != nil {
		return errors.Storage(err, "保存分析结果失败")
	}
	return nil
}

// UpdateRiskLevel 调整风险等级，已拒绝的交易不受影响
func (r *PostgresRepository) UpdateRiskLevel(ctx context.Context, id string, level models.RiskLevel) error {
	if !level.Valid() {
		return errors.Validation("无效的风险等级: %s", level)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET risk_level = $1 WHERE id = $2 AND status <> 'rejected'`, string(level), id)
	if err != nil {
		return errors.Storage(err, "更新风险等级失败")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Storage(err, "更新风险等级失败")
	}
	if n == 0 {
		// 区分不存在与已拒绝
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return errors.InvalidState("交易 %s 已被拒绝，不可修改", id)
	}
	return nil
}

// Close 关闭数据库连接
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
