package dispute

import (
	"fraudguard/internal/errors"
	"fraudguard/pkg/models"
)

// Policy 争议生命周期策略
type Policy struct {
	// MinEvidence 进入投票前需要的最少证据数
	MinEvidence int `json:"min_evidence"`
	// Quorum 结案所需的最少总票数
	Quorum int `json:"quorum"`
	// AutoStartVoting 证据数达到 MinEvidence（且大于0）时自动进入投票
	AutoStartVoting bool `json:"auto_start_voting"`
	// AutoResolve 总票数达到 Quorum 时自动结案
	AutoResolve bool `json:"auto_resolve"`
}

// DefaultPolicy 默认策略：无证据要求，至少一票才能结案，全部手动推进
func DefaultPolicy() Policy {
	return Policy{
		MinEvidence: 0,
		Quorum:      1,
	}
}

// Validate 校验策略参数
func (p Policy) Validate() error {
	if p.MinEvidence < 0 {
		return errors.Validation("min_evidence 不能为负数: %d", p.MinEvidence)
	}
	if p.Quorum < 0 {
		return errors.Validation("quorum 不能为负数: %d", p.Quorum)
	}
	return nil
}

// shouldAutoStart 证据数达到阈值时是否自动开启投票
func (p Policy) shouldAutoStart(evidenceCount int) bool {
	return p.AutoStartVoting && p.MinEvidence > 0 && evidenceCount >= p.MinEvidence
}

// quorumMet 总票数是否达到法定人数
func (p Policy) quorumMet(totalVotes int) bool {
	return totalVotes >= p.Quorum
}

// DeriveResolution 赞成票严格多于反对票才批准，平票驳回
func DeriveResolution(votesFor, votesAgainst int) models.Resolution {
	if votesFor > votesAgainst {
		return models.ResolutionApproved
	}
	return models.ResolutionRejected
}
