package models

import "time"

// DisputeStatus 争议状态，只能 open → voting → resolved 单向推进
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeVoting   DisputeStatus = "voting"
	DisputeResolved DisputeStatus = "resolved"
)

// Rank 返回状态在生命周期中的序号
func (s DisputeStatus) Rank() int {
	switch s {
	case DisputeOpen:
		return 0
	case DisputeVoting:
		return 1
	case DisputeResolved:
		return 2
	}
	return -1
}

// Resolution 争议裁决
type Resolution string

const (
	ResolutionApproved Resolution = "approved"
	ResolutionRejected Resolution = "rejected"
)

// DisputeEventType 争议事件类型
type DisputeEventType string

const (
	EventCreated       DisputeEventType = "created"
	EventEvidenceAdded DisputeEventType = "evidence_added"
	EventVotingStarted DisputeEventType = "voting_started"
	EventVoteCast      DisputeEventType = "vote_cast"
	EventResolved      DisputeEventType = "resolved"
)

// Evidence 证据，提交后不可修改或删除
type Evidence struct {
	ID          string    `json:"id"`
	DisputeID   string    `json:"dispute_id"`
	Reference   string    `json:"reference"` // 内容寻址引用，如 IPFS CID
	Description string    `json:"description"`
	FileType    string    `json:"file_type"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// DisputeEvent 争议审计事件
type DisputeEvent struct {
	ID        string                 `json:"id"`
	DisputeID string                 `json:"dispute_id"`
	Type      DisputeEventType       `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Dispute 针对交易欺诈判定的争议
type Dispute struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	Description   string          `json:"description"`
	Status        DisputeStatus   `json:"status"`
	Resolution    *Resolution     `json:"resolution,omitempty"`
	VotesFor      int             `json:"votes_for"`
	VotesAgainst  int             `json:"votes_against"`
	Voters        map[string]bool `json:"voters,omitempty"` // voterID → 支持与否
	Evidence      []Evidence      `json:"evidence"`
	Timeline      []DisputeEvent  `json:"timeline"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

// TotalVotes 总票数
func (d *Dispute) TotalVotes() int {
	return d.VotesFor + d.VotesAgainst
}

// HasVoted 判断投票人是否已投票
func (d *Dispute) HasVoted(voterID string) bool {
	_, ok := d.Voters[voterID]
	return ok
}

// Clone 深拷贝争议，读取方拿到的是已提交的快照
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	c := *d
	if d.Resolution != nil {
		r := *d.Resolution
		c.Resolution = &r
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		c.ResolvedAt = &t
	}
	if d.Voters != nil {
		c.Voters = make(map[string]bool, len(d.Voters))
		for k, v := range d.Voters {
			c.Voters[k] = v
		}
	}
	c.Evidence = append([]Evidence(nil), d.Evidence...)
	c.Timeline = make([]DisputeEvent, len(d.Timeline))
	for i, ev := range d.Timeline {
		c.Timeline[i] = ev.Clone()
	}
	return &c
}

// Clone 拷贝事件，payload 做浅层复制
func (e DisputeEvent) Clone() DisputeEvent {
	if e.Data != nil {
		data := make(map[string]interface{}, len(e.Data))
		for k, v := range e.Data {
			data[k] = v
		}
		e.Data = data
	}
	return e
}
