package domain

import (
	"fmt"
	"strings"
	"time"
)

// PoolStatus is the lifecycle state of an idea's decision pool.
type PoolStatus string

const (
	PoolStatusNone      PoolStatus = "none"
	PoolStatusPending   PoolStatus = "pending"
	PoolStatusActive    PoolStatus = "active"
	PoolStatusFinalized PoolStatus = "finalized"
)

// Decision is the administrative outcome recorded at finalization.
type Decision string

const (
	DecisionPass   Decision = "pass"
	DecisionReject Decision = "reject"
)

// ParseDecision normalizes s into a Decision.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionPass, DecisionReject:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q (want pass or reject)", ErrInvalidDecision, s)
	}
}

// Market selects the conditional market a trade targets.
type Market string

const (
	MarketPass Market = "pass"
	MarketFail Market = "fail"
)

// ParseMarket normalizes s into a Market.
func ParseMarket(s string) (Market, error) {
	switch m := Market(strings.ToLower(strings.TrimSpace(s))); m {
	case MarketPass, MarketFail:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q (want pass or fail)", ErrInvalidMarket, s)
	}
}

// Idea is an entry in the off-chain idea registry. Address fields are empty
// until the pool saga has written a mapping.
type Idea struct {
	ID                     string     `json:"id"`
	Title                  string     `json:"title"`
	Votes                  int        `json:"votes"`
	GovernanceRealmAddress string     `json:"governanceRealmAddress,omitempty"`
	ProposalPubkey         string     `json:"proposalPubkey,omitempty"`
	PassPoolAddress        string     `json:"passPoolAddress,omitempty"`
	FailPoolAddress        string     `json:"failPoolAddress,omitempty"`
	PoolStatus             PoolStatus `json:"poolStatus"`
	FinalDecision          Decision   `json:"finalDecision,omitempty"`
	PoolCreateTx           string     `json:"poolCreateTx,omitempty"`
	PoolFinalizeTx         string     `json:"poolFinalizeTx,omitempty"`
	FinalizedAt            *time.Time `json:"finalizedAt,omitempty"`
}

// HasPool reports whether the idea references both a DAO and a proposal.
func (i Idea) HasPool() bool {
	return i.GovernanceRealmAddress != "" && i.ProposalPubkey != ""
}

// IsFinalized reports whether the idea reached its terminal state.
func (i Idea) IsFinalized() bool {
	return i.PoolStatus == PoolStatusFinalized
}

// NeedsSponsor reports whether an idea with the given vote count needs a
// sponsor under threshold. It is bookkeeping only and never gates creation.
func NeedsSponsor(votes, threshold int) bool {
	return votes < threshold
}
