package ideastore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
)

// flexFloat accepts a JSON number, a numeric string or null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("ideastore: bad number %q: %w", s, err)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type apiIdea struct {
	ID                     string          `json:"id"`
	Title                  string          `json:"title"`
	Votes                  flexFloat       `json:"votes"`
	GovernanceRealmAddress string          `json:"governanceRealmAddress"`
	ProposalPubkey         string          `json:"proposalPubkey"`
	PassPoolAddress        string          `json:"passPoolAddress"`
	FailPoolAddress        string          `json:"failPoolAddress"`
	PoolStatus             string          `json:"poolStatus"`
	FinalDecision          string          `json:"finalDecision"`
	PoolCreateTx           string          `json:"poolCreateTx"`
	PoolFinalizeTx         string          `json:"poolFinalizeTx"`
	FinalizedAt            *time.Time      `json:"finalizedAt"`
	Project                json.RawMessage `json:"project"`
}

func (a apiIdea) toDomain() domain.Idea {
	status := domain.PoolStatus(a.PoolStatus)
	if status == "" {
		status = domain.PoolStatusNone
	}
	return domain.Idea{
		ID:                     a.ID,
		Title:                  a.Title,
		Votes:                  int(a.Votes),
		GovernanceRealmAddress: a.GovernanceRealmAddress,
		ProposalPubkey:         a.ProposalPubkey,
		PassPoolAddress:        a.PassPoolAddress,
		FailPoolAddress:        a.FailPoolAddress,
		PoolStatus:             status,
		FinalDecision:          domain.Decision(a.FinalDecision),
		PoolCreateTx:           a.PoolCreateTx,
		PoolFinalizeTx:         a.PoolFinalizeTx,
		FinalizedAt:            a.FinalizedAt,
	}
}

// decodeIdea accepts the idea either as data itself or nested under
// data.project, which the pool and finalize endpoints return.
func decodeIdea(raw json.RawMessage) (domain.Idea, error) {
	var a apiIdea
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.Idea{}, err
	}
	if a.ID == "" && len(a.Project) > 0 && string(a.Project) != "null" {
		var inner apiIdea
		if err := json.Unmarshal(a.Project, &inner); err != nil {
			return domain.Idea{}, err
		}
		return inner.toDomain(), nil
	}
	return a.toDomain(), nil
}

type apiStats struct {
	PoolStatus      string     `json:"poolStatus"`
	ProposalPubkey  string     `json:"proposalPubkey"`
	PassPoolAddress string     `json:"passPoolAddress"`
	FailPoolAddress string     `json:"failPoolAddress"`
	PassPoolBalance flexFloat  `json:"passPoolBalance"`
	FailPoolBalance flexFloat  `json:"failPoolBalance"`
	FinalDecision   string     `json:"finalDecision"`
	FinalizedAt     *time.Time `json:"finalizedAt"`
	UpdatedAt       *time.Time `json:"updatedAt"`
}

func decodeStats(raw json.RawMessage) (domain.MarketStats, error) {
	var a apiStats
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.MarketStats{}, err
	}
	status := domain.PoolStatus(a.PoolStatus)
	if status == "" {
		status = domain.PoolStatusNone
	}
	s := domain.MarketStats{
		PoolStatus:      status,
		ProposalPubkey:  a.ProposalPubkey,
		PassPoolAddress: a.PassPoolAddress,
		FailPoolAddress: a.FailPoolAddress,
		PassPoolBalance: float64(a.PassPoolBalance),
		FailPoolBalance: float64(a.FailPoolBalance),
		FinalDecision:   domain.Decision(a.FinalDecision),
		FinalizedAt:     a.FinalizedAt,
		Source:          "store",
	}
	if a.UpdatedAt != nil {
		s.UpdatedAt = *a.UpdatedAt
	} else {
		s.UpdatedAt = time.Now().UTC()
	}
	return s.WithProbabilities(), nil
}
