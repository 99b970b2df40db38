package domain

import "time"

// OnchainRefs carries the ledger artifacts produced by the pool saga.
type OnchainRefs struct {
	DAOInitTx        string `json:"daoInitTx,omitempty"`
	SquadsCreateTx   string `json:"squadsCreateTx"`
	InitializeTx     string `json:"initializeTx"`
	LaunchTx         string `json:"launchTx"`
	SquadsProposal   string `json:"squadsProposal"`
	TransactionIndex string `json:"transactionIndex"`
	Question         string `json:"question"`
	BaseVault        string `json:"baseVault"`
	QuoteVault       string `json:"quoteVault"`
}

// PoolMapping links an idea to its DAO, proposal and the two conditional
// pools. It is written to the idea store exactly once, after every ledger
// step of the saga has been confirmed.
type PoolMapping struct {
	DAOAddress      string      `json:"daoAddress"`
	ProposalPubkey  string      `json:"proposalPubkey"`
	PassPoolAddress string      `json:"passPoolAddress"`
	FailPoolAddress string      `json:"failPoolAddress"`
	PoolCreateTx    string      `json:"poolCreateTx"`
	Sponsor         bool        `json:"sponsor"`
	OnchainRefs     OnchainRefs `json:"onchainRefs"`
}

// MarketStats is the read-side projection of an idea's two markets.
type MarketStats struct {
	PoolStatus      PoolStatus `json:"poolStatus"`
	ProposalPubkey  string     `json:"proposalPubkey,omitempty"`
	PassPoolAddress string     `json:"passPoolAddress,omitempty"`
	FailPoolAddress string     `json:"failPoolAddress,omitempty"`
	PassPoolBalance float64    `json:"passPoolBalance"`
	FailPoolBalance float64    `json:"failPoolBalance"`
	PassProbability *float64   `json:"passProbability"`
	FailProbability *float64   `json:"failProbability"`
	FinalDecision   Decision   `json:"finalDecision,omitempty"`
	FinalizedAt     *time.Time `json:"finalizedAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	Source          string     `json:"source,omitempty"`
}

// WithProbabilities fills the implied probabilities from the pool balances.
// Both stay nil while the pools are empty.
func (s MarketStats) WithProbabilities() MarketStats {
	total := s.PassPoolBalance + s.FailPoolBalance
	if total <= 0 {
		s.PassProbability, s.FailProbability = nil, nil
		return s
	}
	pass := s.PassPoolBalance / total
	fail := s.FailPoolBalance / total
	s.PassProbability = &pass
	s.FailProbability = &fail
	return s
}

// FinalizeRecord is what the idea store records when a proposal is finalized.
type FinalizeRecord struct {
	Decision       Decision `json:"decision"`
	OnchainTx      string   `json:"onchainTx"`
	ProposalPubkey string   `json:"proposalPubkey"`
}
