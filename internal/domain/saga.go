package domain

import (
	"sort"
	"time"
)

// SagaStep identifies a position in the pool-creation saga. Steps are
// strictly ordered; a step is reached only when its transaction confirmed.
type SagaStep string

const (
	StepNone                     SagaStep = "none"
	StepDAOReady                 SagaStep = "dao_ready"
	StepProposalContainerCreated SagaStep = "proposal_container_created"
	StepProposalInitialized      SagaStep = "proposal_initialized"
	StepMarketsLaunched          SagaStep = "markets_launched"
	StepMappingPersisted         SagaStep = "mapping_persisted"
)

var stepOrder = map[SagaStep]int{
	StepNone:                     0,
	StepDAOReady:                 1,
	StepProposalContainerCreated: 2,
	StepProposalInitialized:      3,
	StepMarketsLaunched:          4,
	StepMappingPersisted:         5,
}

// Rank returns the step's position in the saga.
func (s SagaStep) Rank() int { return stepOrder[s] }

// Label is the human-readable progress text for the step that leads to s.
func (s SagaStep) Label() string {
	switch s {
	case StepDAOReady:
		return "Creating DAO..."
	case StepProposalContainerCreated:
		return "Creating proposal..."
	case StepProposalInitialized:
		return "Initializing proposal..."
	case StepMarketsLaunched:
		return "Launching markets..."
	case StepMappingPersisted:
		return "Saving pool..."
	default:
		return "Preparing..."
	}
}

// JournalEntry is one confirmed saga step, recorded so a later run for the
// same idea can resume instead of starting over.
type JournalEntry struct {
	IdeaID    string            `json:"ideaId"`
	RunID     string            `json:"runId"`
	Step      SagaStep          `json:"step"`
	Signature string            `json:"signature,omitempty"`
	Refs      map[string]string `json:"refs,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// SortJournal orders entries by saga step.
func SortJournal(entries []JournalEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Step.Rank() < entries[j].Step.Rank()
	})
}

// StepEvent is published while a saga or finalization makes progress.
type StepEvent struct {
	IdeaID    string    `json:"ideaId"`
	RunID     string    `json:"runId,omitempty"`
	Step      SagaStep  `json:"step,omitempty"`
	Label     string    `json:"label"`
	Signature string    `json:"signature,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}
