package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/futarchy"
	"github.com/alanyoungcy/ideapool/internal/ledger"
	"github.com/alanyoungcy/ideapool/internal/notify"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type poolFixture struct {
	chain          *fakeLedger
	protocol       *futarchy.Client
	store          *fakeStore
	journal        *memJournal
	locks          *memLocks
	rec            *recorder
	permissionless solana.PrivateKey
	cfg            PoolConfig
	now            time.Time
}

func newPoolFixture(t *testing.T, idea domain.Idea) *poolFixture {
	t.Helper()
	chain := newFakeLedger()
	return &poolFixture{
		chain:          chain,
		protocol:       futarchy.NewClient(futarchy.DefaultPrograms(), chain),
		store:          newFakeStore(idea),
		journal:        newMemJournal(),
		locks:          &memLocks{held: map[string]bool{}},
		rec:            &recorder{},
		permissionless: solana.NewWallet().PrivateKey,
		cfg: PoolConfig{
			SponsorVoteThreshold: 10,
			LockTTL:              time.Minute,
			ResumeEnabled:        true,
			BaseMint:             newKey(),
			QuoteMint:            newKey(),
		},
		now: time.UnixMilli(1_700_000_000_000),
	}
}

func (f *poolFixture) service() *PoolService {
	svc := NewPoolService(f.store, f.chain, f.protocol, f.permissionless, f.journal, f.locks, f.rec.outputs(), f.cfg, nil)
	svc.now = func() time.Time { return f.now }
	return svc
}

// expectNewDao registers the multisig of the DAO the saga will create so
// the container step can read its transaction index.
func (f *poolFixture) expectNewDao(t *testing.T) futarchy.DaoRefs {
	t.Helper()
	payer := f.chain.PublicKey()
	init, err := f.protocol.InitializeDao(payer, payer, f.cfg.BaseMint, f.cfg.QuoteMint, uint64(f.now.UnixMilli()), f.cfg.DaoParams)
	require.NoError(t, err)
	data, err := futarchy.EncodeSquadsMultisig(futarchy.SquadsMultisig{Threshold: 1, TransactionIndex: 4})
	require.NoError(t, err)
	f.chain.accounts[init.Refs.Multisig] = data
	return init.Refs
}

func TestCreatePoolRunsEveryStep(t *testing.T) {
	f := newPoolFixture(t, domain.Idea{ID: "idea-1", Title: "Solar roofs", Votes: 3, PoolStatus: domain.PoolStatusNone})
	dao := f.expectNewDao(t)

	mapping, err := f.service().CreatePool(context.Background(), "idea-1")
	require.NoError(t, err)

	assert.Equal(t, 4, f.chain.sentCount())
	assert.Equal(t, dao.Address.String(), mapping.DAOAddress)
	assert.NotEmpty(t, mapping.ProposalPubkey)
	assert.NotEmpty(t, mapping.PassPoolAddress)
	assert.NotEqual(t, mapping.PassPoolAddress, mapping.FailPoolAddress)
	assert.True(t, mapping.Sponsor, "3 votes is below the threshold of 10")
	assert.Equal(t, testSignature(4).String(), mapping.PoolCreateTx)
	assert.Equal(t, testSignature(1).String(), mapping.OnchainRefs.DAOInitTx)
	assert.Equal(t, "5", mapping.OnchainRefs.TransactionIndex)

	// Only the container transaction is co-signed.
	require.Len(t, f.chain.cosigners[1], 1)
	assert.Equal(t, f.permissionless.PublicKey(), f.chain.cosigners[1][0].PublicKey())
	assert.Empty(t, f.chain.cosigners[0])
	assert.Empty(t, f.chain.cosigners[2])

	require.Len(t, f.store.mappings, 1)
	assert.Equal(t, mapping, f.store.mappings[0])

	require.Len(t, f.journal.entries, 4)
	assert.Equal(t, domain.StepDAOReady, f.journal.entries[0].Step)
	assert.Equal(t, domain.StepMarketsLaunched, f.journal.entries[3].Step)
	assert.True(t, f.journal.completed[f.journal.entries[0].RunID])

	assert.Contains(t, f.rec.labels(), "Creating DAO...")
	assert.Contains(t, f.rec.labels(), "Launching markets...")
	assert.Equal(t, []string{"pool_created"}, f.rec.audits)
	assert.Equal(t, []string{"idea-1/pool.json"}, f.rec.receipts)
	require.Len(t, f.rec.alerts, 1)
	assert.Equal(t, notify.EventPoolCreated, f.rec.alerts[0].Event)
}

func TestCreatePoolReusesExistingDao(t *testing.T) {
	f := newPoolFixture(t, domain.Idea{ID: "idea-1", Votes: 25})
	s := seedProposal(t, f.chain, f.protocol, futarchy.ProposalPending)
	f.store.ideas["idea-1"] = domain.Idea{ID: "idea-1", Votes: 25, GovernanceRealmAddress: s.dao.String()}

	mapping, err := f.service().CreatePool(context.Background(), "idea-1")
	require.NoError(t, err)
	assert.Equal(t, 3, f.chain.sentCount())
	assert.Equal(t, s.dao.String(), mapping.DAOAddress)
	assert.Empty(t, mapping.OnchainRefs.DAOInitTx)
	assert.False(t, mapping.Sponsor)
}

func TestCreatePoolRejectsActiveOrFinalizedIdea(t *testing.T) {
	for _, idea := range []domain.Idea{
		{ID: "idea-1", PoolStatus: domain.PoolStatusActive},
		{ID: "idea-1", ProposalPubkey: newKey().String()},
		{ID: "idea-1", PoolStatus: domain.PoolStatusFinalized},
	} {
		f := newPoolFixture(t, idea)
		_, err := f.service().CreatePool(context.Background(), "idea-1")
		require.Error(t, err)
		assert.True(t, domain.IsPrecondition(err), err.Error())
		assert.Zero(t, f.chain.sentCount())
	}
}

func TestCreatePoolRechecksIdeaUnderLock(t *testing.T) {
	f := newPoolFixture(t, domain.Idea{ID: "idea-1", PoolStatus: domain.PoolStatusNone})
	f.expectNewDao(t)
	// The second read sees the pool another run persisted while this one
	// waited for the lock.
	f.store.onGet = func(n int, idea domain.Idea) domain.Idea {
		if n > 1 {
			idea.PoolStatus = domain.PoolStatusActive
			idea.ProposalPubkey = newKey().String()
		}
		return idea
	}

	_, err := f.service().CreatePool(context.Background(), "idea-1")
	assert.ErrorIs(t, err, domain.ErrPoolAlreadyActive)
	assert.Equal(t, 2, f.store.gets)
	assert.Zero(t, f.chain.sentCount())
	assert.Empty(t, f.store.mappings)
	assert.False(t, f.locks.held["pool:idea-1"], "lock released")
}

func TestCreatePoolRequiresSigner(t *testing.T) {
	f := newPoolFixture(t, domain.Idea{ID: "idea-1"})
	f.chain.connected = false
	_, err := f.service().CreatePool(context.Background(), "idea-1")
	assert.ErrorIs(t, err, domain.ErrWalletNotConnected)

	f = newPoolFixture(t, domain.Idea{ID: "idea-1"})
	f.permissionless = nil
	_, err = f.service().CreatePool(context.Background(), "idea-1")
	assert.ErrorIs(t, err, domain.ErrSigningUnavailable)
	assert.Zero(t, f.chain.sentCount())
}

func TestCreatePoolLockHeld(t *testing.T) {
	f := newPoolFixture(t, domain.Idea{ID: "idea-1"})
	f.locks.held["pool:idea-1"] = true

	_, err := f.service().CreatePool(context.Background(), "idea-1")
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, f.chain.sentCount())
}

func TestCreatePoolStepFailureReportsCompletedSteps(t *testing.T) {
	f := newPoolFixture(t, domain.Idea{ID: "idea-1"})
	f.expectNewDao(t)
	f.chain.failAt = 3
	f.chain.failSig = testSignature(3)
	f.chain.failErr = &ledger.TxError{Kind: domain.ErrExecutionReverted, Signature: testSignature(3)}

	_, err := f.service().CreatePool(context.Background(), "idea-1")
	var sagaErr *domain.SagaError
	require.True(t, errors.As(err, &sagaErr))
	assert.Equal(t, domain.StepProposalInitialized, sagaErr.Step)
	require.Len(t, sagaErr.Completed, 2)
	assert.Equal(t, domain.StepDAOReady, sagaErr.Completed[0].Step)
	assert.Equal(t, testSignature(2).String(), sagaErr.Completed[1].Signature)
	assert.ErrorIs(t, err, domain.ErrExecutionReverted)

	assert.Empty(t, f.store.mappings)
	assert.Len(t, f.journal.entries, 2)
	assert.Empty(t, f.journal.completed)
	require.Len(t, f.rec.alerts, 1)
	assert.Equal(t, notify.EventPoolFailed, f.rec.alerts[0].Event)
	assert.Equal(t, []string{"pool_failed"}, f.rec.audits)
}

func TestCreatePoolStoreRejectionIsSyncError(t *testing.T) {
	f := newPoolFixture(t, domain.Idea{ID: "idea-1"})
	f.expectNewDao(t)
	f.store.rejectPool = "pool already exists"

	mapping, err := f.service().CreatePool(context.Background(), "idea-1")
	var sagaErr *domain.SagaError
	require.True(t, errors.As(err, &sagaErr))
	assert.Equal(t, domain.StepMappingPersisted, sagaErr.Step)
	assert.Len(t, sagaErr.Completed, 4)
	assert.ErrorIs(t, err, domain.ErrSyncFailed)
	assert.ErrorIs(t, err, domain.ErrStoreRejected)

	var syncErr *domain.SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, testSignature(4).String(), syncErr.Signature)
	assert.NotEmpty(t, mapping.ProposalPubkey)
	require.Len(t, f.rec.alerts, 1)
	assert.Equal(t, notify.EventSyncFailed, f.rec.alerts[0].Event)
}

func TestCreatePoolResumesFromJournal(t *testing.T) {
	f := newPoolFixture(t, domain.Idea{ID: "idea-1"})
	s := seedProposal(t, f.chain, f.protocol, futarchy.ProposalPending)
	container := newKey()
	f.chain.accounts[container] = []byte{1}
	f.journal = newMemJournal(
		domain.JournalEntry{
			IdeaID: "idea-1", RunID: "run-1", Step: domain.StepDAOReady,
			Signature: "daoSig", Refs: map[string]string{"dao": s.dao.String()},
		},
		domain.JournalEntry{
			IdeaID: "idea-1", RunID: "run-1", Step: domain.StepProposalContainerCreated,
			Signature: "containerSig",
			Refs:      map[string]string{"squadsProposal": container.String(), "transactionIndex": "3"},
		},
	)

	mapping, err := f.service().CreatePool(context.Background(), "idea-1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.chain.sentCount(), "only initialize and launch remain")
	assert.Equal(t, s.dao.String(), mapping.DAOAddress)
	assert.Equal(t, "daoSig", mapping.OnchainRefs.DAOInitTx)
	assert.Equal(t, "containerSig", mapping.OnchainRefs.SquadsCreateTx)
	assert.Equal(t, container.String(), mapping.OnchainRefs.SquadsProposal)
	assert.True(t, f.journal.completed["run-1"])
}

func TestCreatePoolIgnoresJournalStepMissingOnLedger(t *testing.T) {
	f := newPoolFixture(t, domain.Idea{ID: "idea-1"})
	dao := f.expectNewDao(t)
	f.journal = newMemJournal(domain.JournalEntry{
		IdeaID: "idea-1", RunID: "stale", Step: domain.StepDAOReady,
		Refs: map[string]string{"dao": newKey().String()},
	})

	mapping, err := f.service().CreatePool(context.Background(), "idea-1")
	require.NoError(t, err)
	assert.Equal(t, 4, f.chain.sentCount())
	assert.Equal(t, dao.Address.String(), mapping.DAOAddress)
}
