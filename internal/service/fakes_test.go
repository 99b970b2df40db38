package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/futarchy"
	"github.com/alanyoungcy/ideapool/internal/notify"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
)

func newKey() solana.PublicKey { return solana.NewWallet().PublicKey() }

// fakeLedger serves both the Ledger port and the futarchy account reader.
type fakeLedger struct {
	mu        sync.Mutex
	key       solana.PrivateKey
	connected bool
	accounts  map[solana.PublicKey][]byte
	balances  map[solana.PublicKey]uint64
	sent      [][]solana.Instruction
	cosigners [][]solana.PrivateKey

	// failAt is the 1-based submission that returns failSig and failErr.
	failAt  int
	failSig solana.Signature
	failErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		key:       solana.NewWallet().PrivateKey,
		connected: true,
		accounts:  map[solana.PublicKey][]byte{},
		balances:  map[solana.PublicKey]uint64{},
	}
}

func testSignature(n int) solana.Signature {
	var sig solana.Signature
	sig[0] = byte(n)
	sig[63] = 0xab
	return sig
}

func (f *fakeLedger) Connected() bool             { return f.connected }
func (f *fakeLedger) PublicKey() solana.PublicKey { return f.key.PublicKey() }

func (f *fakeLedger) SignAndSend(_ context.Context, ixs []solana.Instruction, cosigners ...solana.PrivateKey) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ixs)
	f.cosigners = append(f.cosigners, cosigners)
	n := len(f.sent)
	if n == f.failAt {
		return f.failSig, f.failErr
	}
	return testSignature(n), nil
}

func (f *fakeLedger) AccountExists(_ context.Context, addr solana.PublicKey) (bool, error) {
	_, ok := f.accounts[addr]
	return ok, nil
}

func (f *fakeLedger) TokenBalance(_ context.Context, addr solana.PublicKey) (uint64, error) {
	return f.balances[addr], nil
}

func (f *fakeLedger) ExplorerLink(sig solana.Signature) string {
	return "https://explorer.test/tx/" + sig.String()
}

func (f *fakeLedger) AccountData(_ context.Context, addr solana.PublicKey) ([]byte, error) {
	if d, ok := f.accounts[addr]; ok {
		return d, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeLedger) ProgramAccounts(context.Context, solana.PublicKey, []rpc.RPCFilter) ([]*rpc.KeyedAccount, error) {
	return nil, nil
}

func (f *fakeLedger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// seeded is a DAO and proposal written into a fakeLedger.
type seeded struct {
	dao      solana.PublicKey
	multisig solana.PublicKey
	proposal solana.PublicKey
	refs     futarchy.ProposalRefs
	pools    futarchy.ConditionalPools
}

func seedProposal(t *testing.T, chain *fakeLedger, protocol *futarchy.Client, state futarchy.ProposalState) seeded {
	t.Helper()
	s := seeded{dao: newKey(), multisig: newKey(), proposal: newKey()}

	daoData, err := futarchy.EncodeDao(futarchy.Dao{
		SquadsMultisig:      s.multisig,
		SquadsMultisigVault: newKey(),
		BaseMint:            newKey(),
		QuoteMint:           newKey(),
	})
	require.NoError(t, err)
	propData, err := futarchy.EncodeProposal(futarchy.Proposal{
		Dao:            s.dao,
		State:          state,
		BaseVault:      newKey(),
		QuoteVault:     newKey(),
		Question:       newKey(),
		SquadsProposal: newKey(),
		PassBaseMint:   newKey(),
		PassQuoteMint:  newKey(),
		FailBaseMint:   newKey(),
		FailQuoteMint:  newKey(),
	})
	require.NoError(t, err)
	msData, err := futarchy.EncodeSquadsMultisig(futarchy.SquadsMultisig{Threshold: 1, TransactionIndex: 2})
	require.NoError(t, err)

	chain.accounts[s.dao] = daoData
	chain.accounts[s.proposal] = propData
	chain.accounts[s.multisig] = msData

	s.refs, _, err = protocol.ProposalRefs(context.Background(), s.dao, s.proposal)
	require.NoError(t, err)
	s.pools, err = s.refs.Pools()
	require.NoError(t, err)
	return s
}

type fakeStore struct {
	mu             sync.Mutex
	ideas          map[string]domain.Idea
	stats          map[string]domain.MarketStats
	rejectPool     string
	rejectFinalize string
	mappings       []domain.PoolMapping
	finalized      []domain.FinalizeRecord
	statsCalls     int
	gets           int
	// onGet, when set, may replace the idea returned by the nth GetIdea.
	onGet func(n int, idea domain.Idea) domain.Idea
}

func newFakeStore(ideas ...domain.Idea) *fakeStore {
	s := &fakeStore{ideas: map[string]domain.Idea{}, stats: map[string]domain.MarketStats{}}
	for _, i := range ideas {
		s.ideas[i.ID] = i
	}
	return s
}

func (s *fakeStore) GetIdea(_ context.Context, id string) domain.Result[domain.Idea] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	idea, ok := s.ideas[id]
	if !ok {
		return domain.FailErr[domain.Idea](fmt.Errorf("idea %w", domain.ErrNotFound))
	}
	if s.onGet != nil {
		idea = s.onGet(s.gets, idea)
	}
	return domain.Ok(idea)
}

func (s *fakeStore) CreateIdeaPool(_ context.Context, id string, m domain.PoolMapping) domain.Result[domain.Idea] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectPool != "" {
		return domain.Fail[domain.Idea](s.rejectPool)
	}
	s.mappings = append(s.mappings, m)
	idea := s.ideas[id]
	idea.GovernanceRealmAddress = m.DAOAddress
	idea.ProposalPubkey = m.ProposalPubkey
	idea.PassPoolAddress = m.PassPoolAddress
	idea.FailPoolAddress = m.FailPoolAddress
	idea.PoolCreateTx = m.PoolCreateTx
	idea.PoolStatus = domain.PoolStatusActive
	s.ideas[id] = idea
	return domain.Ok(idea)
}

func (s *fakeStore) GetIdeaMarketStats(_ context.Context, id string) domain.Result[domain.MarketStats] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsCalls++
	stats, ok := s.stats[id]
	if !ok {
		return domain.Fail[domain.MarketStats]("no market for idea")
	}
	return domain.Ok(stats)
}

func (s *fakeStore) FinalizeIdea(_ context.Context, id string, rec domain.FinalizeRecord) domain.Result[domain.Idea] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectFinalize != "" {
		return domain.Fail[domain.Idea](s.rejectFinalize)
	}
	if rec.Decision != domain.DecisionPass && rec.Decision != domain.DecisionReject {
		return domain.Fail[domain.Idea](fmt.Sprintf("final_decision %q violates check constraint", rec.Decision))
	}
	s.finalized = append(s.finalized, rec)
	now := time.Now().UTC()
	idea := s.ideas[id]
	idea.PoolStatus = domain.PoolStatusFinalized
	idea.FinalDecision = rec.Decision
	idea.PoolFinalizeTx = rec.OnchainTx
	idea.FinalizedAt = &now
	s.ideas[id] = idea
	return domain.Ok(idea)
}

type memJournal struct {
	mu        sync.Mutex
	entries   []domain.JournalEntry
	completed map[string]bool
}

func newMemJournal(entries ...domain.JournalEntry) *memJournal {
	return &memJournal{entries: entries, completed: map[string]bool{}}
}

func (j *memJournal) Append(_ context.Context, e domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) Latest(_ context.Context, ideaID string) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var runID string
	for _, e := range j.entries {
		if e.IdeaID == ideaID && !j.completed[e.RunID] {
			runID = e.RunID
		}
	}
	if runID == "" {
		return nil, domain.ErrNotFound
	}
	var out []domain.JournalEntry
	for _, e := range j.entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	domain.SortJournal(out)
	return out, nil
}

func (j *memJournal) Complete(_ context.Context, _, runID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completed[runID] = true
	return nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type memCache struct {
	mu          sync.Mutex
	stats       map[string]domain.MarketStats
	invalidated []string
}

func newMemCache() *memCache { return &memCache{stats: map[string]domain.MarketStats{}} }

func (c *memCache) Set(_ context.Context, id string, s domain.MarketStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[id] = s
	return nil
}

func (c *memCache) Get(_ context.Context, id string) (domain.MarketStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stats[id]
	if !ok {
		return domain.MarketStats{}, domain.ErrNotFound
	}
	return s, nil
}

func (c *memCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stats, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type fixedLimiter struct{ allow bool }

func (l fixedLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, nil
}

type recorder struct {
	mu       sync.Mutex
	events   []domain.StepEvent
	audits   []string
	receipts []string
	alerts   []notify.Alert
}

func (r *recorder) outputs() Outputs {
	return Outputs{Bus: r, Audit: r, Receipts: receiptRecorder{r}, Notifier: r}
}

func (r *recorder) Publish(_ context.Context, _ string, payload []byte) error {
	var ev domain.StepEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (r *recorder) Log(_ context.Context, event string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, event)
	return nil
}

func (r *recorder) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type receiptRecorder struct{ r *recorder }

func (rr receiptRecorder) Save(_ context.Context, ideaID, kind string, _ any) (string, error) {
	r := rr.r
	r.mu.Lock()
	defer r.mu.Unlock()
	path := ideaID + "/" + kind + ".json"
	r.receipts = append(r.receipts, path)
	return path, nil
}

func (rr receiptRecorder) List(context.Context, string) ([]domain.BlobInfo, error) {
	return nil, nil
}

func (rr receiptRecorder) Open(context.Context, string, string) (io.ReadCloser, error) {
	return nil, domain.ErrNotFound
}

func (r *recorder) Notify(_ context.Context, a notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recorder) labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Label)
	}
	return out
}
