package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/futarchy"
	"github.com/alanyoungcy/ideapool/internal/notify"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// PoolConfig holds the parameters of the pool-creation saga.
type PoolConfig struct {
	SponsorVoteThreshold int
	LockTTL              time.Duration
	ResumeEnabled        bool
	BaseMint             solana.PublicKey
	QuoteMint            solana.PublicKey
	DaoParams            futarchy.DaoParams
}

// PoolService turns an idea into a live decision pool: a DAO, a squads
// proposal container, a futarchy proposal and its two conditional markets.
// Each step is confirmed on the ledger before the next is built.
type PoolService struct {
	store          domain.IdeaStore
	chain          Ledger
	protocol       *futarchy.Client
	permissionless solana.PrivateKey
	journal        domain.SagaJournal
	locks          domain.LockManager
	fx             sideEffects
	cfg            PoolConfig
	logger         *slog.Logger
	now            func() time.Time
}

// NewPoolService creates a PoolService. journal and locks may be nil, which
// disables resuming and per-idea locking respectively.
func NewPoolService(
	store domain.IdeaStore,
	chain Ledger,
	protocol *futarchy.Client,
	permissionless solana.PrivateKey,
	journal domain.SagaJournal,
	locks domain.LockManager,
	out Outputs,
	cfg PoolConfig,
	logger *slog.Logger,
) *PoolService {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "pool_service"))
	return &PoolService{
		store:          store,
		chain:          chain,
		protocol:       protocol,
		permissionless: permissionless,
		journal:        journal,
		locks:          locks,
		fx:             out.with(logger),
		cfg:            cfg,
		logger:         logger,
		now:            time.Now,
	}
}

// sagaRun is the in-memory state of one pool-creation attempt.
type sagaRun struct {
	id        string
	ideaID    string
	step      domain.SagaStep
	completed []domain.StepResult

	dao            futarchy.DaoRefs
	daoTx          string
	squadsProposal solana.PublicKey
	txIndex        uint64
	containerTx    string
	proposal       futarchy.ProposalRefs
	initializeTx   string
	passPool       solana.PublicKey
	failPool       solana.PublicKey
	launchTx       string
}

func (r *sagaRun) advance(step domain.SagaStep, sig string) {
	r.step = step
	r.completed = append(r.completed, domain.StepResult{Step: step, Signature: sig})
}

// journalRefs returns the addresses a later run needs to re-read the
// entity created by step.
func (r *sagaRun) journalRefs(step domain.SagaStep) map[string]string {
	switch step {
	case domain.StepDAOReady:
		return map[string]string{"dao": r.dao.Address.String()}
	case domain.StepProposalContainerCreated:
		return map[string]string{
			"squadsProposal":   r.squadsProposal.String(),
			"transactionIndex": strconv.FormatUint(r.txIndex, 10),
		}
	case domain.StepProposalInitialized:
		return map[string]string{"proposal": r.proposal.Address.String()}
	case domain.StepMarketsLaunched:
		return map[string]string{"passPool": r.passPool.String(), "failPool": r.failPool.String()}
	}
	return nil
}

func (r *sagaRun) mapping(sponsor bool) domain.PoolMapping {
	return domain.PoolMapping{
		DAOAddress:      r.dao.Address.String(),
		ProposalPubkey:  r.proposal.Address.String(),
		PassPoolAddress: r.passPool.String(),
		FailPoolAddress: r.failPool.String(),
		PoolCreateTx:    r.launchTx,
		Sponsor:         sponsor,
		OnchainRefs: domain.OnchainRefs{
			DAOInitTx:        r.daoTx,
			SquadsCreateTx:   r.containerTx,
			InitializeTx:     r.initializeTx,
			LaunchTx:         r.launchTx,
			SquadsProposal:   r.squadsProposal.String(),
			TransactionIndex: strconv.FormatUint(r.txIndex, 10),
			Question:         r.proposal.Question.String(),
			BaseVault:        r.proposal.BaseVault.String(),
			QuoteVault:       r.proposal.QuoteVault.String(),
		},
	}
}

type sagaStep struct {
	step domain.SagaStep
	run  func(ctx context.Context, run *sagaRun, idea domain.Idea) (string, error)
}

// CreatePool runs the pool-creation saga for ideaID and persists the
// resulting mapping. A failure returns a *domain.SagaError listing the
// steps already confirmed; nothing is rolled back. When a journal is
// configured, a later call resumes after the last confirmed step.
func (s *PoolService) CreatePool(ctx context.Context, ideaID string) (domain.PoolMapping, error) {
	if !s.chain.Connected() {
		return domain.PoolMapping{}, domain.ErrSigningUnavailable
	}
	if len(s.permissionless) == 0 {
		return domain.PoolMapping{}, fmt.Errorf("%w: permissionless co-signer not configured", domain.ErrSigningUnavailable)
	}

	idea, err := s.poolableIdea(ctx, ideaID)
	if err != nil {
		return domain.PoolMapping{}, err
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "pool:"+ideaID, s.cfg.LockTTL)
		if err != nil {
			return domain.PoolMapping{}, fmt.Errorf("pool_service: idea %s: %w", ideaID, err)
		}
		defer unlock()

		// A run that held the lock may have persisted a pool since the
		// first read.
		if idea, err = s.poolableIdea(ctx, ideaID); err != nil {
			return domain.PoolMapping{}, err
		}
	}

	run := s.resume(ctx, ideaID)
	if run == nil {
		run = &sagaRun{id: uuid.NewString(), ideaID: ideaID, step: domain.StepNone}
	} else {
		s.logger.InfoContext(ctx, "resuming pool creation",
			slog.String("idea_id", ideaID),
			slog.String("run_id", run.id),
			slog.String("step", string(run.step)),
		)
	}

	steps := []sagaStep{
		{domain.StepDAOReady, s.ensureDao},
		{domain.StepProposalContainerCreated, s.createContainer},
		{domain.StepProposalInitialized, s.initializeProposal},
		{domain.StepMarketsLaunched, s.launchMarkets},
	}
	for _, st := range steps {
		if run.step.Rank() >= st.step.Rank() {
			continue
		}
		s.progress(ctx, run, st.step)
		sig, err := st.run(ctx, run, idea)
		if err != nil {
			return domain.PoolMapping{}, s.fail(ctx, run, st.step, err)
		}
		run.advance(st.step, sig)
		s.record(ctx, run, st.step, sig)
		s.logger.InfoContext(ctx, "pool step confirmed",
			slog.String("idea_id", ideaID),
			slog.String("step", string(st.step)),
			slog.String("signature", sig),
		)
	}

	sponsor := domain.NeedsSponsor(idea.Votes, s.cfg.SponsorVoteThreshold)
	mapping := run.mapping(sponsor)

	s.progress(ctx, run, domain.StepMappingPersisted)
	if _, err := s.store.CreateIdeaPool(ctx, ideaID, mapping).Unwrap(); err != nil {
		syncErr := &domain.SyncError{Operation: "create pool", IdeaID: ideaID, Signature: run.launchTx, Err: err}
		return mapping, s.fail(ctx, run, domain.StepMappingPersisted, syncErr)
	}
	run.advance(domain.StepMappingPersisted, "")

	fxCtx, cancel := detached(ctx)
	defer cancel()
	if s.journal != nil {
		if err := s.journal.Complete(fxCtx, ideaID, run.id); err != nil {
			s.logger.WarnContext(ctx, "journal complete failed", slog.String("error", err.Error()))
		}
	}
	s.fx.publish(fxCtx, domain.StepEvent{
		IdeaID: ideaID, RunID: run.id, Step: domain.StepMappingPersisted,
		Label: "Pool created", Signature: run.launchTx,
	})
	s.fx.auditLog(fxCtx, "pool_created", map[string]any{
		"idea_id":  ideaID,
		"run_id":   run.id,
		"dao":      mapping.DAOAddress,
		"proposal": mapping.ProposalPubkey,
		"sponsor":  sponsor,
		"steps":    run.completed,
	})
	s.fx.archive(fxCtx, ideaID, "pool", mapping)
	s.fx.alert(fxCtx, notify.Alert{
		Event:   notify.EventPoolCreated,
		Title:   "Decision pool created",
		Message: idea.Title,
		Fields: []notify.Field{
			{Name: "Idea", Value: ideaID},
			{Name: "DAO", Value: mapping.DAOAddress},
			{Name: "Proposal", Value: mapping.ProposalPubkey},
			{Name: "Sponsor", Value: strconv.FormatBool(sponsor)},
		},
		Link: s.explorer(run.launchTx),
	})

	s.logger.InfoContext(ctx, "pool created",
		slog.String("idea_id", ideaID),
		slog.String("dao", mapping.DAOAddress),
		slog.String("proposal", mapping.ProposalPubkey),
		slog.Bool("sponsor", sponsor),
	)
	return mapping, nil
}

// poolableIdea reads the idea and refuses one that already has a pool or is
// finalized.
func (s *PoolService) poolableIdea(ctx context.Context, ideaID string) (domain.Idea, error) {
	idea, err := s.store.GetIdea(ctx, ideaID).Unwrap()
	if err != nil {
		return domain.Idea{}, fmt.Errorf("pool_service: get idea %s: %w", ideaID, err)
	}
	if idea.IsFinalized() {
		return domain.Idea{}, fmt.Errorf("pool_service: idea %s: %w", ideaID, domain.ErrAlreadyFinalized)
	}
	if idea.PoolStatus == domain.PoolStatusActive || idea.ProposalPubkey != "" {
		return domain.Idea{}, fmt.Errorf("pool_service: idea %s: %w", ideaID, domain.ErrPoolAlreadyActive)
	}
	return idea, nil
}

// ensureDao reuses the idea's DAO when it has one and creates a new DAO
// with a time-based nonce otherwise.
func (s *PoolService) ensureDao(ctx context.Context, run *sagaRun, idea domain.Idea) (string, error) {
	if idea.GovernanceRealmAddress != "" {
		addr, err := solana.PublicKeyFromBase58(idea.GovernanceRealmAddress)
		if err != nil {
			return "", fmt.Errorf("parse dao address %q: %w", idea.GovernanceRealmAddress, err)
		}
		dao, err := s.protocol.FetchDao(ctx, addr)
		if err != nil {
			return "", err
		}
		run.dao = dao.Refs(addr)
		return "", nil
	}

	payer := s.chain.PublicKey()
	nonce := uint64(s.now().UnixMilli())
	init, err := s.protocol.InitializeDao(payer, payer, s.cfg.BaseMint, s.cfg.QuoteMint, nonce, s.cfg.DaoParams)
	if err != nil {
		return "", err
	}
	sig, err := s.chain.SignAndSend(ctx, init.Instructions)
	if err != nil {
		return "", err
	}
	run.dao = init.Refs
	run.daoTx = sig.String()
	return run.daoTx, nil
}

// createContainer creates the squads vault transaction and proposal the
// futarchy proposal is bound to, co-signed by the permissionless account.
func (s *PoolService) createContainer(ctx context.Context, run *sagaRun, _ domain.Idea) (string, error) {
	index, err := s.protocol.NextTransactionIndex(ctx, run.dao.Multisig)
	if err != nil {
		return "", err
	}
	c, err := s.protocol.CreateProposalContainer(run.dao, s.permissionless.PublicKey(), s.chain.PublicKey(), index)
	if err != nil {
		return "", err
	}
	sig, err := s.chain.SignAndSend(ctx, c.Instructions, s.permissionless)
	if err != nil {
		return "", err
	}
	run.squadsProposal = c.SquadsProposal
	run.txIndex = c.TransactionIndex
	run.containerTx = sig.String()
	return run.containerTx, nil
}

func (s *PoolService) initializeProposal(ctx context.Context, run *sagaRun, _ domain.Idea) (string, error) {
	payer := s.chain.PublicKey()
	init, err := s.protocol.InitializeProposal(run.dao, run.squadsProposal, payer, payer)
	if err != nil {
		return "", err
	}
	sig, err := s.chain.SignAndSend(ctx, init.Instructions)
	if err != nil {
		return "", err
	}
	run.proposal = init.Refs
	run.initializeTx = sig.String()
	return run.initializeTx, nil
}

func (s *PoolService) launchMarkets(ctx context.Context, run *sagaRun, _ domain.Idea) (string, error) {
	launch, err := s.protocol.LaunchProposal(run.proposal, s.chain.PublicKey())
	if err != nil {
		return "", err
	}
	sig, err := s.chain.SignAndSend(ctx, launch.Instructions)
	if err != nil {
		return "", err
	}
	run.passPool, run.failPool = launch.PassPool, launch.FailPool
	run.launchTx = sig.String()
	return run.launchTx, nil
}

// resume rebuilds the latest unfinished run from the journal. Every
// recorded step is checked against the ledger; the run continues after the
// last step whose entity could be re-read.
func (s *PoolService) resume(ctx context.Context, ideaID string) *sagaRun {
	if s.journal == nil || !s.cfg.ResumeEnabled {
		return nil
	}
	entries, err := s.journal.Latest(ctx, ideaID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "journal read failed", slog.String("error", err.Error()))
		}
		return nil
	}
	if len(entries) == 0 {
		return nil
	}

	run := &sagaRun{id: entries[0].RunID, ideaID: ideaID, step: domain.StepNone}
	for _, e := range entries {
		if e.Step.Rank() != run.step.Rank()+1 {
			break
		}
		if err := s.restore(ctx, run, e); err != nil {
			s.logger.WarnContext(ctx, "journal step not found on ledger",
				slog.String("idea_id", ideaID),
				slog.String("step", string(e.Step)),
				slog.String("error", err.Error()),
			)
			break
		}
		run.advance(e.Step, e.Signature)
	}
	if run.step == domain.StepNone {
		return nil
	}
	return run
}

func (s *PoolService) restore(ctx context.Context, run *sagaRun, e domain.JournalEntry) error {
	key := func(name string) (solana.PublicKey, error) {
		v, ok := e.Refs[name]
		if !ok {
			return solana.PublicKey{}, fmt.Errorf("journal entry has no %s", name)
		}
		return solana.PublicKeyFromBase58(v)
	}

	switch e.Step {
	case domain.StepDAOReady:
		addr, err := key("dao")
		if err != nil {
			return err
		}
		dao, err := s.protocol.FetchDao(ctx, addr)
		if err != nil {
			return err
		}
		run.dao = dao.Refs(addr)
		run.daoTx = e.Signature

	case domain.StepProposalContainerCreated:
		addr, err := key("squadsProposal")
		if err != nil {
			return err
		}
		ok, err := s.chain.AccountExists(ctx, addr)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("squads proposal %s: %w", addr, domain.ErrNotFound)
		}
		index, err := strconv.ParseUint(e.Refs["transactionIndex"], 10, 64)
		if err != nil {
			return fmt.Errorf("parse transaction index: %w", err)
		}
		run.squadsProposal = addr
		run.txIndex = index
		run.containerTx = e.Signature

	case domain.StepProposalInitialized:
		addr, err := key("proposal")
		if err != nil {
			return err
		}
		refs, _, err := s.protocol.ProposalRefs(ctx, run.dao.Address, addr)
		if err != nil {
			return err
		}
		run.proposal = refs
		run.initializeTx = e.Signature

	case domain.StepMarketsLaunched:
		prop, err := s.protocol.FetchProposal(ctx, run.proposal.Address)
		if err != nil {
			return err
		}
		if prop.State == futarchy.ProposalDraft {
			return fmt.Errorf("proposal %s is still a draft", run.proposal.Address)
		}
		pools, err := run.proposal.Pools()
		if err != nil {
			return err
		}
		run.passPool, run.failPool = pools.PassQuote, pools.FailQuote
		run.launchTx = e.Signature

	default:
		return fmt.Errorf("unexpected journal step %q", e.Step)
	}
	return nil
}

func (s *PoolService) record(ctx context.Context, run *sagaRun, step domain.SagaStep, sig string) {
	s.fx.publish(ctx, domain.StepEvent{
		IdeaID: run.ideaID, RunID: run.id, Step: step,
		Label: step.Label(), Signature: sig,
	})
	if s.journal == nil {
		return
	}
	err := s.journal.Append(ctx, domain.JournalEntry{
		IdeaID:    run.ideaID,
		RunID:     run.id,
		Step:      step,
		Signature: sig,
		Refs:      run.journalRefs(step),
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "journal append failed",
			slog.String("idea_id", run.ideaID),
			slog.String("step", string(step)),
			slog.String("error", err.Error()),
		)
	}
}

// progress announces that the step leading to step has started.
func (s *PoolService) progress(ctx context.Context, run *sagaRun, step domain.SagaStep) {
	s.fx.publish(ctx, domain.StepEvent{IdeaID: run.ideaID, RunID: run.id, Label: step.Label()})
}

func (s *PoolService) fail(ctx context.Context, run *sagaRun, step domain.SagaStep, err error) error {
	sagaErr := &domain.SagaError{
		IdeaID:    run.ideaID,
		Step:      step,
		Completed: append([]domain.StepResult(nil), run.completed...),
		Err:       err,
	}

	fxCtx, cancel := detached(ctx)
	defer cancel()

	s.logger.ErrorContext(ctx, "pool creation failed",
		slog.String("idea_id", run.ideaID),
		slog.String("run_id", run.id),
		slog.String("step", string(step)),
		slog.Int("completed", len(run.completed)),
		slog.String("error", err.Error()),
	)
	s.fx.publish(fxCtx, domain.StepEvent{
		IdeaID: run.ideaID, RunID: run.id, Step: step,
		Label: step.Label(), Error: err.Error(),
	})
	s.fx.auditLog(fxCtx, "pool_failed", map[string]any{
		"idea_id": run.ideaID,
		"run_id":  run.id,
		"step":    string(step),
		"steps":   run.completed,
		"error":   err.Error(),
	})

	event, title := notify.EventPoolFailed, "Decision pool creation failed"
	var syncErr *domain.SyncError
	if errors.As(err, &syncErr) {
		event, title = notify.EventSyncFailed, "Pool created on-chain but not saved"
	}
	s.fx.alert(fxCtx, notify.Alert{
		Event:   event,
		Title:   title,
		Message: sagaErr.Error(),
		Fields: []notify.Field{
			{Name: "Idea", Value: run.ideaID},
			{Name: "Step", Value: string(step)},
		},
	})
	return sagaErr
}

func (s *PoolService) explorer(sig string) string {
	parsed, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return ""
	}
	return s.chain.ExplorerLink(parsed)
}
