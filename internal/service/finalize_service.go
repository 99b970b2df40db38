package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/futarchy"
	"github.com/alanyoungcy/ideapool/internal/notify"
	"github.com/gagliardetto/solana-go"
)

// FinalizeResult reports a finalized idea.
type FinalizeResult struct {
	Signature   string      `json:"signature"`
	ExplorerURL string      `json:"explorerUrl,omitempty"`
	Idea        domain.Idea `json:"idea"`
}

// FinalizeService closes an idea's proposal on the ledger and records the
// decision in the idea store. Finalization is terminal.
type FinalizeService struct {
	store    domain.IdeaStore
	cache    domain.StatsCache
	chain    Ledger
	protocol *futarchy.Client
	fx       sideEffects
	logger   *slog.Logger
}

// NewFinalizeService creates a FinalizeService. cache may be nil.
func NewFinalizeService(
	store domain.IdeaStore,
	cache domain.StatsCache,
	chain Ledger,
	protocol *futarchy.Client,
	out Outputs,
	logger *slog.Logger,
) *FinalizeService {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "finalize_service"))
	return &FinalizeService{
		store:    store,
		cache:    cache,
		chain:    chain,
		protocol: protocol,
		fx:       out.with(logger),
		logger:   logger,
	}
}

// Finalize submits the proposal finalization for ideaID and then records
// decision in the idea store. Authorization and idea state are checked
// before any transaction is built. When the ledger confirms but the store
// write fails the error is a *domain.SyncError carrying the signature;
// RetrySync completes it without touching the ledger again.
func (s *FinalizeService) Finalize(ctx context.Context, ideaID string, decision domain.Decision) (FinalizeResult, error) {
	if !domain.IsAdmin(ctx) {
		return FinalizeResult{}, fmt.Errorf("finalize_service: %w", domain.ErrUnauthorized)
	}
	decision, err := domain.ParseDecision(string(decision))
	if err != nil {
		return FinalizeResult{}, err
	}
	if !s.chain.Connected() {
		return FinalizeResult{}, domain.ErrSigningUnavailable
	}

	idea, err := s.store.GetIdea(ctx, ideaID).Unwrap()
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize_service: get idea %s: %w", ideaID, err)
	}
	if !idea.HasPool() {
		return FinalizeResult{}, fmt.Errorf("finalize_service: idea %s: %w", ideaID, domain.ErrMissingPoolRefs)
	}
	if idea.IsFinalized() {
		return FinalizeResult{}, fmt.Errorf("finalize_service: idea %s: %w", ideaID, domain.ErrAlreadyFinalized)
	}

	dao, err := solana.PublicKeyFromBase58(idea.GovernanceRealmAddress)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize_service: parse dao address: %w", err)
	}
	propAddr, err := solana.PublicKeyFromBase58(idea.ProposalPubkey)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize_service: parse proposal address: %w", err)
	}
	refs, prop, err := s.protocol.ProposalRefs(ctx, dao, propAddr)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize_service: load proposal: %w", err)
	}
	if prop.IsFinal() {
		return FinalizeResult{}, &StaleFinalizeError{IdeaID: ideaID, Proposal: propAddr.String(), State: prop.State.String()}
	}

	ix, err := s.protocol.FinalizeProposal(refs)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize_service: build finalize: %w", err)
	}

	s.fx.publish(ctx, domain.StepEvent{IdeaID: ideaID, Label: "Finalizing proposal..."})
	sig, err := s.chain.SignAndSend(ctx, []solana.Instruction{ix})
	if err != nil {
		s.logger.ErrorContext(ctx, "finalize transaction failed",
			slog.String("idea_id", ideaID),
			slog.String("error", err.Error()),
		)
		return FinalizeResult{}, fmt.Errorf("finalize_service: finalize proposal %s: %w", propAddr, err)
	}
	s.logger.InfoContext(ctx, "proposal finalized on ledger",
		slog.String("idea_id", ideaID),
		slog.String("proposal", propAddr.String()),
		slog.String("signature", sig.String()),
	)

	return s.sync(ctx, ideaID, decision, idea.ProposalPubkey, sig.String())
}

// StaleFinalizeError reports a proposal that is already final on the ledger
// while the idea store still lists the idea as active. The store is brought
// up to date with RetrySync and the signature of the finalize transaction.
type StaleFinalizeError struct {
	IdeaID   string
	Proposal string
	State    string
}

func (e *StaleFinalizeError) Error() string {
	return fmt.Sprintf("finalize_service: proposal %s is already %s on-chain but idea %s is still active in the store; "+
		"record the existing finalize signature with finalize sync", e.Proposal, e.State, e.IdeaID)
}

func (e *StaleFinalizeError) Unwrap() error { return domain.ErrAlreadyFinalized }

// RetrySync records an already confirmed finalization in the idea store.
// It is the recovery path for a *domain.SyncError returned by Finalize.
func (s *FinalizeService) RetrySync(ctx context.Context, ideaID string, decision domain.Decision, signature string) (FinalizeResult, error) {
	if !domain.IsAdmin(ctx) {
		return FinalizeResult{}, fmt.Errorf("finalize_service: %w", domain.ErrUnauthorized)
	}
	decision, err := domain.ParseDecision(string(decision))
	if err != nil {
		return FinalizeResult{}, err
	}
	if _, err := solana.SignatureFromBase58(signature); err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize_service: parse signature: %w", err)
	}

	idea, err := s.store.GetIdea(ctx, ideaID).Unwrap()
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("finalize_service: get idea %s: %w", ideaID, err)
	}
	if idea.IsFinalized() {
		return FinalizeResult{}, fmt.Errorf("finalize_service: idea %s: %w", ideaID, domain.ErrAlreadyFinalized)
	}
	return s.sync(ctx, ideaID, decision, idea.ProposalPubkey, signature)
}

func (s *FinalizeService) sync(ctx context.Context, ideaID string, decision domain.Decision, proposal, sig string) (FinalizeResult, error) {
	fxCtx, cancel := detached(ctx)
	defer cancel()

	result := FinalizeResult{Signature: sig}
	if parsed, err := solana.SignatureFromBase58(sig); err == nil {
		result.ExplorerURL = s.chain.ExplorerLink(parsed)
	}

	rec := domain.FinalizeRecord{Decision: decision, OnchainTx: sig, ProposalPubkey: proposal}
	idea, err := s.store.FinalizeIdea(fxCtx, ideaID, rec).Unwrap()
	if err != nil {
		syncErr := &domain.SyncError{Operation: "finalize", IdeaID: ideaID, Signature: sig, Err: err}
		s.logger.ErrorContext(ctx, "finalize sync failed",
			slog.String("idea_id", ideaID),
			slog.String("signature", sig),
			slog.String("error", err.Error()),
		)
		s.fx.publish(fxCtx, domain.StepEvent{IdeaID: ideaID, Label: "Finalize not saved", Signature: sig, Error: syncErr.Error()})
		s.fx.auditLog(fxCtx, "finalize_sync_failed", map[string]any{
			"idea_id":   ideaID,
			"decision":  string(decision),
			"signature": sig,
			"error":     err.Error(),
		})
		s.fx.alert(fxCtx, notify.Alert{
			Event:   notify.EventSyncFailed,
			Title:   "Finalized on-chain but not saved",
			Message: syncErr.Error(),
			Fields:  []notify.Field{{Name: "Idea", Value: ideaID}, {Name: "Decision", Value: string(decision)}},
			Link:    result.ExplorerURL,
		})
		return result, syncErr
	}
	result.Idea = idea

	if s.cache != nil {
		if err := s.cache.Invalidate(fxCtx, ideaID); err != nil {
			s.logger.WarnContext(ctx, "stats cache invalidate failed", slog.String("error", err.Error()))
		}
	}
	s.fx.publish(fxCtx, domain.StepEvent{IdeaID: ideaID, Label: "Idea finalized", Signature: sig})
	s.fx.auditLog(fxCtx, "idea_finalized", map[string]any{
		"idea_id":   ideaID,
		"decision":  string(decision),
		"proposal":  proposal,
		"signature": sig,
	})
	s.fx.archive(fxCtx, ideaID, "finalize", rec)
	s.fx.alert(fxCtx, notify.Alert{
		Event:   notify.EventIdeaFinalized,
		Title:   "Idea finalized",
		Message: fmt.Sprintf("%s: %s", idea.Title, decision),
		Fields:  []notify.Field{{Name: "Idea", Value: ideaID}, {Name: "Decision", Value: string(decision)}},
		Link:    result.ExplorerURL,
	})

	s.logger.InfoContext(ctx, "idea finalized",
		slog.String("idea_id", ideaID),
		slog.String("decision", string(decision)),
	)
	return result, nil
}
