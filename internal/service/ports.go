package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/notify"
	"github.com/gagliardetto/solana-go"
)

// Ledger is the part of the ledger client the services submit through.
// *ledger.Client satisfies it.
type Ledger interface {
	Connected() bool
	PublicKey() solana.PublicKey
	SignAndSend(ctx context.Context, instructions []solana.Instruction, cosigners ...solana.PrivateKey) (solana.Signature, error)
	AccountExists(ctx context.Context, addr solana.PublicKey) (bool, error)
	TokenBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)
	ExplorerLink(sig solana.Signature) string
}

// Notifier delivers operator alerts. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, a notify.Alert) error
}

// Outputs are the optional sinks a service reports to: progress events,
// the audit log, receipts and operator alerts. Any field may be nil.
type Outputs struct {
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Receipts domain.ReceiptArchive
	Notifier Notifier
}

func (o Outputs) with(logger *slog.Logger) sideEffects {
	return sideEffects{bus: o.Bus, audit: o.Audit, receipts: o.Receipts, notifier: o.Notifier, logger: logger}
}

// sideEffects bundles the best-effort outputs shared by the services. Every
// field may be nil. Failures are logged and never fail the operation.
type sideEffects struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	receipts domain.ReceiptArchive
	notifier Notifier
	logger   *slog.Logger
}

func (fx sideEffects) publish(ctx context.Context, ev domain.StepEvent) {
	if fx.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := fx.bus.Publish(ctx, domain.PoolChannel(ev.IdeaID), data); err != nil {
		fx.logger.WarnContext(ctx, "publish step event failed",
			slog.String("idea_id", ev.IdeaID),
			slog.String("error", err.Error()),
		)
	}
}

func (fx sideEffects) auditLog(ctx context.Context, event string, detail map[string]any) {
	if fx.audit == nil {
		return
	}
	if err := fx.audit.Log(ctx, event, detail); err != nil {
		fx.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (fx sideEffects) archive(ctx context.Context, ideaID, kind string, v any) {
	if fx.receipts == nil {
		return
	}
	path, err := fx.receipts.Save(ctx, ideaID, kind, v)
	if err != nil {
		fx.logger.WarnContext(ctx, "archive receipt failed",
			slog.String("idea_id", ideaID),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return
	}
	fx.logger.DebugContext(ctx, "receipt archived", slog.String("path", path))
}

func (fx sideEffects) alert(ctx context.Context, a notify.Alert) {
	if fx.notifier == nil {
		return
	}
	if err := fx.notifier.Notify(ctx, a); err != nil {
		fx.logger.WarnContext(ctx, "notify failed",
			slog.String("event", a.Event),
			slog.String("error", err.Error()),
		)
	}
}

// detached returns a context for side effects that must run even when the
// request context was cancelled after a ledger write.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}
