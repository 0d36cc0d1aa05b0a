package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/notdnd/internal/platform/errors"
	"github.com/louisbranch/notdnd/internal/platform/timeouts"
	"github.com/louisbranch/notdnd/internal/services/realtime/contract"
	"github.com/louisbranch/notdnd/internal/services/realtime/room"
)

const tracerName = "github.com/louisbranch/notdnd/internal/services/realtime/app"

type gatewayDeps struct {
	registry  *registry
	rooms     *room.Hub
	executor  contract.Executor
	resolver  contract.RoomResolver
	snapshots contract.SnapshotProvider
	protected map[string]string
	// publishLocks republishes a room's lock map after an expiry sweep.
	publishLocks func(*room.Room)
	now          func() time.Time
}

// gateway enforces lock preconditions, delegates to the executor, and fans
// out authoritative resyncs.
type gateway struct {
	gatewayDeps
	tracer trace.Tracer
}

func newGateway(deps gatewayDeps) *gateway {
	protected := make(map[string]string, len(deps.protected))
	for op, resource := range deps.protected {
		protected[op] = resource
	}
	deps.protected = protected
	return &gateway{gatewayDeps: deps, tracer: otel.Tracer(tracerName)}
}

// submit runs one operation for c. Failures go only to c; success sends
// op_applied to c and a per-recipient sync_state to the affected room.
func (g *gateway) submit(ctx context.Context, c *connection, req operationRequest) {
	ctx, span := g.tracer.Start(ctx, "realtime.op", trace.WithAttributes(
		attribute.String("realtime.op", req.Op),
		attribute.String("realtime.user_id", c.identity.UserID),
	))
	defer span.End()

	if req.Invalid != nil {
		g.fail(span, c, req, req.Invalid)
		return
	}

	submitterRoom := c.room()
	op := contract.Operation{
		Name:            req.Op,
		Payload:         req.Payload,
		Actor:           c.identity,
		ExpectedVersion: req.ExpectedVersion,
		RoomKey:         submitterRoom,
	}
	target, err := g.targetRoom(ctx, op)
	if err != nil {
		g.fail(span, c, req, err)
		return
	}
	span.SetAttributes(attribute.String("realtime.room", target))

	result, err := g.execute(ctx, c, op, target)
	if err != nil {
		g.fail(span, c, req, err)
		return
	}
	span.SetAttributes(attribute.String("realtime.outcome", "applied"))

	affected := result.RoomKey
	if affected == "" {
		affected = payloadCampaignID(req.Payload)
	}
	if affected == "" {
		affected = target
	}

	_ = c.peer.sendJSON(opAppliedMessage{
		Type:       "op_applied",
		Op:         req.Op,
		RequestID:  req.RequestID,
		CampaignID: affected,
		Result:     result.Value,
		Versions:   result.Versions,
		Timestamp:  g.now().UnixMilli(),
	})

	if result.Reset || affected == contract.GlobalRoom {
		g.resync(ctx, g.registry.snapshot(nil), req.Op, reasonFor(result))
		return
	}
	g.resync(ctx, g.registry.inRoom(affected), req.Op, reasonFor(result))
}

// targetRoom picks the room whose locks guard op: the executor's answer when
// it resolves rooms, else the payload campaignId, else the submitter's room.
func (g *gateway) targetRoom(ctx context.Context, op contract.Operation) (string, error) {
	if g.resolver != nil {
		resolveCtx, cancel := context.WithTimeout(ctx, timeouts.Snapshot)
		key, err := g.resolver.RoomFor(resolveCtx, op)
		cancel()
		if err != nil {
			return "", err
		}
		if key != "" {
			return key, nil
		}
	}
	if key := payloadCampaignID(op.Payload); key != "" {
		return key, nil
	}
	return op.RoomKey, nil
}

// execute performs the lock check and the executor call inside the target
// room's exclusive section. Locks found expired during the check are
// republished once the section ends.
func (g *gateway) execute(ctx context.Context, c *connection, op contract.Operation, target string) (contract.Result, error) {
	var result contract.Result
	r := g.rooms.Room(target)
	swept, err := r.Exclusive(func(guard *room.Guard) error {
		if resource, ok := g.protected[op.Name]; ok {
			if lock, held := guard.Holder(resource); held && lock.OwnerUserID != c.identity.UserID {
				return apperrors.WithDetails(apperrors.CodeLocked,
					fmt.Sprintf("%s is locked by %s", resource, lock.OwnerName),
					map[string]any{"lock": lock})
			}
		}
		var err error
		result, err = g.executor.Execute(ctx, op)
		return err
	})
	if swept {
		g.publishLocks(r)
	}
	return result, err
}

// fail reports err to the submitter alone. Internal failures are logged and
// masked.
func (g *gateway) fail(span trace.Span, c *connection, req operationRequest, err error) {
	domainErr := apperrors.As(err)
	if domainErr.Code == apperrors.CodeInternal {
		log.Printf("realtime: operation failed op=%q user=%q err=%v", req.Op, c.identity.UserID, err)
		domainErr = apperrors.New(apperrors.CodeInternal, "operation failed")
	}
	span.SetAttributes(attribute.String("realtime.outcome", string(domainErr.Code)))
	span.SetStatus(codes.Error, string(domainErr.Code))
	_ = c.peer.sendJSON(opErrorMessage{
		Type:      "op_error",
		Op:        req.Op,
		RequestID: req.RequestID,
		Error:     toWireError(domainErr),
		Timestamp: g.now().UnixMilli(),
	})
}

// resync pushes each recipient its own snapshot for the room it is in.
func (g *gateway) resync(ctx context.Context, recipients []*connection, op, reason string) {
	for _, rc := range recipients {
		key := rc.room()
		snapCtx, cancel := context.WithTimeout(ctx, timeouts.Snapshot)
		snap, err := g.snapshots.Snapshot(snapCtx, rc.identity, key)
		cancel()
		if err != nil {
			log.Printf("realtime: snapshot failed conn=%q room=%q err=%v", rc.id, key, err)
			continue
		}
		_ = rc.peer.sendJSON(syncStateMessage{
			Type:       "sync_state",
			CampaignID: key,
			Reason:     reason,
			Op:         op,
			Versions:   snap.Versions,
			State:      snap.State,
			Timestamp:  g.now().UnixMilli(),
		})
	}
}

func reasonFor(result contract.Result) string {
	if result.Reset {
		return "reset"
	}
	return "operation"
}

func rateLimitedMessage(ts int64) opErrorMessage {
	return opErrorMessage{
		Type:      "op_error",
		Error:     toWireError(apperrors.New(apperrors.CodeRateLimited, "rate limit exceeded")),
		Timestamp: ts,
	}
}
