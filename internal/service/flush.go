package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chat-relay/internal/logging"
	"chat-relay/internal/observability"
)

// SweepResult summarises one flush sweep.
type SweepResult struct {
	Rooms    int
	Flushed  int
	Empty    int
	Messages int
	Failed   map[int64]error
}

// FlushUnpersistedMessages copies every message that is in the fast store but
// not yet in the durable store, room by room. A room's checkpoint moves only
// after its batch committed. A failing room is logged and skipped. Only one
// sweep runs at a time per process; a concurrent call returns
// ErrSweepInProgress without touching any room.
func (s *ChatService) FlushUnpersistedMessages(ctx context.Context) (SweepResult, error) {
	if !s.sweepMu.TryLock() {
		observability.IncFlushSweep(observability.SweepSkipped)
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.sweepMu.Unlock()

	ctx, span := otel.Tracer("chat-relay/service").Start(ctx, "flush.sweep")
	defer span.End()
	start := time.Now()
	defer func() { observability.ObserveFlushSweep(time.Since(start)) }()

	l := logging.Ctx(ctx)
	rooms, err := s.rooms.ListRooms(ctx)
	if err != nil {
		observability.IncFlushSweep(observability.SweepFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "list rooms")
		return SweepResult{}, fmt.Errorf("flush: list rooms: %w", err)
	}

	res := SweepResult{Rooms: len(rooms), Failed: map[int64]error{}}
	for _, room := range rooms {
		n, err := s.flushRoom(ctx, room.ID)
		switch {
		case err != nil:
			res.Failed[room.ID] = err
			observability.IncFlushRoom(observability.RoomFailed)
			l.Error().Err(err).Int64(logging.FieldRoomID, room.ID).Msg("flush room failed")
		case n == 0:
			res.Empty++
			observability.IncFlushRoom(observability.RoomEmpty)
		default:
			res.Flushed++
			res.Messages += n
			observability.IncFlushRoom(observability.RoomFlushed)
		}
	}

	observability.AddFlushedMessages(res.Messages)
	observability.IncFlushSweep(observability.SweepCompleted)
	span.SetAttributes(
		attribute.Int("flush.rooms", res.Rooms),
		attribute.Int("flush.messages", res.Messages),
		attribute.Int("flush.failed", len(res.Failed)),
	)
	l.Debug().
		Int("rooms", res.Rooms).
		Int("flushed", res.Flushed).
		Int("messages", res.Messages).
		Int("failed", len(res.Failed)).
		Msg("flush sweep done")
	return res, nil
}

func (s *ChatService) flushRoom(ctx context.Context, roomID int64) (int, error) {
	cp, err := s.checkpoints.Get(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}

	var after *int64
	if cp != nil {
		pos := cp.Position()
		after = &pos
	}

	msgs, err := s.store.ReadRange(ctx, roomID, after)
	if err != nil {
		return 0, fmt.Errorf("read unflushed: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := s.durable.SaveAll(ctx, msgs); err != nil {
		return 0, err
	}

	last := msgs[len(msgs)-1]
	if err := s.checkpoints.Save(ctx, roomID, last); err != nil {
		return 0, fmt.Errorf("save checkpoint at %d: %w", last.Position, err)
	}

	s.evict(ctx, roomID, last.Position)
	return len(msgs), nil
}

// evict trims the fast store below the checkpoint, keeping retain positions.
func (s *ChatService) evict(ctx context.Context, roomID, checkpoint int64) {
	if s.retain < 0 {
		return
	}
	upto := checkpoint - s.retain
	if upto <= 0 {
		return
	}
	if _, err := s.store.Trim(ctx, roomID, upto); err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Int64(logging.FieldRoomID, roomID).Int64(logging.FieldPosition, upto).Msg("fast store trim failed")
	}
}

// Sweeper runs one flush sweep.
type Sweeper interface {
	FlushUnpersistedMessages(ctx context.Context) (SweepResult, error)
}

// Flusher runs a sweep on every tick of its own ticker.
type Flusher struct {
	sweeper  Sweeper
	interval time.Duration
	timeout  time.Duration

	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewFlusher constructs a Flusher. A zero timeout falls back to interval.
func NewFlusher(sweeper Sweeper, interval, timeout time.Duration) *Flusher {
	if timeout <= 0 {
		timeout = interval
	}
	return &Flusher{
		sweeper:  sweeper,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the ticker loop until Stop is called or ctx is done. It must be
// called at most once.
func (f *Flusher) Start(ctx context.Context) {
	f.started = true
	go func() {
		defer close(f.done)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stop:
				return
			case <-ticker.C:
				f.tick(ctx)
			}
		}
	}()
}

func (f *Flusher) tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, f.timeout)
	defer cancel()

	_, err := f.sweeper.FlushUnpersistedMessages(ctx)
	if errors.Is(err, ErrSweepInProgress) {
		l := logging.Ctx(ctx)
		l.Debug().Msg("flush tick skipped, previous sweep still running")
		return
	}
	if err != nil {
		l := logging.Ctx(ctx)
		l.Error().Err(err).Msg("flush sweep failed")
	}
}

// Stop ends the loop and waits for an in-flight sweep to return.
func (f *Flusher) Stop() {
	if !f.started {
		return
	}
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	<-f.done
}
