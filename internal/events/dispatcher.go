package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"propcopy/internal/copytrading"
)

const (
	defaultBufferSize  = 256
	defaultSendTimeout = 5 * time.Second
)

// Sink - получатель событий движка (telegram, kafka, websocket)
type Sink interface {
	Name() string
	Send(ctx context.Context, e copytrading.Event) error
}

// Dispatcher доставляет события в синки из отдельной горутины.
// Notify никогда не блокирует движок: при переполнении буфера событие отбрасывается.
type Dispatcher struct {
	events      chan copytrading.Event
	sinks       []Sink
	logger      *slog.Logger
	sendTimeout time.Duration
	dropped     atomic.Int64
}

// NewDispatcher создает диспетчер с буфером size (0 - по умолчанию)
func NewDispatcher(logger *slog.Logger, size int, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = defaultBufferSize
	}

	return &Dispatcher{
		events:      make(chan copytrading.Event, size),
		sinks:       sinks,
		logger:      logger,
		sendTimeout: defaultSendTimeout,
	}
}

// Notify ставит событие в очередь
func (d *Dispatcher) Notify(e copytrading.Event) {
	select {
	case d.events <- e:
	default:
		d.dropped.Add(1)
		d.logger.Warn("⚠️  Event buffer full, dropping event",
			slog.String("type", string(e.Type)),
			slog.String("master", e.MasterAccountID))
	}
}

// Dropped возвращает число отброшенных событий
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run доставляет события до отмены ctx, затем отправляет то, что осталось в буфере
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("📤 Event dispatcher started", slog.Int("sinks", len(d.sinks)))

	for {
		select {
		case e := <-d.events:
			d.deliver(ctx, e)
		case <-ctx.Done():
			d.drain()
			d.logger.Info("Event dispatcher stopped")
			return
		}
	}
}

func (d *Dispatcher) drain() {
	ctx := context.Background()
	for {
		select {
		case e := <-d.events:
			d.deliver(ctx, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e copytrading.Event) {
	for _, s := range d.sinks {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
		err := s.Send(sendCtx, e)
		cancel()

		if err != nil {
			d.logger.Error("Failed to deliver event",
				slog.String("sink", s.Name()),
				slog.String("type", string(e.Type)),
				slog.Any("error", err))
		}
	}
}
