package audit

/*
Файл pipeline.go реализует асинхронный аудиторский конвейер гейта.

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят из Hot Path через неблокирующий канал,
  задержки Postgres не влияют на время ответа операции.
- Batching: накопление в памяти и пакетная вставка по таймеру или при
  достижении лимита пачки.
- Drain Pattern: при остановке канал закрывается, воркер вычитывает остаток
  и делает финальный flush — событий при перезапуске не теряем.
- Load Shedding: при переполнении буфера событие уходит в структурный лог,
  чтобы след не пропал бесследно.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Storage определяет, куда физически сохраняются события.
type Storage interface {
	WriteBatch(ctx context.Context, events []Event) error
}

const defaultBatchSize = 100

type Pipeline struct {
	ch     chan Event
	repo   Storage
	logger *zap.Logger
	wg     sync.WaitGroup

	flushEvery time.Duration

	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Record после Stop
	isClosed int32
}

func NewPipeline(repo Storage, bufferSize int, flushEvery time.Duration, logger *zap.Logger) *Pipeline {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushEvery <= 0 {
		flushEvery = 500 * time.Millisecond
	}
	return &Pipeline{
		ch:         make(chan Event, bufferSize),
		repo:       repo,
		flushEvery: flushEvery,
		logger:     logger.With(zap.String("mod", "audit")),
	}
}

func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.worker()
}

// Stop запирает вход в канал и ждет, пока воркер всё допишет.
func (p *Pipeline) Stop() {
	atomic.StoreInt32(&p.isClosed, 1)

	// Крошечная пауза, чтобы конкурентные Record успели проскочить до close
	time.Sleep(10 * time.Millisecond)

	p.logger.Info("stopping audit pipeline: flushing buffer...")
	close(p.ch)
	p.wg.Wait()
	p.logger.Info("audit pipeline stopped gracefully")
}

func (p *Pipeline) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&p.isClosed) == 1 {
		p.logger.Warn("audit event dropped: pipeline is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case p.ch <- event:
	default:
		// Backpressure: буфер полон, сбрасываем нагрузку в лог
		p.logger.Error("audit_buffer_overflow",
			zap.String("type", event.Type),
			zap.String("agent", event.Agent),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]Event, 0, defaultBatchSize)
	ticker := time.NewTicker(p.flushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст на shutdown уже может быть закрыт
		if err := p.repo.WriteBatch(context.Background(), batch); err != nil {
			p.logger.Error("audit flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-p.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остаток, финальный сброс и выход
				flush()
				p.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
