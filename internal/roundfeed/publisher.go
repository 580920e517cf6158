package roundfeed

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/shared/kafka"
)

// KafkaPublisher publica cada evento de rodada no tópico de eventos.
// A chave é o id da rodada para manter a ordem por partição.
type KafkaPublisher struct {
	writer  *kafka.Writer
	log     *zap.Logger
	timeout time.Duration

	OnError func() // métricas
}

func NewKafkaPublisher(writer *kafka.Writer, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, log: log, timeout: 3 * time.Second}
}

func (p *KafkaPublisher) RoundEvent(ctx context.Context, ev round.Event) {
	msg := Message(ev)

	// o evento já foi gravado; não herda o cancelamento de quem mutou
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := kafka.WriteJSON(ctx, p.writer, strconv.FormatUint(ev.RoundID, 10), msg); err != nil {
		p.log.Error("failed to publish round event",
			zap.String("event_id", msg.EventID), zap.String("kind", msg.Kind), zap.Error(err))
		if p.OnError != nil {
			p.OnError()
		}
		return
	}
	p.log.Debug("published round event", zap.String("event_id", msg.EventID))
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
