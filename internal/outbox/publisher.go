package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ovasilenko/coin-auctions/internal/adapters/crdb"
	"github.com/ovasilenko/coin-auctions/internal/adapters/rabbit"
	"github.com/ovasilenko/coin-auctions/internal/observability"
)

const batchSize = 50

// Publisher drains committed outbox events to the broker. At-least-once:
// a crash between publish and mark re-delivers, and consumers dedupe on the
// message id.
type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
	interval  time.Duration
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger, interval time.Duration) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger, interval: interval}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.drain(ctx); err != nil {
				p.logger.Error("outbox drain failed", err)
			}
			p.reportLag(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) error {
	records, err := p.repo.GetUnpublishedOutbox(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Timestamp:   rec.CreatedAt,
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithField("event_id", rec.ID).Error("publish failed", err)
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
			p.logger.WithField("event_id", rec.ID).Error("mark published failed", err)
		}
	}
	return nil
}

func (p *Publisher) reportLag(ctx context.Context) {
	lag, err := p.repo.OldestUnpublishedAge(ctx, time.Now())
	if err != nil {
		return
	}
	observability.OutboxLag.Set(lag.Seconds())
}
