package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"VaultLedger/internal/record"
)

// Connect opens a NATS connection and returns its JetStream context.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// RecordPublisher publishes committed records to NATS for downstream
// consumers. Subjects follow the pattern vault.ledger.records.{type}.
// Publishing is best-effort: consumers that need completeness read the
// Postgres record log instead.
type RecordPublisher struct {
	js     jetstream.JetStream
	input  <-chan record.Record
	logger zerolog.Logger
}

func NewRecordPublisher(js jetstream.JetStream, input <-chan record.Record, logger zerolog.Logger) *RecordPublisher {
	return &RecordPublisher{js: js, input: input, logger: logger}
}

// Run drains the publish channel until ctx is cancelled or the channel
// closes.
func (p *RecordPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, rec); err != nil {
				p.logger.Warn().Err(err).Int64("sequence", rec.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (p *RecordPublisher) publish(ctx context.Context, rec record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	subject := fmt.Sprintf("vault.ledger.records.%s", strings.ToLower(rec.Type.String()))
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureRecordStream creates or updates the outbound record stream.
func EnsureRecordStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VAULT_LEDGER_RECORDS",
		Subjects:  []string{"vault.ledger.records.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create record stream: %w", err)
	}
	return nil
}
