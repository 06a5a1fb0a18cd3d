package source

import (
	"context"

	"github.com/italolelis/drive_relay/internal/telemetry"
)

// InstrumentedClient wraps Client with telemetry.
type InstrumentedClient struct {
	client     Client
	telemetry  *telemetry.Telemetry
	sourceType string
}

// NewInstrumentedClient creates a new instrumented source client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry, sourceType string) *InstrumentedClient {
	return &InstrumentedClient{
		client:     client,
		telemetry:  tel,
		sourceType: sourceType,
	}
}

// Open opens a source stream with telemetry.
func (c *InstrumentedClient) Open(ctx context.Context, id string) (*Stream, error) {
	var result *Stream

	err := c.telemetry.InstrumentSourceOperation(ctx, c.sourceType, "open_stream", func(ctx context.Context) error {
		var err error

		result, err = c.client.Open(ctx, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Metadata looks up object metadata with telemetry.
func (c *InstrumentedClient) Metadata(ctx context.Context, id string) (*Metadata, error) {
	var result *Metadata

	err := c.telemetry.InstrumentSourceOperation(ctx, c.sourceType, "metadata", func(ctx context.Context) error {
		var err error

		result, err = c.client.Metadata(ctx, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
