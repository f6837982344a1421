// Package events publishes job-lifecycle notifications to an external
// consumer over AWS EventBridge, the optional sink // allows alongside the scheduler's in-process progress channels. Grounded
// on internal/infrastructure/messaging.EventBridgePublisher:
// same client, same batched PutEvents call, same bus/source configuration,
// narrowed here from generic domain events to job state transitions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
)

// batchSize matches EventBridge's PutEvents limit of 10 entries per call.
const batchSize = 10

// JobLifecycleEvent is the payload published on every job state
// transition, letting an external consumer track ingestion progress
// without polling the job-introspection surface.
type JobLifecycleEvent struct {
	JobID     string          `json:"job_id"`
	Ontology  string          `json:"ontology"`
	State     domain.JobState `json:"state"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher sends JobLifecycleEvents to an EventBridge bus.
type Publisher struct {
	client   *eventbridge.Client
	eventBus string
	source   string
}

// NewPublisher constructs a Publisher. eventBus and source default to
// "default" and "kgraph-worker" respectively when empty.
func NewPublisher(client *eventbridge.Client, eventBus, source string) *Publisher {
	if eventBus == "" {
		eventBus = "default"
	}
	if source == "" {
		source = "kgraph-worker"
	}
	return &Publisher{client: client, eventBus: eventBus, source: source}
}

// Publish sends events to EventBridge in batches of batchSize.
func (p *Publisher) Publish(ctx context.Context, evs []JobLifecycleEvent) error {
	if len(evs) == 0 {
		return nil
	}
	for i := 0; i < len(evs); i += batchSize {
		end := i + batchSize
		if end > len(evs) {
			end = len(evs)
		}
		if err := p.publishBatch(ctx, evs[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishBatch(ctx context.Context, evs []JobLifecycleEvent) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(evs))
	for _, ev := range evs {
		detail, err := json.Marshal(ev)
		if err != nil {
			return kgerrors.Wrap(err, "marshal job lifecycle event")
		}
		detailType := "kgraph.job." + string(ev.State)
		detailStr := string(detail)
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: &p.eventBus,
			Source:       &p.source,
			DetailType:   &detailType,
			Detail:       &detailStr,
		})
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return kgerrors.StoreUnavailable("publish to eventbridge", err)
	}
	if out.FailedEntryCount != nil && *out.FailedEntryCount > 0 {
		return kgerrors.Wrap(fmt.Errorf("%d of %d entries failed", *out.FailedEntryCount, len(entries)), "eventbridge put-events")
	}
	return nil
}
