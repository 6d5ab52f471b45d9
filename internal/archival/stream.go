package archival

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Stream layout for audit archival
const (
	StreamName    = "AUCTION_AUDIT"
	SubjectPrefix = "auction.audit."
	SubjectFilter = SubjectPrefix + "*"
	ConsumerName  = "archival-worker"
)

// EnsureStream creates the audit stream if it does not exist yet
func EnsureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Accepted bids awaiting archival to the audit log",
		Subjects:    []string{SubjectFilter},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy, // Each message consumed once
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  2 * time.Minute,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}
	return stream, nil
}
