package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/finitefield/pos-api/internal/services"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "pos-test",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-events")
	require.NoError(t, err)
	return srv, topic
}

func TestPubSubPublisherPublishesOrderEvent(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubPublisher(topic, WithPublishTimeout(5*time.Second))
	require.NoError(t, err)
	defer publisher.Stop()

	occurred := time.Date(2025, 10, 1, 12, 30, 0, 0, time.FixedZone("ICT", 7*3600))
	err = publisher.PublishOrderEvent(context.Background(), services.OrderEvent{
		Type:           "order.completed",
		OrderID:        "ord_1",
		OrderCode:      "ORD-20251001-000001",
		PreviousStatus: "IN_PROGRESS",
		CurrentStatus:  "COMPLETED",
		ActorID:        "stf-1",
		OccurredAt:     occurred,
		Metadata:       map[string]any{"total": 117000},
	})
	require.NoError(t, err)

	messages := srv.Messages()
	require.Len(t, messages, 1)
	msg := messages[0]
	assert.Equal(t, "ord_1", msg.OrderingKey)
	assert.Equal(t, "order.completed", msg.Attributes["eventType"])
	assert.Equal(t, "COMPLETED", msg.Attributes["status"])
	assert.Equal(t, "ORD-20251001-000001", msg.Attributes["orderCode"])
	assert.Equal(t, schemaVersion, msg.Attributes["schemaVersion"])

	var payload orderEventMessage
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "IN_PROGRESS", payload.PreviousStatus)
	assert.Equal(t, "stf-1", payload.ActorID)
	assert.True(t, payload.OccurredAt.Equal(occurred))
	assert.Equal(t, time.UTC, payload.OccurredAt.Location())
	assert.EqualValues(t, 117000, payload.Metadata["total"])
}

func TestPubSubPublisherRejectsIncompleteEvents(t *testing.T) {
	_, topic := newTestTopic(t)
	publisher, err := NewPubSubPublisher(topic)
	require.NoError(t, err)

	err = publisher.PublishOrderEvent(context.Background(), services.OrderEvent{Type: "order.created"})
	assert.Error(t, err)

	_, err = NewPubSubPublisher(nil)
	assert.Error(t, err)
}
