package jobs

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

	"github.com/hanko-field/orderflow/internal/services"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
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

func TestPubSubOrderEventPublisherPublishesOrderedMessage(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic, time.Second)
	require.NoError(t, err)
	defer publisher.Stop()

	event := services.OrderEvent{
		ID:             "evt-1",
		Type:           "order.paid",
		OrderID:        "ord-1",
		CustomerID:     "cust-1",
		PreviousStatus: "CONFIRMED",
		CurrentStatus:  "PAID",
		ActorRole:      "system",
		OccurredAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Metadata:       map[string]any{"transId": "T-9"},
	}
	require.NoError(t, publisher.PublishOrderEvent(context.Background(), event))

	messages := srv.Messages()
	require.Len(t, messages, 1)
	msg := messages[0]
	assert.Equal(t, "ord-1", msg.OrderingKey)
	assert.Equal(t, "order.paid", msg.Attributes["eventType"])
	assert.Equal(t, "PAID", msg.Attributes["status"])
	assert.NotContains(t, msg.Attributes, "customerId")

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "ord-1", payload["orderId"])
	assert.Equal(t, "CONFIRMED", payload["previousStatus"])
	assert.Equal(t, "T-9", payload["metadata"].(map[string]any)["transId"])
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	_, err := NewPubSubOrderEventPublisher(nil, 0)
	assert.Error(t, err)
}
