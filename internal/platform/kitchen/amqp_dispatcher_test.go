package kitchen

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finitefield/pos-api/internal/services"
)

type fakeChannel struct {
	declared   string
	kind       string
	confirmed  bool
	acks       chan amqp.Confirmation
	nack       bool
	publishErr error

	exchange string
	key      string
	msgs     []amqp.Publishing
	closed   bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = name
	f.kind = kind
	return nil
}

func (f *fakeChannel) Confirm(noWait bool) error {
	f.confirmed = true
	return nil
}

func (f *fakeChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	f.acks = confirm
	return confirm
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.exchange = exchange
	f.key = key
	f.msgs = append(f.msgs, msg)
	f.acks <- amqp.Confirmation{DeliveryTag: uint64(len(f.msgs)), Ack: !f.nack}
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func sampleTicket() services.KitchenTicket {
	return services.KitchenTicket{
		OrderID:   "ord_1",
		OrderCode: "ORD-20251001-000001",
		TableID:   "tbl_5",
		Reason:    "send",
		Items: []services.KitchenTicketItem{
			{ItemID: "itm_1", Name: "Pho bo", Quantity: 2, Notes: "no onion"},
			{ItemID: "itm_2", ParentItemID: "itm_1", Name: "Egg", Quantity: 2},
		},
		DispatchedAt: time.Date(2025, 10, 1, 5, 0, 0, 0, time.UTC),
	}
}

func TestAMQPDispatcherPublishesPersistentTicket(t *testing.T) {
	ch := &fakeChannel{}
	d, err := NewAMQPDispatcher(ch, "kitchen.tickets", "")
	require.NoError(t, err)
	d.newID = func() string { return "msg-1" }

	assert.Equal(t, "kitchen.tickets", ch.declared)
	assert.Equal(t, amqp.ExchangeTopic, ch.kind)
	assert.True(t, ch.confirmed)

	require.NoError(t, d.DispatchTicket(context.Background(), sampleTicket()))
	require.Len(t, ch.msgs, 1)
	msg := ch.msgs[0]
	assert.Equal(t, "kitchen.tbl_5", ch.key)
	assert.Equal(t, "msg-1", msg.MessageId)
	assert.Equal(t, "ord_1", msg.CorrelationId)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)

	var body ticketMessage
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	require.Len(t, body.Items, 2)
	assert.Equal(t, "itm_1", body.Items[1].ParentItemID)
	assert.Equal(t, "no onion", body.Items[0].Notes)
}

func TestAMQPDispatcherRoutingKeyOverride(t *testing.T) {
	ch := &fakeChannel{}
	d, err := NewAMQPDispatcher(ch, "kitchen.tickets", "kitchen.all")
	require.NoError(t, err)

	ticket := sampleTicket()
	ticket.TableID = ""
	require.NoError(t, d.DispatchTicket(context.Background(), ticket))
	assert.Equal(t, "kitchen.all", ch.key)

	d.routingKey = ""
	require.NoError(t, d.DispatchTicket(context.Background(), ticket))
	assert.Equal(t, "kitchen.takeaway", ch.key)
}

func TestAMQPDispatcherErrors(t *testing.T) {
	ch := &fakeChannel{nack: true}
	d, err := NewAMQPDispatcher(ch, "kitchen.tickets", "")
	require.NoError(t, err)
	assert.Error(t, d.DispatchTicket(context.Background(), sampleTicket()))

	ch.publishErr = errors.New("channel closed")
	assert.ErrorIs(t, d.DispatchTicket(context.Background(), sampleTicket()), ch.publishErr)

	empty := sampleTicket()
	empty.Items = nil
	assert.NoError(t, d.DispatchTicket(context.Background(), empty))

	_, err = NewAMQPDispatcher(&fakeChannel{}, " ", "")
	assert.Error(t, err)

	require.NoError(t, d.Close())
	assert.True(t, ch.closed)
}

func TestAMQPDispatcherPing(t *testing.T) {
	d, err := NewAMQPDispatcher(&fakeChannel{}, "kitchen.tickets", "")
	require.NoError(t, err)
	assert.NoError(t, d.Ping(context.Background()))

	var missing *AMQPDispatcher
	assert.Error(t, missing.Ping(context.Background()))
}
