package kitchen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/finitefield/pos-api/internal/services"
)

// Channel is the subset of *amqp.Channel the dispatcher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type ticketMessage struct {
	OrderID      string       `json:"order_id"`
	OrderCode    string       `json:"order_code"`
	TableID      string       `json:"table_id,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	Items        []ticketLine `json:"items"`
	DispatchedAt time.Time    `json:"dispatched_at"`
}

type ticketLine struct {
	ItemID        string            `json:"item_id"`
	ParentItemID  string            `json:"parent_item_id,omitempty"`
	Name          string            `json:"name"`
	Quantity      int               `json:"quantity"`
	Notes         string            `json:"notes,omitempty"`
	Customization map[string]string `json:"customization,omitempty"`
	IsGift        bool              `json:"is_gift,omitempty"`
}

// AMQPDispatcher publishes kitchen tickets to a topic exchange and waits for the broker confirm.
type AMQPDispatcher struct {
	conn       *amqp.Connection
	ch         Channel
	acks       <-chan amqp.Confirmation
	exchange   string
	routingKey string
	newID      func() string

	mu sync.Mutex
}

// Dial connects to the broker at url and prepares a confirm-mode channel.
func Dial(url, exchange, routingKey string) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("kitchen: dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("kitchen: open channel: %w", err)
	}
	d, err := NewAMQPDispatcher(ch, exchange, routingKey)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	d.conn = conn
	return d, nil
}

// NewAMQPDispatcher declares the exchange on ch and switches it into confirm mode.
func NewAMQPDispatcher(ch Channel, exchange, routingKey string) (*AMQPDispatcher, error) {
	if ch == nil {
		return nil, errors.New("kitchen: channel is required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, errors.New("kitchen: exchange is required")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("kitchen: declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("kitchen: enable confirms: %w", err)
	}
	return &AMQPDispatcher{
		ch:         ch,
		acks:       ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		exchange:   exchange,
		routingKey: strings.TrimSpace(routingKey),
		newID:      uuid.NewString,
	}, nil
}

// DispatchTicket satisfies services.KitchenDispatcher.
func (d *AMQPDispatcher) DispatchTicket(ctx context.Context, ticket services.KitchenTicket) error {
	if d == nil || d.ch == nil {
		return errors.New("kitchen: dispatcher not initialised")
	}
	if len(ticket.Items) == 0 {
		return nil
	}

	msg := ticketMessage{
		OrderID:      ticket.OrderID,
		OrderCode:    ticket.OrderCode,
		TableID:      ticket.TableID,
		Reason:       ticket.Reason,
		DispatchedAt: ticket.DispatchedAt.UTC(),
		Items:        make([]ticketLine, 0, len(ticket.Items)),
	}
	for _, item := range ticket.Items {
		msg.Items = append(msg.Items, ticketLine{
			ItemID:        item.ItemID,
			ParentItemID:  item.ParentItemID,
			Name:          item.Name,
			Quantity:      item.Quantity,
			Notes:         item.Notes,
			Customization: item.Customization,
			IsGift:        item.IsGift,
		})
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kitchen: marshal ticket: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.ch.PublishWithContext(ctx, d.exchange, d.routingKeyFor(ticket), false, false, amqp.Publishing{
		MessageId:     d.newID(),
		CorrelationId: ticket.OrderID,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     msg.DispatchedAt,
		Type:          "kitchen.ticket",
		Headers:       amqp.Table{"order_code": ticket.OrderCode},
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("kitchen: publish ticket for %s: %w", ticket.OrderID, err)
	}

	select {
	case conf, ok := <-d.acks:
		if !ok {
			return errors.New("kitchen: channel closed before confirm")
		}
		if !conf.Ack {
			return fmt.Errorf("kitchen: broker rejected ticket for %s", ticket.OrderID)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// routingKeyFor returns the configured key, or "kitchen.<table>" so stations can bind per table.
func (d *AMQPDispatcher) routingKeyFor(ticket services.KitchenTicket) string {
	if d.routingKey != "" {
		return d.routingKey
	}
	if table := strings.TrimSpace(ticket.TableID); table != "" {
		return "kitchen." + table
	}
	return "kitchen.takeaway"
}

// Ping reports whether the broker connection of a dialed dispatcher is still open.
func (d *AMQPDispatcher) Ping(context.Context) error {
	if d == nil || d.ch == nil {
		return errors.New("kitchen: dispatcher not initialised")
	}
	if d.conn != nil && d.conn.IsClosed() {
		return errors.New("kitchen: broker connection is closed")
	}
	return nil
}

// Close releases the channel and, for dialed dispatchers, the connection.
func (d *AMQPDispatcher) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.ch != nil {
		errs = append(errs, d.ch.Close())
	}
	if d.conn != nil {
		errs = append(errs, d.conn.Close())
	}
	return errors.Join(errs...)
}
