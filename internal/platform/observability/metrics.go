package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/finitefield/pos-api/internal/domain"
)

const meterName = "github.com/finitefield/pos-api/internal/platform/observability"

// OrderMetrics records order lifecycle counters and money histograms with OpenTelemetry.
type OrderMetrics struct {
	checkouts     metric.Int64Counter
	revenue       metric.Int64Histogram
	cancellations metric.Int64Counter
	loss          metric.Int64Counter
	promotions    metric.Int64Counter
	discount      metric.Int64Histogram
}

// NewOrderMetrics registers the instruments on meter, or on the global provider when meter is nil.
func NewOrderMetrics(meter metric.Meter) (*OrderMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	var (
		m    OrderMetrics
		errs []error
	)
	track := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	m.checkouts, err = meter.Int64Counter("pos.orders.checked_out", metric.WithDescription("Orders settled at checkout"))
	track(err)
	m.revenue, err = meter.Int64Histogram("pos.orders.total_amount", metric.WithDescription("Order total at checkout in minor currency units"))
	track(err)
	m.cancellations, err = meter.Int64Counter("pos.orders.canceled", metric.WithDescription("Orders canceled or auto-canceled"))
	track(err)
	m.loss, err = meter.Int64Counter("pos.orders.loss_amount", metric.WithDescription("Cost of prepared items written off"))
	track(err)
	m.promotions, err = meter.Int64Counter("pos.promotions.applied", metric.WithDescription("Promotions applied to orders"))
	track(err)
	m.discount, err = meter.Int64Histogram("pos.promotions.discount", metric.WithDescription("Discount granted per applied promotion"))
	track(err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *OrderMetrics) OrderCheckedOut(ctx context.Context, total int64, method domain.PaymentMethod) {
	attrs := metric.WithAttributes(attribute.String("payment_method", string(method)))
	m.checkouts.Add(ctx, 1, attrs)
	m.revenue.Record(ctx, total, attrs)
}

func (m *OrderMetrics) OrderCanceled(ctx context.Context, reason string) {
	m.cancellations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", cancelReasonLabel(reason))))
}

func (m *OrderMetrics) LossRecorded(ctx context.Context, amount int64) {
	if amount <= 0 {
		return
	}
	m.loss.Add(ctx, amount)
}

func (m *OrderMetrics) PromotionApplied(ctx context.Context, promotionType domain.PromotionType, discount int64) {
	attrs := metric.WithAttributes(attribute.String("promotion_type", string(promotionType)))
	m.promotions.Add(ctx, 1, attrs)
	m.discount.Record(ctx, discount, attrs)
}

// autoCancelReason matches the reason the order service records when every line was canceled.
const autoCancelReason = "all items canceled"

// cancelReasonLabel keeps metric cardinality bounded: free-text reasons collapse to "manual".
func cancelReasonLabel(reason string) string {
	switch reason {
	case autoCancelReason:
		return "auto"
	case "":
		return "unspecified"
	default:
		return "manual"
	}
}
