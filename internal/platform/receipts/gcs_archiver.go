package receipts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	domain "github.com/finitefield/pos-api/internal/domain"
)

// WriterFactory opens a writer for a new object. Tests substitute an in-memory sink.
type WriterFactory func(ctx context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser

// GCSArchiver writes rendered receipts to a Cloud Storage bucket.
type GCSArchiver struct {
	bucket   string
	prefix   string
	currency string
	location *time.Location
	open     WriterFactory
}

// Option customises the archiver.
type Option func(*GCSArchiver)

// WithLocation sets the time zone printed on receipts.
func WithLocation(loc *time.Location) Option {
	return func(a *GCSArchiver) {
		if loc != nil {
			a.location = loc
		}
	}
}

// WithWriterFactory replaces the Cloud Storage writer.
func WithWriterFactory(factory WriterFactory) Option {
	return func(a *GCSArchiver) {
		if factory != nil {
			a.open = factory
		}
	}
}

// NewGCSArchiver constructs an archiver for bucket. Objects are created only if absent so a retried
// checkout never rewrites an archived receipt.
func NewGCSArchiver(client *gcs.Client, bucket, prefix, currency string, opts ...Option) (*GCSArchiver, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("receipts: bucket is required")
	}
	a := &GCSArchiver{
		bucket:   bucket,
		prefix:   prefix,
		currency: strings.ToUpper(strings.TrimSpace(currency)),
		location: time.UTC,
	}
	if client != nil {
		a.open = func(ctx context.Context, bucket, object, contentType string, metadata map[string]string) io.WriteCloser {
			w := client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
			w.ContentType = contentType
			w.Metadata = metadata
			return w
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.open == nil {
		return nil, errors.New("receipts: storage client is required")
	}
	return a, nil
}

// ArchiveReceipt satisfies services.ReceiptArchiver and returns the gs:// location.
func (a *GCSArchiver) ArchiveReceipt(ctx context.Context, order domain.Order) (string, error) {
	if order.Status != domain.OrderStatusCompleted {
		return "", fmt.Errorf("receipts: order %s is not completed", order.ID)
	}
	completedAt := order.UpdatedAt
	if order.CompletedAt != nil {
		completedAt = *order.CompletedAt
	}
	object, err := ObjectPath(a.prefix, order.ID, order.Code, completedAt)
	if err != nil {
		return "", err
	}

	w := a.open(ctx, a.bucket, object, "text/plain; charset=utf-8", map[string]string{
		"orderId":   order.ID,
		"orderCode": order.Code,
	})
	if _, err := w.Write(Render(order, a.currency, a.location)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("receipts: write %s: %w", object, err)
	}
	location := fmt.Sprintf("gs://%s/%s", a.bucket, object)
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return location, nil
		}
		return "", fmt.Errorf("receipts: close %s: %w", object, err)
	}
	return location, nil
}
