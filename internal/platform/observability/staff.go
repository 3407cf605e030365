package observability

import "context"

type staffCaptureKey struct{}

// staffCapture is filled in by CaptureStaffMiddleware deeper in the chain and read back on completion.
type staffCapture struct {
	id string
}

func withStaffCapture(ctx context.Context, capture *staffCapture) context.Context {
	return context.WithValue(ctx, staffCaptureKey{}, capture)
}

func staffCaptureFrom(ctx context.Context) *staffCapture {
	capture, _ := ctx.Value(staffCaptureKey{}).(*staffCapture)
	return capture
}
