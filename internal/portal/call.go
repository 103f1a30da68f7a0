package portal

import (
	"context"
	"errors"
	"fmt"
	"internship-reporter/internal/components/telemetry"
	"net"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internship-reporter/portal")

// call runs one unit of work against the portal under the label `op`. It
// traces it, reports failures and makes sure the returned error is one of
// the portal error types so callers only ever need errors.As.
func call[T any](ctx context.Context, tel telemetry.API, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	out, err := fn(ctx)
	if err != nil {
		err = classify(op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		tel.ReportBroken(op, err)
		return out, err
	}
	return out, nil
}

func classify(op string, err error) error {
	var (
		authErr      *AuthenticationError
		resErr       *ResolutionError
		overflowErr  *OrdinalOverflowError
		submitErr    *SubmissionError
		transportErr *TransportError
	)
	switch {
	case errors.As(err, &authErr),
		errors.As(err, &resErr),
		errors.As(err, &overflowErr),
		errors.As(err, &submitErr),
		errors.As(err, &transportErr),
		errors.Is(err, ErrUnresolved):
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return &TransportError{Op: op, Err: err}
	}
	return fmt.Errorf("portal: %s: %w", op, err)
}

// send executes the request and turns failures to reach the portal, as well
// as error statuses, into a TransportError.
func send(req *resty.Request, op, method, endpoint string) (*resty.Response, error) {
	res, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if res.StatusCode() >= 400 {
		return res, &TransportError{Op: op, Err: fmt.Errorf("unexpected status %s", res.Status())}
	}
	return res, nil
}

func stepAttr(label string) attribute.KeyValue {
	return attribute.String("portal.step", label)
}
