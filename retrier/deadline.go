package retrier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// errHeaderTimeout is the cause recorded when an attempt gives up waiting
// for response headers.
var errHeaderTimeout = errors.New("timed out waiting for response headers")

// headerDeadline bounds the time from sending a request until its response
// headers arrive. Once they do, the body is read under the caller's context
// alone, so large or slow bodies are not cut off.
type headerDeadline struct {
	next    http.RoundTripper
	timeout time.Duration
}

func (t *headerDeadline) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancelCause(req.Context())
	timer := time.AfterFunc(t.timeout, func() { cancel(errHeaderTimeout) })

	resp, err := t.next.RoundTrip(req.WithContext(ctx))
	fired := !timer.Stop()
	if err != nil {
		cancel(nil)
		if fired && errors.Is(context.Cause(ctx), errHeaderTimeout) {
			return nil, fmt.Errorf("%w after %s", errHeaderTimeout, t.timeout)
		}
		return nil, err
	}
	if fired {
		// Headers raced the deadline; the body shares the canceled context.
		resp.Body.Close()
		cancel(nil)
		return nil, fmt.Errorf("%w after %s", errHeaderTimeout, t.timeout)
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the attempt context together with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelCauseFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel(nil)
	return err
}
