package store

import (
	"context"
	"time"
)

// NullClient is a no-op Client used when the shared store is
// deliberately disabled. Selected by configuration at construction
// time, it makes the degraded mode an explicit, testable code path:
// every read misses, every write succeeds and is discarded, and
// subscriptions deliver nothing.
type NullClient struct{}

var _ Client = (*NullClient)(nil)

// NewNull returns a NullClient.
func NewNull() *NullClient { return &NullClient{} }

func (*NullClient) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (*NullClient) GetWithTTL(context.Context, string) ([]byte, time.Duration, bool, error) {
	return nil, 0, false, nil
}

func (*NullClient) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (*NullClient) SetIfAbsent(context.Context, string, []byte, time.Duration) (bool, error) {
	// Report failure: without a shared store there is no way to
	// guarantee exclusivity, so lock acquisition must not pretend to.
	return false, nil
}

func (*NullClient) Delete(context.Context, ...string) (int, error) { return 0, nil }

func (*NullClient) Exists(context.Context, string) (bool, error) { return false, nil }

func (*NullClient) Increment(context.Context, string) (int64, error) { return 0, nil }

func (*NullClient) Expire(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func (*NullClient) ExpireAtLeast(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func (*NullClient) Keys(context.Context, string) ([]string, error) { return nil, nil }

func (*NullClient) SetAdd(context.Context, string, ...string) error { return nil }

func (*NullClient) SetMembers(context.Context, string) ([]string, error) { return nil, nil }

func (*NullClient) SortedSetAdd(context.Context, string, float64, string) error { return nil }

func (*NullClient) SortedSetRemoveByScore(context.Context, string, float64, float64) error {
	return nil
}

func (*NullClient) SortedSetCount(context.Context, string) (int64, error) { return 0, nil }

func (*NullClient) Eval(context.Context, string, []string, ...any) (any, error) {
	return nil, nil
}

func (*NullClient) Publish(context.Context, string, []byte) error { return nil }

// Subscribe returns an already-closed message channel: subscribers see
// a silent stream, never an error.
func (*NullClient) Subscribe(context.Context, string) (<-chan Message, func(), error) {
	ch := make(chan Message)
	close(ch)
	return ch, func() {}, nil
}
