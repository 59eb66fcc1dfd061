package s3

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeSleep records requested delays without waiting.
type fakeSleep struct {
	delays []time.Duration
	err    error
}

func (f *fakeSleep) sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return f.err
}

func TestRetrierSuccessFirstAttempt(t *testing.T) {
	sleeper := &fakeSleep{}
	r := newRetrier(3)
	r.sleep = sleeper.sleep

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, sleeper.delays, "No backoff on immediate success")
}

func TestRetrierTransientThenSuccess(t *testing.T) {
	sleeper := &fakeSleep{}
	r := newRetrier(3)
	r.sleep = sleeper.sleep

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return &RequestError{Op: "put x", StatusCode: 500}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, sleeper.delays)
}

func TestRetrierBackoffDoubles(t *testing.T) {
	sleeper := &fakeSleep{}
	r := newRetrier(3)
	r.sleep = sleeper.sleep

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return &RequestError{Op: "put x", StatusCode: 503}
	})

	var reqErr *RequestError
	assert.ErrorAs(t, err, &reqErr, "Exhaustion should return the last failure")
	assert.Equal(t, 4, attempts, "One initial attempt plus three retries")
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
	}, sleeper.delays, "Backoff should double per retry")
}

func TestRetrierPermanentFailureShortCircuits(t *testing.T) {
	sleeper := &fakeSleep{}
	r := newRetrier(3)
	r.sleep = sleeper.sleep

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return &RequestError{Op: "get x", StatusCode: 404, Code: "NoSuchKey"}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "4xx responses are permanent, never retried")
	assert.Empty(t, sleeper.delays)
}

func TestRetrierIntegrityFailureIsTransient(t *testing.T) {
	sleeper := &fakeSleep{}
	r := newRetrier(1)
	r.sleep = sleeper.sleep

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return &IntegrityError{Key: "x", Expected: "aa", Actual: "bb"}
	})

	assert.Error(t, err)
	assert.Equal(t, 2, attempts, "Checksum mismatch should be retried")
}

func TestRetrierStopsWhenSleepCancelled(t *testing.T) {
	opErr := errors.New("connection reset")
	sleeper := &fakeSleep{err: context.Canceled}
	r := newRetrier(3)
	r.sleep = sleeper.sleep

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return opErr
	})

	assert.ErrorIs(t, err, opErr, "The operation failure should surface, not the sleep error")
	assert.Equal(t, 1, attempts)
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Server error", &RequestError{StatusCode: 500}, true},
		{"Service unavailable", &RequestError{StatusCode: 503}, true},
		{"Not found", &RequestError{StatusCode: 404}, false},
		{"Forbidden", &RequestError{StatusCode: 403}, false},
		{"Integrity", &IntegrityError{}, true},
		{"Protocol", &ProtocolError{}, false},
		{"Config", &ConfigError{}, false},
		{"Stalled", ErrStalled, true},
		{"Unknown transport", errors.New("broken pipe"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}
