package util

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

// failing returns an operation that fails with err for the first n calls and
// counts every call.
func failing(n int, err error, calls *int) func() error {
	return func() error {
		*calls++
		if *calls <= n {
			return err
		}
		return nil
	}
}

func TestRetryOperationGivesUpAfterRetries(t *testing.T) {
	calls := 0
	err := RetryOperation(context.Background(), time.Millisecond, 2, failing(10, errFlaky, &calls))
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 3, calls)
}

func TestRetryOperationForErrors(t *testing.T) {
	permanent := errors.New("not found")
	tests := []struct {
		name     string
		failures int
		err      error
		wantErr  error
		calls    int
	}{
		{name: "first attempt succeeds", failures: 0, err: errFlaky, calls: 1},
		{name: "retriable error then success", failures: 2, err: errFlaky, calls: 3},
		{name: "wrapped retriable error", failures: 1, err: fmt.Errorf("%w: status 503", errFlaky), calls: 2},
		{name: "retries exhausted", failures: 5, err: errFlaky, wantErr: errFlaky, calls: 3},
		{name: "other errors are not retried", failures: 5, err: permanent, wantErr: permanent, calls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryOperationForErrors(context.Background(), time.Millisecond, 2, []error{errFlaky}, failing(tt.failures, tt.err, &calls))
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}
			require.Equal(t, tt.calls, calls)
		})
	}
}

func TestRetryOperationStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryOperationForErrors(ctx, time.Hour, 5, []error{errFlaky}, func() error {
		calls++
		cancel()
		return errFlaky
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
