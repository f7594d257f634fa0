package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
)

func fastRetry(retries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    retries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestExecuteWithRetry(t *testing.T) {
	transient := &ports.TransportError{Op: "list", Err: errors.New("connection refused")}
	rejected := &ports.RejectedError{StatusCode: 400, Message: "invalid vlan"}

	tests := []struct {
		name          string
		errs          []error
		expectedCalls int
		expectErr     error
	}{
		{name: "success first try", errs: []error{nil}, expectedCalls: 1},
		{name: "transient then success", errs: []error{transient, transient, nil}, expectedCalls: 3},
		{name: "rejection is not retried", errs: []error{rejected}, expectedCalls: 1, expectErr: rejected},
		{name: "not found is not retried", errs: []error{&ports.NotFoundError{Kind: models.KindVLAN, Key: "x"}}, expectedCalls: 1, expectErr: ports.ErrNotFound},
		{name: "retries exhausted", errs: []error{transient, transient, transient, transient, transient}, expectedCalls: 4, expectErr: transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := ExecuteWithRetry(context.Background(), fastRetry(3), func() error {
				err := tt.errs[calls]
				calls++
				return err
			})

			assert.Equal(t, tt.expectedCalls, calls)
			if tt.expectErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.expectErr)
			}
		})
	}
}

func TestExecuteWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := ExecuteWithRetry(ctx, fastRetry(5), func() error {
		calls++
		return &ports.TransportError{Op: "list", Err: errors.New("timeout")}
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestRetryConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultRetryConfig().Validate())
	assert.NoError(t, NoRetryConfig().Validate())
	assert.Error(t, RetryConfig{MaxRetries: -1, InitialDelay: time.Second, MaxDelay: time.Second, BackoffFactor: 2}.Validate())
	assert.Error(t, RetryConfig{MaxRetries: 1, InitialDelay: time.Second, MaxDelay: time.Millisecond, BackoffFactor: 2}.Validate())
}

func TestCallTracker(t *testing.T) {
	tracker := NewCallTracker()
	tracker.Track(models.KindInterface, OpBulkCreate, 10*time.Millisecond, nil)
	tracker.Track(models.KindInterface, OpBulkCreate, 30*time.Millisecond, errors.New("boom"))
	tracker.Track(models.KindVLAN, OpList, time.Millisecond, nil)

	stats := tracker.Get(models.KindInterface, OpBulkCreate)
	assert.Equal(t, int64(2), stats.Requests)
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, 20*time.Millisecond, stats.AverageLatency)
	assert.Equal(t, int64(3), tracker.Total())
	assert.Equal(t, CallStats{}, tracker.Get(models.KindCable, OpList))
}
