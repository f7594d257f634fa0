package ports

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"netsync/internal/domain/models"
)

func TestErrorClassification(t *testing.T) {
	transport := &TransportError{Op: "list", Err: errors.New("connection refused")}
	wrapped := fmt.Errorf("fetch interfaces: %w", transport)
	notFound := &NotFoundError{Kind: models.KindVLAN, Key: "dc1|10"}

	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsTransient(&RejectedError{StatusCode: 400, Message: "bad"}))
	assert.False(t, IsTransient(notFound))

	assert.True(t, IsNotFound(fmt.Errorf("resolve: %w", notFound)))
	assert.True(t, errors.Is(notFound, ErrNotFound))

	assert.True(t, IsConflict(&ConflictError{Kind: models.KindInterface, Key: "sw1/Gi0/1", Side: "local"}))
}

func TestPartialBatchError_Message(t *testing.T) {
	err := &PartialBatchError{
		Kind:   models.KindInterface,
		Total:  3,
		Failed: []Result{{Key: "sw1/Gi0/2", Err: errors.New("invalid")}},
	}
	assert.Equal(t, "bulk interfaces: 1 of 3 items rejected (sw1/Gi0/2)", err.Error())
}

func TestFilter_String(t *testing.T) {
	assert.Equal(t, "all", Filter{}.String())
	assert.Equal(t, "site=dc1;tag=managed", Filter{Site: "dc1", Tag: "managed"}.String())
	assert.Equal(t, "devices=a,b", DevicesFilter("a", "b").String())
	assert.Equal(t, "addresses=10.0.0.1", AddressesFilter("10.0.0.1").String())
	assert.False(t, MACsFilter("00:11:22:33:44:55").IsEmpty())
}
