package streamerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusKind(t *testing.T) {
	err := HTTPStatus("fetch.Run", 503)
	assert.True(t, Is(err, KindFailedPrecondition))
	assert.False(t, Is(err, KindAborted))
	assert.Contains(t, err.Error(), "503")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := OutputLost("coordinator.write", cause)

	var se *StreamError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, KindAborted, se.Kind)
	assert.True(t, errors.Is(err, cause))
}

func TestWaitTimeoutKind(t *testing.T) {
	err := WaitTimeout("reader.Read")
	assert.Equal(t, KindDeadlineExceeded, err.Kind)
}
