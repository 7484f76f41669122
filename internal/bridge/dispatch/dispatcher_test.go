package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chanbridge/chanbridge/internal/common/errors"
	"github.com/chanbridge/chanbridge/internal/common/logger"
)

type stubHandler struct {
	claims  map[string]bool
	handled []*Message
}

func (s *stubHandler) CanHandle(msgType string) bool {
	return s.claims[msgType]
}

func (s *stubHandler) Handle(_ context.Context, msg *Message) error {
	s.handled = append(s.handled, msg)
	return nil
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return NewDispatcher(log)
}

func TestDispatchRoutesToClaimingHandler(t *testing.T) {
	d := newTestDispatcher(t)
	first := &stubHandler{claims: map[string]bool{"send": true}}
	second := &stubHandler{claims: map[string]bool{"decision": true}}
	d.Register(first)
	d.Register(second)

	err := d.Dispatch(context.Background(), []byte(`{"type":"decision","channel_id":"c","payload":{}}`))
	require.NoError(t, err)
	assert.Empty(t, first.handled)
	require.Len(t, second.handled, 1)
	assert.Equal(t, "decision", second.handled[0].Type)
	assert.Equal(t, "c", second.handled[0].ChannelID)
}

func TestDispatchFirstClaimingHandlerWins(t *testing.T) {
	d := newTestDispatcher(t)
	first := &stubHandler{claims: map[string]bool{"send": true}}
	second := &stubHandler{claims: map[string]bool{"send": true}}
	d.Register(first)
	d.Register(second)

	require.NoError(t, d.Dispatch(context.Background(), []byte(`{"type":"send"}`)))
	assert.Len(t, first.handled, 1)
	assert.Empty(t, second.handled)
}

func TestDispatchUnknownType(t *testing.T) {
	d := newTestDispatcher(t)
	d.Register(&stubHandler{claims: map[string]bool{"send": true}})

	err := d.Dispatch(context.Background(), []byte(`{"type":"mystery"}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsBadRequest(err))
}

func TestDispatchMalformedMessage(t *testing.T) {
	d := newTestDispatcher(t)
	assert.Error(t, d.Dispatch(context.Background(), []byte(`not json`)))
	assert.Error(t, d.Dispatch(context.Background(), []byte(`{"channel_id":"c"}`)))
}
