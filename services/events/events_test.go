package events

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/identity"
	testutil "github.com/trezcool/suriaral/tests"
)

type acker struct {
	acked, nacked int
	requeued      bool
}

func (a *acker) Ack(uint64, bool) error { a.acked++; return nil }
func (a *acker) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeued = requeue
	return nil
}
func (a *acker) Reject(uint64, bool) error { return nil }

type reconciler struct {
	calls []string
	err   error
}

func (r *reconciler) EnsureFacultyRecord(_ context.Context, ident identity.Identity, role access.Role) (core.Outcome, error) {
	r.calls = append(r.calls, ident.UID+":"+role.String())
	if r.err != nil {
		return 0, r.err
	}
	return core.Applied, nil
}

func TestEncodeDecode(t *testing.T) {
	evt := core.Event{
		Type:       core.EventRoleChanged,
		Subject:    "u1",
		Data:       map[string]interface{}{"to": access.RoleTeacher},
		OccurredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	body, err := Encode(evt)
	require.NoError(t, err)
	got, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "teacher", got.Data["to"])
	assert.True(t, evt.OccurredAt.Equal(got.OccurredAt))

	_, err = Decode([]byte(`{"subject":"u1"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`nope`))
	assert.Error(t, err)
}

func TestAccountHandler(t *testing.T) {
	ctx := context.Background()
	logger := testutil.NewLogger()

	t.Run("role change reconciles", func(t *testing.T) {
		rec := new(reconciler)
		handler := NewAccountHandler(rec, logger)
		err := handler(ctx, core.Event{Type: core.EventRoleChanged, Subject: "u1", Data: map[string]interface{}{"to": "admin"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"u1:admin"}, rec.calls)
		assert.True(t, logger.Logged("info", "repaired after role change"))
	})

	t.Run("bad role", func(t *testing.T) {
		rec := new(reconciler)
		handler := NewAccountHandler(rec, logger)
		err := handler(ctx, core.Event{Type: core.EventRoleChanged, Subject: "u1", Data: map[string]interface{}{"to": "janitor"}})
		assert.ErrorIs(t, err, access.ErrInvalidRole)
		assert.Empty(t, rec.calls)
	})

	t.Run("other events are only logged", func(t *testing.T) {
		rec := new(reconciler)
		handler := NewAccountHandler(rec, logger)
		require.NoError(t, handler(ctx, core.Event{Type: core.EventAccountDisabled, Subject: "u1"}))
		assert.Empty(t, rec.calls)
	})
}

func TestConsumer_Handle(t *testing.T) {
	ctx := context.Background()
	body, err := Encode(core.Event{Type: core.EventRoleChanged, Subject: "u1", Data: map[string]interface{}{"to": "teacher"}})
	require.NoError(t, err)

	tests := []struct {
		name       string
		body       []byte
		handlerErr error
		acked      int
		nacked     int
	}{
		{"handled", body, nil, 1, 0},
		{"handler failure", body, errors.New("store down"), 0, 1},
		{"undecodable", []byte("{"), nil, 0, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logger := testutil.NewLogger()
			rec := &reconciler{err: tc.handlerErr}
			c := &Consumer{handler: NewAccountHandler(rec, logger), logger: logger}
			ack := new(acker)

			c.handle(ctx, amqp.Delivery{Acknowledger: ack, Body: tc.body})
			assert.Equal(t, tc.acked, ack.acked)
			assert.Equal(t, tc.nacked, ack.nacked)
			assert.False(t, ack.requeued, "poison messages are dropped")
			assert.Equal(t, tc.nacked, len(logger.Entries("error")))
		})
	}
}

func TestLoggingPublisher(t *testing.T) {
	logger := testutil.NewLogger()
	pub := NewPublisher(testutil.NewConfig(), logger)
	require.IsType(t, &LoggingPublisher{}, pub)

	require.NoError(t, pub.Publish(context.Background(), core.Event{Type: core.EventAccountDeleted, Subject: "u1", Actor: "boss"}))
	assert.True(t, logger.Logged("info", "event account.deleted subject=u1 actor=boss"))
}
