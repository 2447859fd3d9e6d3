package outbox

import (
	"context"
	"testing"

	"github.com/md-rashed-zaman/apptledger/libs/kafkax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMessageCarriesMetaHeaders(t *testing.T) {
	msg := ToMessage(context.Background(), Record{
		ID:          7,
		EventID:     "evt-1",
		AggregateID: "appt-1",
		EventType:   AppointmentCompleted,
		BusinessID:  "biz-1",
		Payload:     []byte(`{"ok":true}`),
	})

	assert.Equal(t, AppointmentCompleted, msg.Topic)
	assert.Equal(t, "appt-1", string(msg.Key))

	meta := kafkax.ExtractEventMeta(msg)
	assert.Equal(t, "evt-1", meta.EventID)
	assert.Equal(t, AppointmentCompleted, meta.EventType)
	assert.Equal(t, "biz-1", meta.BusinessID)
}

func TestNewEventMarshalsPayload(t *testing.T) {
	evt, err := NewEvent("appointment", "appt-1", AppointmentBooked, "biz-1", map[string]string{"status": "scheduled"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"scheduled"}`, string(evt.Payload))
	assert.Equal(t, "biz-1", evt.BusinessID)

	_, err = NewEvent("appointment", "appt-1", AppointmentBooked, "biz-1", func() {})
	assert.Error(t, err)
}
