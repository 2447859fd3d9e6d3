package kafkax

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestNewMessageRoundTripsMeta(t *testing.T) {
	msg := NewMessage(EventMeta{
		EventID:    "evt-1",
		EventType:  "ledger.commission.posted.v1",
		BusinessID: "biz-1",
	}, "appt-1", []byte(`{}`))

	assert.Equal(t, "ledger.commission.posted.v1", msg.Topic)
	assert.Equal(t, []byte("appt-1"), msg.Key)
	assert.Equal(t, EventMeta{EventID: "evt-1", EventType: "ledger.commission.posted.v1", BusinessID: "biz-1"}, ExtractEventMeta(msg))
}

func TestExtractEventMetaFallsBackToTopicAndKey(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{Topic: "booking.appointment.completed.v1", Key: []byte("appt-9")})
	assert.Equal(t, "booking.appointment.completed.v1:appt-9", meta.EventID)
	assert.Equal(t, "booking.appointment.completed.v1", meta.EventType)
	assert.Empty(t, meta.BusinessID)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, SplitBrokers(" k1:9092, ,k2:9092 "))
	assert.Nil(t, SplitBrokers(""))
}
