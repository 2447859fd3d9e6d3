package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID    = "event_id"
	HeaderEventType  = "event_type"
	HeaderBusinessID = "business_id"
)

// EventMeta is the metadata carried on every ledger/booking message.
type EventMeta struct {
	EventID    string
	EventType  string
	BusinessID string
}

func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:    HeaderValue(msg.Headers, HeaderEventID),
		EventType:  HeaderValue(msg.Headers, HeaderEventType),
		BusinessID: HeaderValue(msg.Headers, HeaderBusinessID),
	}
	if meta.EventID == "" {
		meta.EventID = msg.Topic + ":" + string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

// NewMessage builds a message keyed by aggregate id so all events of one
// appointment or customer land on the same partition in order.
func NewMessage(meta EventMeta, key string, payload []byte) kafka.Message {
	headers := []kafka.Header{
		{Key: HeaderEventID, Value: []byte(meta.EventID)},
		{Key: HeaderEventType, Value: []byte(meta.EventType)},
	}
	if meta.BusinessID != "" {
		headers = append(headers, kafka.Header{Key: HeaderBusinessID, Value: []byte(meta.BusinessID)})
	}
	return kafka.Message{
		Topic:   meta.EventType,
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
	}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
