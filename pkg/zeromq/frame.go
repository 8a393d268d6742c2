package zeromq

import (
	"fmt"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/marchandivan/pirobot/pkg/flatbuffers/pirobot/telemetry"
	"github.com/marchandivan/pirobot/pkg/relay"
)

// TelemetryVersion is written in every frame.
const TelemetryVersion = 1

// EncodeTelemetry frames a relay message as a TelemetryMessage flatbuffer.
func EncodeTelemetry(msg relay.Message) []byte {
	builder := flatbuffers.NewBuilder(len(msg.Payload) + len(msg.Topic) + 64)
	topicOffset := builder.CreateString(msg.Topic)
	payloadOffset := builder.CreateByteVector(msg.Payload)

	telemetry.TelemetryMessageStart(builder)
	telemetry.TelemetryMessageAddVersion(builder, TelemetryVersion)
	telemetry.TelemetryMessageAddTopic(builder, topicOffset)
	telemetry.TelemetryMessageAddContentType(builder, msg.ContentType)
	telemetry.TelemetryMessageAddPayload(builder, payloadOffset)
	telemetry.TelemetryMessageAddTimestampNs(builder, msg.Timestamp.UnixNano())
	root := telemetry.TelemetryMessageEnd(builder)

	telemetry.FinishTelemetryMessageBuffer(builder, root)
	return builder.FinishedBytes()
}

// DecodeTelemetry parses a frame produced by EncodeTelemetry.
func DecodeTelemetry(data []byte) (msg relay.Message, err error) {
	if len(data) < 8 {
		return relay.Message{}, fmt.Errorf("%w: %d bytes", ErrInvalidMessage, len(data))
	}
	// Reading a corrupt buffer panics inside the flatbuffers runtime.
	defer func() {
		if r := recover(); r != nil {
			msg = relay.Message{}
			err = fmt.Errorf("%w: %v", ErrInvalidMessage, r)
		}
	}()

	fb := telemetry.GetRootAsTelemetryMessage(data, 0)
	if fb.Version() != TelemetryVersion {
		return relay.Message{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidMessage, fb.Version())
	}
	payload := fb.PayloadBytes()
	return relay.Message{
		Topic:       string(fb.Topic()),
		ContentType: fb.ContentType(),
		Payload:     append([]byte(nil), payload...),
		Timestamp:   time.Unix(0, fb.TimestampNs()),
	}, nil
}
