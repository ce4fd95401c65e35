package stream

type frameKey struct {
	group byte
	code  byte
}

type streamDispatcher struct {
	desc    string
	handler func(s *Session, payload []byte) error
}

// Entries with a nil handler are frames the provider only sends; receiving
// one is logged and ignored.
var dispatcher = map[frameKey]streamDispatcher{
	{GroupDeviceAction, CodeRing}:                      {"ring", onRing},
	{GroupDeviceConfiguration, CodeBufferSize}:         {"buffer size", onBufferSize},
	{GroupCapabilitySync, CodeRequestCapabilityUpdate}: {"capability update", onCapabilityUpdate},
	{GroupCapabilitySync, CodeDynamicBufferSize}:       {"dynamic buffer size", nil},
	{GroupDeviceInformation, CodeBatteryUpdated}:       {"battery updated", nil},
	{GroupDeviceInformation, CodeSessionNonce}:         {"session nonce", nil},
	{GroupAcknowledgement, CodeAck}:                    {"ack", onAcknowledgement},
	{GroupAcknowledgement, CodeNak}:                    {"nak", onAcknowledgement},
}
