package stream

// Event groups.
const (
	GroupBluetooth           = 0x01
	GroupCompanionApp        = 0x02
	GroupDeviceInformation   = 0x03
	GroupDeviceAction        = 0x04
	GroupDeviceConfiguration = 0x05
	GroupCapabilitySync      = 0x06
	GroupAcknowledgement     = 0xFF
)

// Device information codes.
const (
	CodeModelID         = 0x01
	CodeBLEAddress      = 0x02
	CodeBatteryUpdated  = 0x03
	CodeFirmwareVersion = 0x09
	CodeSessionNonce    = 0x0A
)

// Device action codes.
const (
	CodeRing = 0x01
)

// Device configuration codes.
const (
	CodeBufferSize = 0x01
)

// Capability sync codes.
const (
	CodeRequestCapabilityUpdate = 0x01
	CodeDynamicBufferSize       = 0x02
)

// Acknowledgement codes.
const (
	CodeAck = 0x01
	CodeNak = 0x02
)

const (
	ringStop = 0x00

	// buffer size tuple: codec, size(2)
	bufferSizeTupleLen = 3
)
