package fastpair

import (
	"fmt"

	"github.com/google/uuid"
)

// UUID16 expands a 16-bit SIG assigned number into the Bluetooth base UUID.
func UUID16(id uint16) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("0000%04x-0000-1000-8000-00805f9b34fb", id))
}

// ServiceUUID16 is the Fast Pair service.
const ServiceUUID16 = 0xFE2C

var (
	ServiceUUID = UUID16(ServiceUUID16)

	ModelIDUUID         = uuid.MustParse("fe2c1233-8366-4814-8eb0-01de32100bea")
	KeyBasedPairingUUID = uuid.MustParse("fe2c1234-8366-4814-8eb0-01de32100bea")
	PasskeyUUID         = uuid.MustParse("fe2c1235-8366-4814-8eb0-01de32100bea")
	AccountKeyUUID      = uuid.MustParse("fe2c1236-8366-4814-8eb0-01de32100bea")
	AdditionalDataUUID  = uuid.MustParse("fe2c1237-8366-4814-8eb0-01de32100bea")
	BeaconActionsUUID   = uuid.MustParse("fe2c1238-8366-4814-8eb0-01de32100bea")

	DeviceInformationServiceUUID = UUID16(0x180A)
	FirmwareRevisionUUID         = UUID16(0x2A26)

	TransportDiscoveryServiceUUID = UUID16(0x1824)
	TDSControlPointUUID           = UUID16(0x2ABC)
	BrEdrHandoverDataUUID         = uuid.MustParse("00002c01-0000-1000-8000-00805f9b34fb")
	BluetoothSigDataUUID          = uuid.MustParse("00002c02-0000-1000-8000-00805f9b34fb")
)
