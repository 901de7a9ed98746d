// Package neterr defines the closed set of error kinds the network core
// surfaces to its callers.
package neterr

import "errors"

// Kind identifies one of the closed set of error conditions the network
// core can raise. Callers should prefer errors.Is against the sentinel
// values below rather than switching on Kind directly, but Kind is exposed
// for boundaries (sysnet) that need to translate an error into a numeric
// status code.
type Kind int

const (
	KindUnknown Kind = iota
	KindWouldBlock
	KindTimeout
	KindDeviceNotFound
	KindNoSuchNode
	KindNotConnected
	KindProtocolNotFound
	KindUnsupportedProtocol
	KindUnsupportedDevice
	KindPacketTooShort
	KindPacketTooLarge
	KindInvalidVersion
	KindInvalidHeaderLen
	KindChecksumError
	KindPacketTruncated
	KindInvalidAddress
	KindInvalidLength
	KindNotFound
	KindNoPcbAvailable
	KindInvalidPcbIndex
	KindInvalidPcbState
	KindPortInUse
	KindNoPortAvailable
	KindNoMatchingPcb
	KindNoBufferSpace
	KindStorageFull
)

var (
	ErrWouldBlock           = errors.New("would block")
	ErrTimeout              = errors.New("timeout")
	ErrDeviceNotFound       = errors.New("device not found")
	ErrNoSuchNode           = errors.New("no route to destination")
	ErrNotConnected         = errors.New("device not up")
	ErrProtocolNotFound     = errors.New("protocol not found")
	ErrUnsupportedProtocol  = errors.New("unsupported protocol")
	ErrUnsupportedDevice    = errors.New("unsupported device")
	ErrPacketTooShort       = errors.New("packet too short")
	ErrPacketTooLarge       = errors.New("packet too large")
	ErrInvalidVersion       = errors.New("invalid ip version")
	ErrInvalidHeaderLen     = errors.New("invalid header length")
	ErrChecksumError        = errors.New("checksum error")
	ErrPacketTruncated      = errors.New("packet truncated")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrInvalidLength        = errors.New("invalid length")
	ErrNotFound             = errors.New("not found")
	ErrNoPcbAvailable       = errors.New("no pcb available")
	ErrInvalidPcbIndex      = errors.New("invalid pcb index")
	ErrInvalidPcbState      = errors.New("invalid pcb state")
	ErrPortInUse            = errors.New("port in use")
	ErrNoPortAvailable      = errors.New("no port available")
	ErrNoMatchingPcb        = errors.New("no matching pcb")
	ErrNoBufferSpace        = errors.New("no buffer space")
	ErrStorageFull          = errors.New("storage full")
)

var kindOf = map[error]Kind{
	ErrWouldBlock:          KindWouldBlock,
	ErrTimeout:             KindTimeout,
	ErrDeviceNotFound:      KindDeviceNotFound,
	ErrNoSuchNode:          KindNoSuchNode,
	ErrNotConnected:        KindNotConnected,
	ErrProtocolNotFound:    KindProtocolNotFound,
	ErrUnsupportedProtocol: KindUnsupportedProtocol,
	ErrUnsupportedDevice:   KindUnsupportedDevice,
	ErrPacketTooShort:      KindPacketTooShort,
	ErrPacketTooLarge:      KindPacketTooLarge,
	ErrInvalidVersion:      KindInvalidVersion,
	ErrInvalidHeaderLen:    KindInvalidHeaderLen,
	ErrChecksumError:       KindChecksumError,
	ErrPacketTruncated:     KindPacketTruncated,
	ErrInvalidAddress:      KindInvalidAddress,
	ErrInvalidLength:       KindInvalidLength,
	ErrNotFound:            KindNotFound,
	ErrNoPcbAvailable:      KindNoPcbAvailable,
	ErrInvalidPcbIndex:     KindInvalidPcbIndex,
	ErrInvalidPcbState:     KindInvalidPcbState,
	ErrPortInUse:           KindPortInUse,
	ErrNoPortAvailable:     KindNoPortAvailable,
	ErrNoMatchingPcb:       KindNoMatchingPcb,
	ErrNoBufferSpace:       KindNoBufferSpace,
	ErrStorageFull:         KindStorageFull,
}

// KindOf maps err to its Kind by walking the errors.Is chain against the
// closed sentinel set. Unrecognized errors report KindUnknown.
func KindOf(err error) Kind {
	for sentinel, k := range kindOf {
		if errors.Is(err, sentinel) {
			return k
		}
	}

	return KindUnknown
}
