package opcn3

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"

	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
)

// Command opcodes.
const (
	opPeripheral byte = 0x03
	opSerial     byte = 0x10
	opFirmware   byte = 0x12
	opHistogram  byte = 0x30
	opPMData     byte = 0x32
	opInfo       byte = 0x3F
)

// Peripheral power parameters for opPeripheral.
const (
	paramFanOff   byte = 0x02
	paramFanOn    byte = 0x03
	paramLaserOff byte = 0x06
	paramLaserOn  byte = 0x07
)

const (
	ackReady byte = 0xF3

	headerLen   = 4
	checksumLen = 2
	maxPayload  = 512

	histogramPayloadLen = 84
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

func checksum(payload []byte) uint16 {
	return crc16.Checksum(payload, crcTable)
}

// command is a single request frame: opcode plus optional parameters.
type command []byte

func newCommand(op byte, params ...byte) command {
	c := make(command, 0, 1+len(params))
	c = append(c, op)
	return append(c, params...)
}

func (c command) opcode() byte { return c[0] }

// header is the fixed-length prefix of every response frame.
type header [headerLen]byte

func (h header) ack() byte    { return h[0] }
func (h header) opcode() byte { return h[1] }
func (h header) length() int  { return int(binary.LittleEndian.Uint16(h[2:4])) }

func (h header) validate(op byte) error {
	if h.ack() != ackReady {
		return fmt.Errorf("%w: ack 0x%02x for opcode 0x%02x", domain.ErrProtocol, h.ack(), op)
	}
	if h.opcode() != op {
		return fmt.Errorf("%w: response echoes opcode 0x%02x, sent 0x%02x", domain.ErrProtocol, h.opcode(), op)
	}
	if h.length() > maxPayload {
		return fmt.Errorf("%w: declared payload length %d exceeds %d", domain.ErrProtocol, h.length(), maxPayload)
	}
	return nil
}

// verifyBody splits payload and trailing checksum and checks them.
func verifyBody(body []byte) ([]byte, error) {
	if len(body) < checksumLen {
		return nil, fmt.Errorf("%w: body shorter than checksum", domain.ErrCorruptFrame)
	}
	payload := body[:len(body)-checksumLen]
	want := binary.LittleEndian.Uint16(body[len(body)-checksumLen:])
	if got := checksum(payload); got != want {
		return nil, fmt.Errorf("%w: checksum 0x%04x, frame carries 0x%04x", domain.ErrCorruptFrame, got, want)
	}
	return payload, nil
}

// encodeResponse builds a response frame. Used by the simulator.
func encodeResponse(op byte, payload []byte) []byte {
	out := make([]byte, headerLen, headerLen+len(payload)+checksumLen)
	out[0] = ackReady
	out[1] = op
	binary.LittleEndian.PutUint16(out[2:4], uint16(len(payload)))
	out = append(out, payload...)
	return binary.LittleEndian.AppendUint16(out, checksum(payload))
}
