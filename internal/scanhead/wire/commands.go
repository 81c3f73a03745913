package wire

import (
	"encoding/binary"
	"fmt"
)

// CommandType discriminates control packets.
type CommandType uint8

const (
	CmdConnect      CommandType = 0x01 // host -> device handshake
	CmdConnectReply CommandType = 0x02 // device -> host handshake response
	CmdDisconnect   CommandType = 0x03
	CmdStartScan    CommandType = 0x04
	CmdStopScan     CommandType = 0x05
	CmdSetWindow    CommandType = 0x06
)

// ConnectionMode selects how the host attaches to the device.
type ConnectionMode uint8

const (
	ModeNormal ConnectionMode = 0x00
	// ModeDirect is the privileged maintenance mode that bypasses the
	// device's client arbitration.
	ModeDirect ConnectionMode = 0x01
)

// Control packets share a 9-byte header: ControlMagic (4), type (1),
// session id (4). The payload that follows is type-specific.
const commandHeaderSize = 9

// Command is a control operation the host can transmit to the device.
type Command interface {
	commandType() CommandType
	sessionID() uint32
	appendPayload(dst []byte) []byte
}

// Connect opens a session. The device answers with a ConnectReply.
type Connect struct {
	Session             uint32
	Mode                ConnectionMode
	Major, Minor, Patch uint16 // host protocol version
}

func (c Connect) commandType() CommandType { return CmdConnect }
func (c Connect) sessionID() uint32        { return c.Session }
func (c Connect) appendPayload(dst []byte) []byte {
	dst = append(dst, byte(c.Mode))
	dst = binary.BigEndian.AppendUint16(dst, c.Major)
	dst = binary.BigEndian.AppendUint16(dst, c.Minor)
	dst = binary.BigEndian.AppendUint16(dst, c.Patch)
	return dst
}

// Disconnect tells the device the session is over. Best-effort: the host
// releases its resources whether or not this packet arrives.
type Disconnect struct {
	Session uint32
}

func (c Disconnect) commandType() CommandType        { return CmdDisconnect }
func (c Disconnect) sessionID() uint32               { return c.Session }
func (c Disconnect) appendPayload(dst []byte) []byte { return dst }

// StartScan begins profile streaming at the given rate, format and column
// window.
type StartScan struct {
	Session     uint32
	RateHz      uint32
	Format      Format
	StartColumn uint16
	EndColumn   uint16
}

func (c StartScan) commandType() CommandType { return CmdStartScan }
func (c StartScan) sessionID() uint32        { return c.Session }
func (c StartScan) appendPayload(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, c.RateHz)
	dst = append(dst, byte(c.Format))
	dst = binary.BigEndian.AppendUint16(dst, c.StartColumn)
	dst = binary.BigEndian.AppendUint16(dst, c.EndColumn)
	return dst
}

// StopScan halts profile streaming. Idempotent on the device side.
type StopScan struct {
	Session uint32
}

func (c StopScan) commandType() CommandType        { return CmdStopScan }
func (c StopScan) sessionID() uint32               { return c.Session }
func (c StopScan) appendPayload(dst []byte) []byte { return dst }

// SetWindow pushes the scan window to the device. Extents are in
// thousandths of the configured system unit.
type SetWindow struct {
	Session uint32
	Top     int32
	Bottom  int32
	Left    int32
	Right   int32
}

func (c SetWindow) commandType() CommandType { return CmdSetWindow }
func (c SetWindow) sessionID() uint32        { return c.Session }
func (c SetWindow) appendPayload(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(c.Top))
	dst = binary.BigEndian.AppendUint32(dst, uint32(c.Bottom))
	dst = binary.BigEndian.AppendUint32(dst, uint32(c.Left))
	dst = binary.BigEndian.AppendUint32(dst, uint32(c.Right))
	return dst
}

// EncodeCommand serialises a control packet.
func EncodeCommand(c Command) []byte {
	b := make([]byte, 0, commandHeaderSize+16)
	b = binary.BigEndian.AppendUint32(b, ControlMagic)
	b = append(b, byte(c.commandType()))
	b = binary.BigEndian.AppendUint32(b, c.sessionID())
	return c.appendPayload(b)
}

// DecodeCommand parses a control packet received from a host. Only the
// simulator and test tooling consume this; a production host never receives
// commands.
func DecodeCommand(b []byte) (Command, error) {
	if len(b) < commandHeaderSize {
		return nil, fmt.Errorf("%w: short control packet (%d bytes)", ErrMalformed, len(b))
	}
	if binary.BigEndian.Uint32(b[0:4]) != ControlMagic {
		return nil, fmt.Errorf("%w: bad control magic 0x%08x", ErrMalformed, binary.BigEndian.Uint32(b[0:4]))
	}
	typ := CommandType(b[4])
	session := binary.BigEndian.Uint32(b[5:9])
	p := b[commandHeaderSize:]

	switch typ {
	case CmdConnect:
		if len(p) < 7 {
			return nil, fmt.Errorf("%w: short connect payload", ErrMalformed)
		}
		return Connect{
			Session: session,
			Mode:    ConnectionMode(p[0]),
			Major:   binary.BigEndian.Uint16(p[1:3]),
			Minor:   binary.BigEndian.Uint16(p[3:5]),
			Patch:   binary.BigEndian.Uint16(p[5:7]),
		}, nil
	case CmdDisconnect:
		return Disconnect{Session: session}, nil
	case CmdStartScan:
		if len(p) < 9 {
			return nil, fmt.Errorf("%w: short start-scan payload", ErrMalformed)
		}
		return StartScan{
			Session:     session,
			RateHz:      binary.BigEndian.Uint32(p[0:4]),
			Format:      Format(p[4]),
			StartColumn: binary.BigEndian.Uint16(p[5:7]),
			EndColumn:   binary.BigEndian.Uint16(p[7:9]),
		}, nil
	case CmdStopScan:
		return StopScan{Session: session}, nil
	case CmdSetWindow:
		if len(p) < 16 {
			return nil, fmt.Errorf("%w: short set-window payload", ErrMalformed)
		}
		return SetWindow{
			Session: session,
			Top:     int32(binary.BigEndian.Uint32(p[0:4])),
			Bottom:  int32(binary.BigEndian.Uint32(p[4:8])),
			Left:    int32(binary.BigEndian.Uint32(p[8:12])),
			Right:   int32(binary.BigEndian.Uint32(p[12:16])),
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown command type 0x%02x", ErrMalformed, uint8(typ))
}

// ConnectReply is the device's answer to a Connect command. Status zero means
// the session was accepted.
type ConnectReply struct {
	Session             uint32
	Serial              uint32
	Major, Minor, Patch uint16 // device protocol version
	MaxScanRateHz       uint32
	Status              uint8
}

const connectReplySize = commandHeaderSize + 4 + 6 + 4 + 1

// EncodeConnectReply serialises a handshake response. Device side (simulator)
// only.
func EncodeConnectReply(r ConnectReply) []byte {
	b := make([]byte, 0, connectReplySize)
	b = binary.BigEndian.AppendUint32(b, ControlMagic)
	b = append(b, byte(CmdConnectReply))
	b = binary.BigEndian.AppendUint32(b, r.Session)
	b = binary.BigEndian.AppendUint32(b, r.Serial)
	b = binary.BigEndian.AppendUint16(b, r.Major)
	b = binary.BigEndian.AppendUint16(b, r.Minor)
	b = binary.BigEndian.AppendUint16(b, r.Patch)
	b = binary.BigEndian.AppendUint32(b, r.MaxScanRateHz)
	b = append(b, r.Status)
	return b
}

// DecodeConnectReply parses a handshake response.
func DecodeConnectReply(b []byte) (ConnectReply, error) {
	if len(b) < connectReplySize {
		return ConnectReply{}, fmt.Errorf("%w: short connect reply (%d bytes)", ErrMalformed, len(b))
	}
	if binary.BigEndian.Uint32(b[0:4]) != ControlMagic {
		return ConnectReply{}, fmt.Errorf("%w: bad control magic", ErrMalformed)
	}
	if CommandType(b[4]) != CmdConnectReply {
		return ConnectReply{}, fmt.Errorf("%w: not a connect reply (type 0x%02x)", ErrMalformed, b[4])
	}
	return ConnectReply{
		Session:       binary.BigEndian.Uint32(b[5:9]),
		Serial:        binary.BigEndian.Uint32(b[9:13]),
		Major:         binary.BigEndian.Uint16(b[13:15]),
		Minor:         binary.BigEndian.Uint16(b[15:17]),
		Patch:         binary.BigEndian.Uint16(b[17:19]),
		MaxScanRateHz: binary.BigEndian.Uint32(b[19:23]),
		Status:        b[23],
	}, nil
}
