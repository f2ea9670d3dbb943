// Package wire encodes the messages exchanged with the radio daemon over
// its ZeroMQ command and event sockets.
//
// Commands are two frames: the command name and a binary payload. Every
// reply is one frame starting with a status byte followed by the command's
// reply payload. Events are two frames: the topic and a binary payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Command names
const (
	CmdCapabilities = "caps"
	CmdStatus       = "status"
	CmdConfig       = "config"
	CmdStart        = "start"
	CmdConnect      = "connect"
)

// Event topics
const (
	TopicStaStart        = "sta_start"
	TopicStaConnected    = "sta_connected"
	TopicStaDisconnected = "sta_disconnected"
)

// Credential limits of WPA2 personal
const (
	MaxSSIDLen     = 32
	MaxPasswordLen = 64
)

var (
	ErrShortPayload = errors.New("payload too short")
	ErrFieldTooLong = errors.New("field too long")
	ErrUnknownTopic = errors.New("unknown event topic")
)

// StatusCode is the first byte of every reply
type StatusCode uint8

const (
	StatusOK StatusCode = iota
	StatusNotStarted
	StatusBusy
	StatusAuthFailed
	StatusNoAccessPoint
	StatusInternal
)

func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotStarted:
		return "NOT_STARTED"
	case StatusBusy:
		return "BUSY"
	case StatusAuthFailed:
		return "AUTH_FAILED"
	case StatusNoAccessPoint:
		return "NO_AP_FOUND"
	case StatusInternal:
		return "INTERNAL"
	default:
		return fmt.Sprintf("STATUS_%d", uint8(s))
	}
}

// Reply is a decoded command reply
type Reply struct {
	Status  StatusCode
	Payload []byte
}

// MarshalReply serializes a reply
func MarshalReply(r Reply) []byte {
	buf := make([]byte, 1+len(r.Payload))
	buf[0] = byte(r.Status)
	copy(buf[1:], r.Payload)
	return buf
}

// UnmarshalReply deserializes a reply
func UnmarshalReply(data []byte) (Reply, error) {
	if len(data) < 1 {
		return Reply{}, fmt.Errorf("reply: %w", ErrShortPayload)
	}
	return Reply{Status: StatusCode(data[0]), Payload: data[1:]}, nil
}

// ClientConfig is the payload of the config command
type ClientConfig struct {
	SSID     string
	Password string
}

// MarshalClientConfig serializes station credentials:
//
//	1 byte: ssid length
//	N bytes: ssid
//	1 byte: password length
//	M bytes: password
func MarshalClientConfig(c ClientConfig) ([]byte, error) {
	if len(c.SSID) == 0 || len(c.SSID) > MaxSSIDLen {
		return nil, fmt.Errorf("ssid length %d: %w", len(c.SSID), ErrFieldTooLong)
	}
	if len(c.Password) > MaxPasswordLen {
		return nil, fmt.Errorf("password length %d: %w", len(c.Password), ErrFieldTooLong)
	}

	buf := make([]byte, 0, 2+len(c.SSID)+len(c.Password))
	buf = append(buf, byte(len(c.SSID)))
	buf = append(buf, c.SSID...)
	buf = append(buf, byte(len(c.Password)))
	buf = append(buf, c.Password...)
	return buf, nil
}

// UnmarshalClientConfig deserializes station credentials
func UnmarshalClientConfig(data []byte) (ClientConfig, error) {
	ssid, rest, err := readString(data)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("ssid: %w", err)
	}
	password, _, err := readString(rest)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("password: %w", err)
	}
	return ClientConfig{SSID: ssid, Password: password}, nil
}

// MarshalCapabilities serializes the capability list:
//
//	1 byte: count
//	per entry: 1 byte length, N bytes name
func MarshalCapabilities(caps []string) ([]byte, error) {
	if len(caps) > 255 {
		return nil, fmt.Errorf("capabilities: %w", ErrFieldTooLong)
	}
	buf := []byte{byte(len(caps))}
	for _, c := range caps {
		if len(c) > 255 {
			return nil, fmt.Errorf("capability %q: %w", c, ErrFieldTooLong)
		}
		buf = append(buf, byte(len(c)))
		buf = append(buf, c...)
	}
	return buf, nil
}

// UnmarshalCapabilities deserializes the capability list
func UnmarshalCapabilities(data []byte) ([]string, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("capabilities: %w", ErrShortPayload)
	}
	n := int(data[0])
	rest := data[1:]
	caps := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var c string
		var err error
		c, rest, err = readString(rest)
		if err != nil {
			return nil, fmt.Errorf("capability %d: %w", i, err)
		}
		caps = append(caps, c)
	}
	return caps, nil
}

// Status flags
const (
	FlagStarted   uint8 = 1 << 0
	FlagConnected uint8 = 1 << 1
)

// RadioStatus is the payload of the status reply
type RadioStatus struct {
	Started   bool
	Connected bool
	RSSI      int8
}

// MarshalStatus serializes radio status:
//
//	1 byte: flags
//	1 byte: rssi (signed dBm)
func MarshalStatus(s RadioStatus) []byte {
	var flags uint8
	if s.Started {
		flags |= FlagStarted
	}
	if s.Connected {
		flags |= FlagConnected
	}
	return []byte{flags, byte(s.RSSI)}
}

// UnmarshalStatus deserializes radio status
func UnmarshalStatus(data []byte) (RadioStatus, error) {
	if len(data) < 2 {
		return RadioStatus{}, fmt.Errorf("status: %w", ErrShortPayload)
	}
	return RadioStatus{
		Started:   data[0]&FlagStarted != 0,
		Connected: data[0]&FlagConnected != 0,
		RSSI:      int8(data[1]),
	}, nil
}

// Event is a decoded radio event
type Event struct {
	Topic  string
	Reason uint16 // disconnect reason code, zero for other topics
}

// MarshalEvent serializes an event payload:
//
//	2 bytes: reason (little endian)
func MarshalEvent(e Event) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, e.Reason)
	return buf
}

// UnmarshalEvent deserializes an event
func UnmarshalEvent(topic string, data []byte) (Event, error) {
	switch topic {
	case TopicStaStart, TopicStaConnected:
		return Event{Topic: topic}, nil
	case TopicStaDisconnected:
		if len(data) < 2 {
			return Event{}, fmt.Errorf("%s: %w", topic, ErrShortPayload)
		}
		return Event{Topic: topic, Reason: binary.LittleEndian.Uint16(data[0:2])}, nil
	default:
		return Event{}, fmt.Errorf("%q: %w", topic, ErrUnknownTopic)
	}
}

func readString(data []byte) (string, []byte, error) {
	if len(data) < 1 {
		return "", nil, ErrShortPayload
	}
	n := int(data[0])
	if len(data) < 1+n {
		return "", nil, ErrShortPayload
	}
	return string(data[1 : 1+n]), data[1+n:], nil
}
