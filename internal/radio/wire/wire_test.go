package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestClientConfigEncoding(t *testing.T) {
	data, err := MarshalClientConfig(ClientConfig{SSID: "farm-ap", Password: "hunter22"})
	if err != nil {
		t.Fatalf("MarshalClientConfig failed: %v", err)
	}

	want := append([]byte{7}, "farm-ap"...)
	want = append(want, 8)
	want = append(want, "hunter22"...)
	if !bytes.Equal(data, want) {
		t.Errorf("encoding mismatch: got %x, want %x", data, want)
	}

	decoded, err := UnmarshalClientConfig(data)
	if err != nil {
		t.Fatalf("UnmarshalClientConfig failed: %v", err)
	}
	if decoded.SSID != "farm-ap" || decoded.Password != "hunter22" {
		t.Errorf("decoded mismatch: got %+v", decoded)
	}
}

func TestClientConfigLimits(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
	}{
		{"empty ssid", ClientConfig{Password: "x"}},
		{"long ssid", ClientConfig{SSID: strings.Repeat("s", MaxSSIDLen+1)}},
		{"long password", ClientConfig{SSID: "ap", Password: strings.Repeat("p", MaxPasswordLen+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := MarshalClientConfig(tt.cfg); !errors.Is(err, ErrFieldTooLong) {
				t.Errorf("expected ErrFieldTooLong, got %v", err)
			}
		})
	}

	// Open networks have no password
	if _, err := MarshalClientConfig(ClientConfig{SSID: "open"}); err != nil {
		t.Errorf("open network rejected: %v", err)
	}
}

func TestUnmarshalClientConfigTruncated(t *testing.T) {
	for _, data := range [][]byte{nil, {5, 'a', 'b'}, {2, 'a', 'b'}, {2, 'a', 'b', 4, 'x'}} {
		if _, err := UnmarshalClientConfig(data); !errors.Is(err, ErrShortPayload) {
			t.Errorf("%x: expected ErrShortPayload, got %v", data, err)
		}
	}
}

func TestCapabilities(t *testing.T) {
	caps := []string{"Client", "AccessPoint"}
	data, err := MarshalCapabilities(caps)
	if err != nil {
		t.Fatalf("MarshalCapabilities failed: %v", err)
	}
	if data[0] != 2 {
		t.Errorf("count byte: got %d, want 2", data[0])
	}

	decoded, err := UnmarshalCapabilities(data)
	if err != nil {
		t.Fatalf("UnmarshalCapabilities failed: %v", err)
	}
	if len(decoded) != 2 || decoded[0] != "Client" || decoded[1] != "AccessPoint" {
		t.Errorf("decoded mismatch: got %v", decoded)
	}

	if _, err := UnmarshalCapabilities([]byte{3, 1, 'a'}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("expected ErrShortPayload for missing entries, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	tests := []RadioStatus{
		{},
		{Started: true},
		{Started: true, Connected: true, RSSI: -67},
	}

	for _, st := range tests {
		decoded, err := UnmarshalStatus(MarshalStatus(st))
		if err != nil {
			t.Fatalf("UnmarshalStatus failed: %v", err)
		}
		if decoded != st {
			t.Errorf("status mismatch: got %+v, want %+v", decoded, st)
		}
	}

	if _, err := UnmarshalStatus([]byte{FlagStarted}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("expected ErrShortPayload, got %v", err)
	}
}

func TestReply(t *testing.T) {
	data := MarshalReply(Reply{Status: StatusAuthFailed, Payload: []byte{0xAA}})
	if !bytes.Equal(data, []byte{byte(StatusAuthFailed), 0xAA}) {
		t.Errorf("encoding mismatch: got %x", data)
	}

	r, err := UnmarshalReply(data)
	if err != nil {
		t.Fatalf("UnmarshalReply failed: %v", err)
	}
	if r.Status != StatusAuthFailed || r.Status.String() != "AUTH_FAILED" {
		t.Errorf("status mismatch: got %s", r.Status)
	}

	if _, err := UnmarshalReply(nil); !errors.Is(err, ErrShortPayload) {
		t.Errorf("expected ErrShortPayload, got %v", err)
	}
}

func TestEvents(t *testing.T) {
	ev, err := UnmarshalEvent(TopicStaDisconnected, MarshalEvent(Event{Reason: 201}))
	if err != nil {
		t.Fatalf("UnmarshalEvent failed: %v", err)
	}
	if ev.Topic != TopicStaDisconnected || ev.Reason != 201 {
		t.Errorf("event mismatch: got %+v", ev)
	}

	if _, err := UnmarshalEvent(TopicStaConnected, nil); err != nil {
		t.Errorf("connected event needs no payload: %v", err)
	}
	if _, err := UnmarshalEvent(TopicStaDisconnected, []byte{1}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("expected ErrShortPayload, got %v", err)
	}
	if _, err := UnmarshalEvent("scan_done", nil); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("expected ErrUnknownTopic, got %v", err)
	}
}
