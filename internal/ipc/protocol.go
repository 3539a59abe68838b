package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	magic      = "i3-ipc"
	headerSize = len(magic) + 8
	// maxPayload bounds a single reply; full trees on large setups stay well below it.
	maxPayload = 64 << 20

	eventMask uint32 = 1 << 31
)

// MessageType identifies a request on the command connection.
type MessageType uint32

const (
	MessageRunCommand    MessageType = 0
	MessageGetWorkspaces MessageType = 1
	MessageSubscribe     MessageType = 2
	MessageGetOutputs    MessageType = 3
	MessageGetTree       MessageType = 4
	MessageGetMarks      MessageType = 5
	MessageGetBarConfig  MessageType = 6
	MessageGetVersion    MessageType = 7
)

func (t MessageType) String() string {
	switch t {
	case MessageRunCommand:
		return "run_command"
	case MessageGetWorkspaces:
		return "get_workspaces"
	case MessageSubscribe:
		return "subscribe"
	case MessageGetOutputs:
		return "get_outputs"
	case MessageGetTree:
		return "get_tree"
	case MessageGetMarks:
		return "get_marks"
	case MessageGetBarConfig:
		return "get_bar_config"
	case MessageGetVersion:
		return "get_version"
	default:
		return fmt.Sprintf("message(%d)", uint32(t))
	}
}

// EventType identifies an event stream; the wire value carries eventMask.
type EventType uint32

const (
	EventWorkspace EventType = EventType(eventMask | 0)
	EventOutput    EventType = EventType(eventMask | 1)
	EventMode      EventType = EventType(eventMask | 2)
	EventWindow    EventType = EventType(eventMask | 3)
	EventBarconfig EventType = EventType(eventMask | 4)
	EventBinding   EventType = EventType(eventMask | 5)
	EventShutdown  EventType = EventType(eventMask | 6)
	EventTick      EventType = EventType(eventMask | 7)
)

var eventNames = map[EventType]string{
	EventWorkspace: "workspace",
	EventOutput:    "output",
	EventMode:      "mode",
	EventWindow:    "window",
	EventBarconfig: "barconfig_update",
	EventBinding:   "binding",
	EventShutdown:  "shutdown",
	EventTick:      "tick",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", uint32(t)&^eventMask)
}

// ErrConnect wraps failures to reach the window manager socket.
var ErrConnect = errors.New("connect to window manager")

var errBadMagic = errors.New("bad message magic")

// IOError reports a transport failure. The connection it happened on is
// unusable afterwards.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ipc %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ProtocolError reports a reply that arrived intact but could not be
// interpreted. The connection stays usable.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ipc %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsConnectionFault reports whether err leaves its connection unusable.
func IsConnectionFault(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// writeMessage frames payload in a single write so frames never interleave.
func writeMessage(w io.Writer, typ uint32, payload []byte) error {
	buf := make([]byte, headerSize+len(payload))
	copy(buf, magic)
	binary.LittleEndian.PutUint32(buf[len(magic):], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[len(magic)+4:], typ)
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

func readMessage(r io.Reader) (uint32, []byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	if string(header[:len(magic)]) != magic {
		return 0, nil, errBadMagic
	}
	size := binary.LittleEndian.Uint32(header[len(magic):])
	typ := binary.LittleEndian.Uint32(header[len(magic)+4:])
	if size > maxPayload {
		return 0, nil, fmt.Errorf("payload of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return typ, payload, nil
}
