package portal

import (
	"github.com/godbus/dbus/v5"
)

const (
	screenCastInterface = callBaseName + ".ScreenCast"
	createSessionCall   = screenCastInterface + ".CreateSession"
	selectSourcesCall   = screenCastInterface + ".SelectSources"
	startCall           = screenCastInterface + ".Start"
	openPipeWireCall    = screenCastInterface + ".OpenPipeWireRemote"
)

// Source type and cursor mode bitmasks from the ScreenCast portal spec.
const (
	SourceTypeMonitor uint32 = 1
	SourceTypeWindow  uint32 = 2
	SourceTypeVirtual uint32 = 4

	CursorModeHidden   uint32 = 1
	CursorModeEmbedded uint32 = 2
	CursorModeMetadata uint32 = 4

	PersistModeNone       uint32 = 0
	PersistModeRunning    uint32 = 1
	PersistModePersistent uint32 = 2
)

// AvailableSourceTypes reports the portal's AvailableSourceTypes
// property.
func AvailableSourceTypes() (uint32, error) {
	v, err := GetProperty(screenCastInterface, "AvailableSourceTypes")
	if err != nil {
		return 0, err
	}
	return v.(uint32), nil
}

// AvailableCursorModes reports the portal's AvailableCursorModes
// property.
func AvailableCursorModes() (uint32, error) {
	v, err := GetProperty(screenCastInterface, "AvailableCursorModes")
	if err != nil {
		return 0, err
	}
	return v.(uint32), nil
}

// Stream describes one negotiated PipeWire stream: its node id and the
// monitor/window geometry the portal reports for it.
type Stream struct {
	NodeID     uint32
	Position   [2]int32
	Size       [2]int32
	SourceType uint32
	MappingID  string
	ID         string
}

// ScreenCastSession is a live xdg-desktop-portal ScreenCast session: the
// handshake (CreateSession, SelectSources, Start) plus the PipeWire
// remote fd handoff the display-server backend reads frames from.
type ScreenCastSession struct {
	Path  dbus.ObjectPath
	token string
}

// SelectSourcesOptions configures which sources the compositor offers
// the user and how the cursor is composited into the stream.
type SelectSourcesOptions struct {
	Types        uint32
	Multiple     bool
	CursorMode   uint32
	RestoreToken string
	PersistMode  uint32
}

// CreateSession opens a new portal ScreenCast session.
func CreateSession() (*ScreenCastSession, error) {
	token := NewToken("capturecore")
	data := map[string]dbus.Variant{"session_handle_token": token}

	result, err := Call(createSessionCall, data)
	if err != nil {
		return nil, err
	}

	status, results, err := AwaitResponse(result.(dbus.ObjectPath))
	if err != nil {
		return nil, err
	}
	if status != ResponseSuccess {
		return nil, ErrUnexpectedResponse
	}

	handle, ok := results["session_handle"].Value().(string)
	if !ok {
		return nil, ErrUnexpectedResponse
	}
	return &ScreenCastSession{Path: dbus.ObjectPath(handle)}, nil
}

// SelectSources negotiates which sources will be offered for capture.
func (s *ScreenCastSession) SelectSources(opts SelectSourcesOptions) error {
	data := map[string]dbus.Variant{}
	if opts.Types != 0 {
		data["types"] = variantUint32(opts.Types)
	}
	if opts.Multiple {
		data["multiple"] = variantBool(opts.Multiple)
	}
	if opts.CursorMode != 0 {
		data["cursor_mode"] = variantUint32(opts.CursorMode)
	}
	if opts.RestoreToken != "" {
		data["restore_token"] = variantString(opts.RestoreToken)
	}
	if opts.PersistMode != 0 {
		data["persist_mode"] = variantUint32(opts.PersistMode)
	}

	result, err := Call(selectSourcesCall, s.Path, data)
	if err != nil {
		return err
	}

	status, _, err := AwaitResponse(result.(dbus.ObjectPath))
	if err != nil {
		return err
	}
	if status != ResponseSuccess {
		return ErrUnexpectedResponse
	}
	return nil
}

// Start begins the session and returns the negotiated streams.
func (s *ScreenCastSession) Start() ([]Stream, error) {
	result, err := Call(startCall, s.Path, "", map[string]dbus.Variant{})
	if err != nil {
		return nil, err
	}

	status, results, err := AwaitResponse(result.(dbus.ObjectPath))
	if err != nil {
		return nil, err
	}
	if status != ResponseSuccess {
		return nil, ErrUnexpectedResponse
	}

	var rawStreams [][]any
	switch rs := results["streams"].Value().(type) {
	case [][]any:
		rawStreams = rs
	case []any:
		rawStreams = make([][]any, len(rs))
		for i, r := range rs {
			if s, ok := r.([]any); ok {
				rawStreams[i] = s
			}
		}
	}

	streams := make([]Stream, 0, len(rawStreams))
	for _, entry := range rawStreams {
		if len(entry) < 2 {
			continue
		}
		stream := Stream{}
		if nodeID, ok := entry[0].(uint32); ok {
			stream.NodeID = nodeID
		}
		props, ok := entry[1].(map[string]dbus.Variant)
		if !ok {
			streams = append(streams, stream)
			continue
		}
		if pos, ok := props["position"]; ok {
			if v, ok := pos.Value().([]any); ok && len(v) == 2 {
				stream.Position = [2]int32{v[0].(int32), v[1].(int32)}
			}
		}
		if size, ok := props["size"]; ok {
			if v, ok := size.Value().([]any); ok && len(v) == 2 {
				stream.Size = [2]int32{v[0].(int32), v[1].(int32)}
			}
		}
		if st, ok := props["source_type"]; ok {
			if v, ok := st.Value().(uint32); ok {
				stream.SourceType = v
			}
		}
		if m, ok := props["mapping_id"]; ok {
			if v, ok := m.Value().(string); ok {
				stream.MappingID = v
			}
		}
		if id, ok := props["id"]; ok {
			if v, ok := id.Value().(string); ok {
				stream.ID = v
			}
		}
		streams = append(streams, stream)
	}

	return streams, nil
}

// OpenPipeWireRemote hands back the PipeWire connection fd backing this
// session's negotiated streams.
func (s *ScreenCastSession) OpenPipeWireRemote() (int, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return -1, err
	}

	obj := conn.Object(objectName, objectPath)
	call := obj.Call(openPipeWireCall, 0, s.Path, map[string]dbus.Variant{})
	if call.Err != nil {
		return -1, call.Err
	}

	var fd int
	err = call.Store(&fd)
	return fd, err
}

// Close tears down the portal session.
func (s *ScreenCastSession) Close() error {
	return CloseSession(s.Path)
}
