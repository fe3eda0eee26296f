package portal

import (
	"errors"

	"github.com/godbus/dbus/v5"
)

// ErrUnexpectedResponse means a Request.Response signal body didn't
// have the (status, results) shape the portal protocol promises.
var ErrUnexpectedResponse = errors.New("portal: unexpected Request.Response body")

const (
	requestInterface = "org.freedesktop.portal.Request"
	responseMember   = "Response"
	requestCloseCall = requestInterface + ".Close"
)

// ResponseStatus is the portal's Request.Response status code.
type ResponseStatus = uint32

const (
	ResponseSuccess   ResponseStatus = 0
	ResponseCancelled ResponseStatus = 1
	ResponseEnded     ResponseStatus = 2
)

// CloseRequest cancels a pending Request object.
func CloseRequest(path dbus.ObjectPath) error {
	return CallOnObject(path, requestCloseCall)
}

// AwaitResponse blocks for the Request.Response signal and decodes its
// status and results map.
func AwaitResponse(path dbus.ObjectPath) (ResponseStatus, map[string]dbus.Variant, error) {
	signal, err := ListenOnSignal(path, requestInterface, responseMember)
	if err != nil {
		return ResponseEnded, nil, err
	}

	response := <-signal
	if len(response.Body) != 2 {
		return ResponseEnded, nil, ErrUnexpectedResponse
	}

	status, ok := response.Body[0].(ResponseStatus)
	if !ok {
		return ResponseEnded, nil, ErrUnexpectedResponse
	}
	results, ok := response.Body[1].(map[string]dbus.Variant)
	if !ok {
		return ResponseEnded, nil, ErrUnexpectedResponse
	}
	return status, results, nil
}
