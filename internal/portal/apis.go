// Package portal drives the xdg-desktop-portal ScreenCast D-Bus
// interface used by the Linux display-server backend family. It is
// adapted from the teacher's internal/apis, internal/request,
// internal/session, and internal/xdgportal packages, folded into one
// package scoped to the capture core's needs instead of the teacher's
// general-purpose screencast client.
package portal

import (
	"github.com/godbus/dbus/v5"

	"redcoast.dev/capturecore/internal/corelog"
)

const (
	objectName        = "org.freedesktop.portal.Desktop"
	objectPath        = "/org/freedesktop/portal/desktop"
	callBaseName      = "org.freedesktop.portal"
	propertiesGetName = "org.freedesktop.DBus.Properties.Get"
)

// Call invokes callName on the well-known portal object and decodes a
// single return value.
func Call(callName string, args ...any) (any, error) {
	call, err := callOnObject(objectPath, callName, args...)
	if err != nil {
		return nil, err
	}

	var result any
	err = call.Store(&result)
	return result, err
}

// CallOnObject invokes callName on an arbitrary portal-owned object
// path (a Session or Request object), discarding any return value.
func CallOnObject(path dbus.ObjectPath, callName string, args ...any) error {
	_, err := callOnObject(path, callName, args...)
	return err
}

func callOnObject(path dbus.ObjectPath, callName string, args ...any) (*dbus.Call, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		corelog.Debugf("portal call=%s path=%s session_bus_failed err=%v", callName, path, err)
		return nil, err
	}

	obj := conn.Object(objectName, path)
	call := obj.Call(callName, 0, args...)
	if call.Err != nil {
		corelog.Debugf("portal call=%s path=%s failed err=%v", callName, path, call.Err)
	}
	return call, call.Err
}

// GetProperty reads a property off the portal's ScreenCast interface
// (AvailableSourceTypes, AvailableCursorModes, version).
func GetProperty(interfaceName, property string) (any, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		corelog.Debugf("portal property=%s.%s session_bus_failed err=%v", interfaceName, property, err)
		return nil, err
	}

	obj := conn.Object(objectName, objectPath)
	call := obj.Call(propertiesGetName, 0, interfaceName, property)
	if call.Err != nil {
		corelog.Debugf("portal property=%s.%s failed err=%v", interfaceName, property, call.Err)
		return nil, call.Err
	}

	var value any
	err = call.Store(&value)
	if err != nil {
		corelog.Debugf("portal property=%s.%s decode_failed err=%v", interfaceName, property, err)
	}
	return value, err
}

// ListenOnSignal subscribes to a signal on the given interface and
// returns the channel it will arrive on.
func ListenOnSignal(path dbus.ObjectPath, iface, signalName string) (chan *dbus.Signal, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		corelog.Debugf("portal signal=%s.%s session_bus_failed err=%v", iface, signalName, err)
		return nil, err
	}
	if path == "" {
		path = objectPath
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(signalName),
	); err != nil {
		corelog.Debugf("portal signal=%s.%s path=%s add_match_failed err=%v", iface, signalName, path, err)
		return nil, err
	}

	signal := make(chan *dbus.Signal)
	conn.Signal(signal)
	corelog.Debugf("portal signal=%s.%s path=%s subscribed", iface, signalName, path)
	return signal, nil
}
