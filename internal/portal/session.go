package portal

import (
	"crypto/rand"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"

	"redcoast.dev/capturecore/internal/corelog"
)

const (
	sessionInterface = "org.freedesktop.portal.Session"
	sessionCloseCall = sessionInterface + ".Close"
)

var (
	boolSignature   = dbus.SignatureOfType(reflect.TypeOf(false))
	stringSignature = dbus.SignatureOfType(reflect.TypeOf(""))
	uint32Signature = dbus.SignatureOfType(reflect.TypeOf(uint32(0)))
)

// CloseSession tears down a portal Session object. Closing an
// already-gone session (the compositor dropped it, e.g. on user
// revocation) is expected, not fatal: the failure is logged and also
// returned, so the caller decides whether it matters.
func CloseSession(path dbus.ObjectPath) error {
	err := CallOnObject(path, sessionCloseCall)
	if err != nil {
		corelog.Debugf("portal session=%s close_failed err=%v", path, err)
	}
	return err
}

// NewToken generates a handle token unique enough for concurrent
// portal requests from this process.
func NewToken(prefix string) dbus.Variant {
	var b strings.Builder
	b.WriteString(prefix)
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<32))
	b.WriteString(strconv.FormatUint(n.Uint64(), 16))
	return variantString(b.String())
}

func variantBool(v bool) dbus.Variant     { return dbus.MakeVariantWithSignature(v, boolSignature) }
func variantString(v string) dbus.Variant { return dbus.MakeVariantWithSignature(v, stringSignature) }
func variantUint32(v uint32) dbus.Variant { return dbus.MakeVariantWithSignature(v, uint32Signature) }
