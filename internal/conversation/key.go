package conversation

import (
	"fmt"
	"strings"
)

// Key identifies one customer thread: the owning WhatsApp device plus the
// counterpart phone number. Stable for the lifetime of the relationship.
type Key struct {
	DeviceID string `json:"device_id"`
	Phone    string `json:"phone"`
}

// NewKey builds a Key from a device id and a raw phone number, stripping
// WhatsApp JID suffixes from the phone.
func NewKey(deviceID, phone string) Key {
	return Key{
		DeviceID: strings.TrimSpace(deviceID),
		Phone:    CleanPhone(phone),
	}
}

// String renders the key in "device:phone" form, used in logs and store keys.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.DeviceID, k.Phone)
}

// IsZero reports whether either half of the key is missing.
func (k Key) IsZero() bool {
	return k.DeviceID == "" || k.Phone == ""
}

var jidSuffixes = []string{"@c.us", "@s.whatsapp.net", "@g.us"}

// CleanPhone removes WhatsApp-specific JID suffixes from a phone number.
func CleanPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	for _, suffix := range jidSuffixes {
		phone = strings.TrimSuffix(phone, suffix)
	}
	return phone
}
