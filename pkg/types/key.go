package types

import (
	"fmt"
	"strings"
)

// KeySeparator joins a namespace and a slot id into a composite key.
const KeySeparator = ":::"

// Slot ids are 9-digit decimals drawn from [SlotMin, SlotMax].
const (
	SlotMin = 100_000_000
	SlotMax = 999_999_999
)

// Key is the composite address of one entity: "{namespace}:::{slot_id}".
type Key struct {
	Namespace string
	SlotID    string
}

// FormatKey returns the composite key string for namespace and slotID.
func FormatKey(namespace, slotID string) string {
	return namespace + KeySeparator + slotID
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return FormatKey(k.Namespace, k.SlotID)
}

// ParseKey splits a composite key on its last separator, so namespaces that
// themselves contain ":::" still round-trip through FormatKey.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndex(s, KeySeparator)
	if i < 0 {
		return Key{}, fmt.Errorf("key %q: missing %q separator", s, KeySeparator)
	}
	k := Key{Namespace: s[:i], SlotID: s[i+len(KeySeparator):]}
	if k.SlotID == "" {
		return Key{}, fmt.Errorf("key %q: empty slot id", s)
	}
	return k, nil
}
