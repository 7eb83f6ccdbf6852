package detect

import (
	"fmt"
	"strings"
)

// Kind is the closed set of configuration formats the client recognises.
type Kind int

const (
	Unknown Kind = iota
	OpenVPN
	VMess
	ShadowSocks
	Trojan
	ClashYAML
	JSONGeneric
)

var kindTags = map[Kind]string{
	Unknown:     "unknown",
	OpenVPN:     "openvpn",
	VMess:       "vmess",
	ShadowSocks: "shadowsocks",
	Trojan:      "trojan",
	ClashYAML:   "clash",
	JSONGeneric: "json",
}

var kindNames = map[Kind]string{
	Unknown:     "Unknown",
	OpenVPN:     "OpenVPN",
	VMess:       "VMess",
	ShadowSocks: "ShadowSocks",
	Trojan:      "Trojan",
	ClashYAML:   "Clash",
	JSONGeneric: "JSON",
}

// String returns the display name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Tag returns the canonical lowercase tag stored on disk.
func (k Kind) Tag() string {
	if tag, ok := kindTags[k]; ok {
		return tag
	}
	return "unknown"
}

// FileBased reports whether the external executable needs the config as a file.
func (k Kind) FileBased() bool {
	return k == OpenVPN
}

// ParseKind accepts a tag or display name in any case. Aliases such as "ss"
// and "clashyaml" are normalised. Unrecognised input yields Unknown.
func ParseKind(raw string) Kind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "openvpn", "ovpn":
		return OpenVPN
	case "vmess":
		return VMess
	case "shadowsocks", "ss":
		return ShadowSocks
	case "trojan":
		return Trojan
	case "clash", "clashyaml", "clash-yaml":
		return ClashYAML
	case "json", "jsongeneric", "json-generic":
		return JSONGeneric
	default:
		return Unknown
	}
}

// MarshalText stores the canonical tag.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.Tag()), nil
}

// UnmarshalText rejects tags that do not name a known kind.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed := ParseKind(string(text))
	if parsed == Unknown && strings.ToLower(strings.TrimSpace(string(text))) != "unknown" {
		return fmt.Errorf("unknown protocol tag %q", string(text))
	}
	*k = parsed
	return nil
}
