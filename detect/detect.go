// Package detect classifies untrusted configuration text into a protocol kind.
//
// Classification is a pure function: no I/O, no state, and no error crosses
// the package boundary. Every rule that fails to parse its input simply
// falls through to the next rule, and anything unmatched is Unknown.
package detect

import (
	"encoding/base64"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/kingzvpn/client/common"
)

// DefaultMaxDepth bounds nested base64 decoding.
const DefaultMaxDepth = 3

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	trojanPattern  = regexp.MustCompile(`trojan://[^@\s]+@[\w.-]+:\d+(\?[^#\s]*)?(#\S*)?`)
	base64Pattern  = regexp.MustCompile(`^[A-Za-z0-9+/=_\-\r\n]+$`)
	hostPortSuffix = regexp.MustCompile(`^[\w.-]+:\d+$`)

	vmessRequired  = []string{"add", "port", "id", "aid"}
	genericKeys    = []string{"server", "remote", "address"}
	recurseMarkers = []string{"client", "vmess://", "ss://", "trojan://"}
)

// Detect classifies content with the default recursion depth.
func Detect(content string) Kind {
	return DetectDepth(content, DefaultMaxDepth)
}

// DetectDepth classifies content, decoding at most maxDepth nested base64
// layers. Rules are evaluated in a fixed priority order; first match wins.
func DetectDepth(content string, maxDepth int) Kind {
	if maxDepth <= 0 || strings.TrimSpace(content) == "" {
		return Unknown
	}

	switch {
	case isOpenVPN(content):
		return OpenVPN
	case isVMess(content):
		return VMess
	case isShadowSocks(content):
		return ShadowSocks
	case isTrojan(content):
		return Trojan
	}

	if decoded, ok := decodeWrapped(content); ok {
		return DetectDepth(decoded, maxDepth-1)
	}

	return detectStructured(content)
}

// Matches re-checks that content still has the shape of kind. It applies the
// same rules as Detect without base64 recursion.
func Matches(kind Kind, content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	switch kind {
	case OpenVPN:
		return isOpenVPN(content)
	case VMess:
		return isVMess(content)
	case ShadowSocks:
		return isShadowSocks(content)
	case Trojan:
		return isTrojan(content)
	case ClashYAML, JSONGeneric:
		return detectStructured(content) == kind
	default:
		return false
	}
}

func isOpenVPN(content string) bool {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "client") || !strings.Contains(lower, "remote") {
		return false
	}
	return strings.Contains(lower, "proto tcp") || strings.Contains(lower, "proto udp")
}

func isVMess(content string) bool {
	idx := strings.Index(content, "vmess://")
	if idx < 0 {
		return false
	}
	payload := firstField(content[idx+len("vmess://"):])
	decoded, ok := decodeBase64(payload)
	if !ok {
		return false
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(decoded, &obj); err != nil {
		return false
	}
	for _, key := range vmessRequired {
		if _, ok := obj[key]; !ok {
			return false
		}
	}
	return true
}

// isShadowSocks accepts the legacy form ss://b64(method:password@host:port)
// and the SIP002 form ss://b64(method:password)@host:port.
func isShadowSocks(content string) bool {
	idx := schemeIndex(content, "ss://")
	if idx < 0 {
		return false
	}
	segment := firstField(content[idx+len("ss://"):])
	segment, _, _ = strings.Cut(segment, "#")
	if segment == "" {
		return false
	}

	if decoded, ok := decodeBase64(segment); ok {
		return strings.ContainsRune(string(decoded), ':') && strings.ContainsRune(string(decoded), '@')
	}

	userinfo, hostPart, found := strings.Cut(segment, "@")
	if !found || userinfo == "" {
		return false
	}
	hostPart, _, _ = strings.Cut(hostPart, "?")
	hostPart = strings.TrimSuffix(hostPart, "/")
	if !hostPortSuffix.MatchString(hostPart) {
		return false
	}
	decoded, ok := decodeBase64(userinfo)
	return ok && strings.ContainsRune(string(decoded), ':')
}

func isTrojan(content string) bool {
	if !strings.Contains(content, "trojan://") {
		return false
	}
	return trojanPattern.MatchString(content)
}

// decodeWrapped unwraps one base64 layer when the whole content is base64
// and the decoded text carries a marker worth classifying again.
func decodeWrapped(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if !base64Pattern.MatchString(trimmed) {
		return "", false
	}
	raw, ok := decodeBase64(trimmed)
	if !ok {
		return "", false
	}
	// Invalid UTF-8 sequences are dropped rather than rejected.
	text := strings.ToValidUTF8(string(raw), "")
	text = common.TruncateChars(text, common.MaxDecodedChars)

	for _, marker := range recurseMarkers {
		if strings.Contains(text, marker) {
			return text, true
		}
	}
	return "", false
}

func detectStructured(content string) Kind {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return classifyJSON(trimmed)
	}
	if strings.Contains(trimmed, "proxies:") {
		return classifyYAML(trimmed)
	}
	return Unknown
}

func classifyJSON(trimmed string) Kind {
	var doc interface{}
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return Unknown
	}

	switch v := doc.(type) {
	case map[string]interface{}:
		if _, ok := v["proxies"].([]interface{}); ok {
			return ClashYAML
		}
		for _, key := range genericKeys {
			if _, ok := v[key]; ok {
				return JSONGeneric
			}
		}
	case []interface{}:
		for _, item := range v {
			if obj, ok := item.(map[string]interface{}); ok {
				if _, ok := obj["type"]; ok {
					return JSONGeneric
				}
			}
		}
	}
	return Unknown
}

// classifyYAML recognises Clash documents written as YAML rather than JSON.
func classifyYAML(trimmed string) Kind {
	var doc map[string]interface{}
	if err := yaml.Unmarshal([]byte(trimmed), &doc); err != nil {
		return Unknown
	}
	if _, ok := doc["proxies"].([]interface{}); ok {
		return ClashYAML
	}
	return Unknown
}

// decodeBase64 restores '=' padding and tries the standard then URL alphabet.
func decodeBase64(s string) ([]byte, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	cleaned = strings.TrimRight(cleaned, "=")
	if cleaned == "" {
		return nil, false
	}
	if m := len(cleaned) % 4; m != 0 {
		cleaned += strings.Repeat("=", 4-m)
	}

	if d, err := base64.StdEncoding.DecodeString(cleaned); err == nil {
		return d, true
	}
	if d, err := base64.URLEncoding.DecodeString(cleaned); err == nil {
		return d, true
	}
	return nil, false
}

// schemeIndex finds prefix where it starts a URI rather than ending a longer
// scheme, so "vmess://" is not mistaken for "ss://".
func schemeIndex(content, prefix string) int {
	offset := 0
	for {
		idx := strings.Index(content[offset:], prefix)
		if idx < 0 {
			return -1
		}
		idx += offset
		if idx == 0 || !isSchemeChar(content[idx-1]) {
			return idx
		}
		offset = idx + len(prefix)
	}
}

func isSchemeChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '+' || b == '-' || b == '.'
}

// firstField returns s up to the first whitespace.
func firstField(s string) string {
	if i := strings.IndexAny(s, " \t\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
