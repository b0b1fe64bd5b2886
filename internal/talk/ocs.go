package talk

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OCS responses arrive as { "ocs": { "meta": {...}, "data": {...} } }, but
// proxies and older servers occasionally return other shapes. Every extractor
// here treats an absent or malformed envelope as "no value found" rather than
// failing the call.

const maxErrorBody = 512

func decodeBody(raw []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func childMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func childString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

func childInt(m map[string]any, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func ocsData(body map[string]any) map[string]any {
	return childMap(childMap(body, "ocs"), "data")
}

func ocsMeta(body map[string]any) map[string]any {
	return childMap(childMap(body, "ocs"), "meta")
}

// extractToken pulls the room token out of a creation response, trying
// ocs.data.token, then ocs.data.roomToken, then a top-level token field.
func extractToken(raw []byte) string {
	body := decodeBody(raw)
	data := ocsData(body)
	if t := childString(data, "token"); t != "" {
		return t
	}
	if t := childString(data, "roomToken"); t != "" {
		return t
	}
	return childString(body, "token")
}

// serverMessage returns the human-readable message from ocs.meta, if any.
func serverMessage(raw []byte) string {
	return childString(ocsMeta(decodeBody(raw)), "message")
}

// metaStatus returns the ocs.meta.status string, e.g. "ok".
func metaStatus(raw []byte) string {
	return childString(ocsMeta(decodeBody(raw)), "status")
}

// serverVersion composes a display version from a capabilities payload.
// Servers put the version in different places depending on product and
// release; the known shapes are tried in order and the first non-empty
// composition wins.
func serverVersion(raw []byte) string {
	data := ocsData(decodeBody(raw))
	if data == nil {
		return ""
	}
	product := childString(childMap(childMap(data, "capabilities"), "theming"), "name")

	// Flat fields at the top of data: versionstring/version plus edition.
	if v := flatVersion(data); v != "" {
		return withProduct(product, v)
	}
	// A nested version object with numeric major.minor.micro parts.
	if v := numericVersion(childMap(data, "version")); v != "" {
		return withProduct(product, v)
	}
	// A nextcloud.system block as emitted by the serverinfo app.
	if v := flatVersion(childMap(childMap(data, "nextcloud"), "system")); v != "" {
		return withProduct(product, v)
	}
	return ""
}

func flatVersion(m map[string]any) string {
	v := childString(m, "versionstring")
	if v == "" {
		v = childString(m, "version")
	}
	if v == "" {
		return ""
	}
	if e := childString(m, "edition"); e != "" {
		v += " " + e
	}
	return v
}

func numericVersion(m map[string]any) string {
	major, ok := childInt(m, "major")
	if !ok {
		return ""
	}
	minor, _ := childInt(m, "minor")
	micro, _ := childInt(m, "micro")
	return fmt.Sprintf("%d.%d.%d", major, minor, micro)
}

func withProduct(product, version string) string {
	if product == "" || strings.HasPrefix(strings.ToLower(version), strings.ToLower(product)) {
		return version
	}
	return product + " " + version
}

// snippet trims a response body for inclusion in error values.
func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}
