package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// DeviceInfo is the client summary attached to request logs
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop
	Platform   string `json:"platform"`    // android, ios, windows, mac, linux
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	IsBot      bool   `json:"is_bot"`
}

var tabletIndicators = []string{"ipad", "tablet", "kindle", "playbook", "nexus 7", "nexus 9", "nexus 10", "sm-t"}

var platforms = []struct{ match, platform string }{
	{"android", "android"},
	{"iphone os", "ios"},
	{"ios", "ios"},
	{"cpu os", "ios"},
	{"windows", "windows"},
	{"mac os x", "mac"},
	{"macos", "mac"},
	{"chrome os", "chromeos"},
	{"linux", "linux"},
	{"ubuntu", "linux"},
}

// ParseUserAgent extracts device information from a User-Agent header
func ParseUserAgent(userAgent string) DeviceInfo {
	if strings.TrimSpace(userAgent) == "" {
		return DeviceInfo{DeviceType: "unknown", Platform: "unknown", OS: "Unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)
	info := DeviceInfo{
		DeviceType: "desktop",
		Platform:   "unknown",
		OS:         "Unknown",
		Browser:    "Unknown",
		IsBot:      parser.Bot(),
	}

	lower := strings.ToLower(userAgent)
	if parser.Mobile() {
		info.DeviceType = "mobile"
	}
	for _, indicator := range tabletIndicators {
		if strings.Contains(lower, indicator) {
			info.DeviceType = "tablet"
			break
		}
	}

	if os := parser.OSInfo(); os.Name != "" {
		info.OS = strings.TrimSpace(os.Name + " " + os.Version)
		name := strings.ToLower(os.Name)
		for _, p := range platforms {
			if strings.Contains(name, p.match) {
				info.Platform = p.platform
				break
			}
		}
	}
	if name, _ := parser.Browser(); name != "" {
		info.Browser = name
	}
	return info
}
