package classifier

import (
	"strings"

	"github.com/axellelanca/linkcloak/internal/models"
)

// DetectDevice infers a coarse device family from a human user agent.
// It is a best-effort heuristic and never fails; anything it cannot place is unknown.
func DetectDevice(ua string) models.DeviceType {
	s := strings.ToLower(ua)
	if strings.TrimSpace(s) == "" {
		return models.DeviceUnknown
	}

	switch {
	case containsAny(s, "ipad", "tablet", "kindle", "silk/", "playbook"),
		strings.Contains(s, "android") && !strings.Contains(s, "mobile"):
		return models.DeviceTablet
	case containsAny(s, "mobi", "iphone", "ipod", "android", "windows phone", "blackberry", "opera mini", "iemobile"):
		return models.DeviceMobile
	case containsAny(s, "windows nt", "macintosh", "mac os x", "x11", "cros", "linux"):
		return models.DeviceDesktop
	}
	return models.DeviceUnknown
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
