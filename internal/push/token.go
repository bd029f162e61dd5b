package push

import (
	"regexp"
	"strings"

	"wakeline/pkg/models"
)

var (
	hexTokenPattern  = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	expoTokenPattern = regexp.MustCompile(`^(ExponentPushToken|ExpoPushToken)\[[^\]\s]+\]$`)
	fcmTokenPattern  = regexp.MustCompile(`^[A-Za-z0-9_:\-]{32,4096}$`)
)

func isHexToken(s string) bool  { return hexTokenPattern.MatchString(s) }
func isExpoToken(s string) bool { return expoTokenPattern.MatchString(s) }
func isFCMToken(s string) bool  { return fcmTokenPattern.MatchString(s) }

// LegacyClass is the outcome of sniffing a bare token string.
type LegacyClass string

const (
	LegacyExpo      LegacyClass = "expo"
	LegacyWake      LegacyClass = "wake"
	LegacyAmbiguous LegacyClass = "ambiguous"
)

// ClassifyLegacyToken infers a typed token from a bare string. Bracketed Expo
// tokens go to the relay, 64 character hex tokens to the wake channel, and
// anything else to the relay as an ambiguous fallback the caller should log.
func ClassifyLegacyToken(raw string) (models.PushToken, LegacyClass) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "ExponentPushToken[") || strings.HasPrefix(raw, "ExpoPushToken["):
		return models.PushToken{DeviceToken: raw, Platform: models.PlatformAndroid}, LegacyExpo
	case isHexToken(raw):
		return models.PushToken{DeviceToken: raw, Platform: models.PlatformIOS, IsWakeChannel: true}, LegacyWake
	default:
		return models.PushToken{DeviceToken: raw, Platform: models.PlatformAndroid}, LegacyAmbiguous
	}
}

// redact keeps enough of a token to correlate log lines.
func redact(token string) string {
	if len(token) <= 12 {
		return "[REDACTED]"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
