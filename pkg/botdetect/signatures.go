package botdetect

import (
	"regexp"
	"strings"
)

// crawlerSignature matches the user agents of search engine and social
// preview crawlers that benefit from pre-rendered snapshots.
var crawlerSignature = regexp.MustCompile(`(?i)(googlebot|bingbot|yandex(bot)?|baiduspider|duckduckbot|slurp|applebot|facebookexternalhit|facebot|twitterbot|linkedinbot|pinterest(bot)?|slackbot|telegrambot|discordbot|whatsapp|skypeuripreview|embedly|quora link preview|outbrain|vkshare|w3c_validator|redditbot|rogerbot|showyoubot|semrushbot|ahrefsbot|mj12bot|seznambot|screaming frog|chrome-lighthouse|headlesschrome|bot\b|spider|crawler)`)

// botFamilies maps user agent substrings to crawler family names, checked in
// order. Used for reporting and traffic breakdowns only; the binary verdict
// comes from crawlerSignature.
var botFamilies = []struct {
	needle string
	family string
}{
	{"googlebot", "googlebot"},
	{"bingbot", "bingbot"},
	{"yandex", "yandex"},
	{"baiduspider", "baiduspider"},
	{"duckduckbot", "duckduckbot"},
	{"slurp", "yahoo"},
	{"applebot", "applebot"},
	{"facebookexternalhit", "facebook"},
	{"facebot", "facebook"},
	{"twitterbot", "twitter"},
	{"linkedinbot", "linkedin"},
	{"pinterest", "pinterest"},
	{"slackbot", "slack"},
	{"telegrambot", "telegram"},
	{"discordbot", "discord"},
	{"whatsapp", "whatsapp"},
	{"semrushbot", "semrush"},
	{"ahrefsbot", "ahrefs"},
	{"chrome-lighthouse", "lighthouse"},
}

// IsCrawlerUserAgent reports whether the user agent matches a known crawler
// signature. Empty user agents are not treated as crawlers.
func IsCrawlerUserAgent(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	return crawlerSignature.MatchString(userAgent)
}

// KnownBotType returns the crawler family for a user agent, or "unknown"
// when the signature matched but no specific family is recognized.
func KnownBotType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, f := range botFamilies {
		if strings.Contains(ua, f.needle) {
			return f.family
		}
	}
	return "unknown"
}
