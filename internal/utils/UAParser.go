package utils

import (
	"fmt"

	"github.com/mssola/useragent"
)

// GetClearanceUserAgent condenses a browser user agent for the access log.
// Anything that does not look like a browser, such as the command line
// clients that publish presence, is returned as sent.
func GetClearanceUserAgent(inputUA string) string {
	if inputUA == "" {
		return "-"
	}
	if len(inputUA) < 8 || inputUA[:8] != "Mozilla/" {
		return inputUA
	}

	ua := useragent.New(inputUA)
	if ua.Bot() {
		name, _ := ua.Browser()
		return fmt.Sprintf("Bot:%v", name)
	}

	browser, browserVersion := ua.Browser()
	return fmt.Sprintf("Platform:%v,OS:%v,Browser:%v,BrowserVersion:%v,Mobile:%v",
		ua.Platform(), ua.OS(), browser, browserVersion, ua.Mobile())
}
