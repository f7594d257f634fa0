package models

import (
	"regexp"
	"strings"
)

type partPattern struct {
	re           *regexp.Regexp
	manufacturer string
}

// partPatterns is evaluated in order, first match wins
var partPatterns = []partPattern{
	{regexp.MustCompile(`^(WS-C|C9[0-9]{3}|N[0-9]K-|ASR|ISR|NCS-|CISCO|UCS|GLC-|CVR-|PWR-C)`), "Cisco"},
	{regexp.MustCompile(`^(DCS-|PWR-[0-9]+-AC|FAN-7)`), "Arista"},
	{regexp.MustCompile(`^(EX[0-9]|QFX|MX[0-9]|SRX|JNP|740-)`), "Juniper"},
	{regexp.MustCompile(`^(JL[0-9]|J[0-9]{4}[A-Z])`), "HPE"},
	{regexp.MustCompile(`^(S[0-9]{4}-|CE[0-9]{4}|02[0-9]{6})`), "Huawei"},
	{regexp.MustCompile(`^(MSN[0-9]|MCP[0-9]|MMA[0-9])`), "NVIDIA"},
	{regexp.MustCompile(`^(FTL|FTLX|FTLF)`), "Finisar"},
}

// ResolveManufacturer maps a hardware part id to its vendor. It returns ""
// when no pattern matches.
func ResolveManufacturer(partID string) string {
	partID = strings.ToUpper(strings.TrimSpace(partID))
	if partID == "" {
		return ""
	}
	for _, p := range partPatterns {
		if p.re.MatchString(partID) {
			return p.manufacturer
		}
	}
	return ""
}
