package web_search

import (
	"net/url"
	"path"
	"strings"
)

var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {}, "utm_content": {},
	"gclid": {}, "fbclid": {}, "msclkid": {},
}

// canonicalURL reduces a result URL to the key used for de-duplication:
// lowercase scheme and host, default ports dropped, fragment and tracking
// parameters removed, path cleaned. Unparseable input is returned trimmed.
func canonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	if p := path.Clean("/" + u.Path); p != "/" {
		u.Path = p
	} else {
		u.Path = ""
	}
	q := u.Query()
	for k := range q {
		if _, drop := trackingParams[strings.ToLower(k)]; drop {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
