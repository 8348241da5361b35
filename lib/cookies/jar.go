package cookies

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Cookie is a single named cookie as it was last seen in a Set-Cookie header.
// attribute keys are lower-cased ("expires", "path", "domain", ...)
type Cookie struct {
	Value      string            `json:"value"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Jar maps cookie names to the most recent cookie received under that name.
type Jar map[string]Cookie

// Merge returns a new jar holding every cookie of base overridden by every
// cookie of next. neither input is modified.
func Merge(base, next Jar) Jar {
	out := make(Jar, len(base)+len(next))
	for name, c := range base {
		out[name] = c
	}
	for name, c := range next {
		out[name] = c
	}
	return out
}

// Header renders the jar the way a browser would send it in a Cookie header,
// names are sorted so the output is stable.
func (j Jar) Header() string {
	names := make([]string, 0, len(j))
	for name := range j {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = name + "=" + j[name].Value
	}
	return strings.Join(pairs, ";")
}

// Expires returns the parsed "expires" attribute of a cookie. ok is false
// when the cookie has no expiry (a browser session cookie).
func (c Cookie) Expires() (t time.Time, ok bool, err error) {
	raw, exists := c.Attributes["expires"]
	if !exists || raw == "" {
		return time.Time{}, false, nil
	}
	t, err = http.ParseTime(raw)
	if err != nil {
		return time.Time{}, true, err
	}
	return t, true, nil
}

// Valid reports whether the jar carries a cookie with the given name that
// has not expired at `now`. a cookie without an expiry is considered valid,
// an unparsable expiry is not.
func (j Jar) Valid(name string, now time.Time) bool {
	c, ok := j[name]
	if !ok {
		return false
	}
	expires, hasExpiry, err := c.Expires()
	if err != nil {
		return false
	}
	if !hasExpiry {
		return true
	}
	return now.Before(expires)
}

// FromHeader parses every Set-Cookie header into a jar. an absent header
// yields an empty jar. Max-Age is turned into an absolute expiry relative to
// `now` so that validity can be checked later without the original response.
func FromHeader(header http.Header, now time.Time) Jar {
	res := http.Response{Header: header}
	jar := Jar{}
	for _, c := range res.Cookies() {
		jar[c.Name] = fromHttpCookie(c, now)
	}
	return jar
}

func fromHttpCookie(c *http.Cookie, now time.Time) Cookie {
	attrs := map[string]string{}
	if c.Path != "" {
		attrs["path"] = c.Path
	}
	if c.Domain != "" {
		attrs["domain"] = c.Domain
	}
	if c.Secure {
		attrs["secure"] = "true"
	}
	if c.HttpOnly {
		attrs["httponly"] = "true"
	}
	switch c.SameSite {
	case http.SameSiteLaxMode:
		attrs["samesite"] = "Lax"
	case http.SameSiteStrictMode:
		attrs["samesite"] = "Strict"
	case http.SameSiteNoneMode:
		attrs["samesite"] = "None"
	}

	switch {
	case c.MaxAge > 0:
		attrs["max-age"] = strconv.Itoa(c.MaxAge)
		attrs["expires"] = now.Add(time.Duration(c.MaxAge) * time.Second).UTC().Format(http.TimeFormat)
	case c.MaxAge < 0:
		// "Max-Age=0" in the header, the server is deleting the cookie
		attrs["max-age"] = "0"
		attrs["expires"] = time.Unix(0, 0).UTC().Format(http.TimeFormat)
	case !c.Expires.IsZero():
		attrs["expires"] = c.Expires.UTC().Format(http.TimeFormat)
	}

	return Cookie{Value: c.Value, Attributes: attrs}
}
