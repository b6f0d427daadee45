package xclient

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OAuth1 signs requests with OAuth 1.0a user-context credentials.
type OAuth1 struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string

	nowFn   func() time.Time
	nonceFn func() string
}

func NewOAuth1(ck, cs, at, as string) *OAuth1 {
	return &OAuth1{
		ConsumerKey:    ck,
		ConsumerSecret: cs,
		AccessToken:    at,
		AccessSecret:   as,
		nowFn:          time.Now,
		nonceFn:        func() string { return strconv.FormatInt(rand.Int63(), 36) },
	}
}

// Complete reports whether all four credentials are set.
func (o *OAuth1) Complete() bool {
	return o != nil && o.ConsumerKey != "" && o.ConsumerSecret != "" && o.AccessToken != "" && o.AccessSecret != ""
}

// Sign sets the Authorization header. params are the query or form
// parameters the request carries.
func (o *OAuth1) Sign(req *http.Request, params map[string]string) {
	oauth := map[string]string{
		"oauth_consumer_key":     o.ConsumerKey,
		"oauth_nonce":            o.nonceFn(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(o.nowFn().Unix(), 10),
		"oauth_token":            o.AccessToken,
		"oauth_version":          "1.0",
	}
	oauth["oauth_signature"] = o.signature(req.Method, req.URL, oauth, params)

	hdrKeys := make([]string, 0, len(oauth))
	for k := range oauth {
		hdrKeys = append(hdrKeys, k)
	}
	sort.Strings(hdrKeys)
	authParts := make([]string, 0, len(hdrKeys))
	for _, k := range hdrKeys {
		authParts = append(authParts, fmt.Sprintf("%s=\"%s\"", rfc3986(k), rfc3986(oauth[k])))
	}
	req.Header.Set("Authorization", "OAuth "+strings.Join(authParts, ", "))
}

func (o *OAuth1) signature(method string, u *url.URL, oauth, params map[string]string) string {
	all := map[string]string{}
	for k, v := range oauth {
		all[k] = v
	}
	for k, v := range params {
		all[k] = v
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	paramParts := make([]string, 0, len(keys))
	for _, k := range keys {
		paramParts = append(paramParts, rfc3986(k)+"="+rfc3986(all[k]))
	}
	baseURL := u.Scheme + "://" + u.Host + u.Path
	base := strings.ToUpper(method) + "&" + rfc3986(baseURL) + "&" + rfc3986(strings.Join(paramParts, "&"))
	signingKey := rfc3986(o.ConsumerSecret) + "&" + rfc3986(o.AccessSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	_, _ = mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func encodeQuery(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(m[k]))
	}
	return strings.Join(parts, "&")
}

// RFC 3986 percent-encoding for OAuth
func rfc3986(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(url.QueryEscape(s), "+", "%20"), "*", "%2A")
}
