package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// defaultRecvWindow is how many milliseconds the exchange tolerates between
// signing a request and receiving it.
const defaultRecvWindow = 5000

// Signer authenticates requests against the exchange's signed endpoints.
// Signed calls carry the API key in the X-MBX-APIKEY header and an
// HMAC-SHA256 signature of the full query string as their last parameter.
type Signer struct {
	apiKey     string
	secret     []byte
	recvWindow int64
	now        func() time.Time // swapped in tests for deterministic output
}

// NewSigner creates a request signer for the given API key pair.
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{
		apiKey:     apiKey,
		secret:     []byte(apiSecret),
		recvWindow: defaultRecvWindow,
		now:        time.Now,
	}
}

// APIKey returns the value for the X-MBX-APIKEY request header.
func (s *Signer) APIKey() string { return s.apiKey }

// SetRecvWindow overrides the recvWindow stamped on signed requests.
// Non-positive values keep the default.
func (s *Signer) SetRecvWindow(ms int64) {
	if ms > 0 {
		s.recvWindow = ms
	}
}

// Sign stamps the query with timestamp and recvWindow and appends the
// signature over the encoded string. The signature must stay the last
// parameter: the exchange verifies the HMAC over everything before it.
func (s *Signer) Sign(params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(s.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(s.recvWindow, 10))

	query := params.Encode()
	return query + "&signature=" + s.signature(query)
}

func (s *Signer) signature(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
