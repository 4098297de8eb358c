package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strconv"
	"time"

	"github.com/juju/errors"
)

// MaxTokenLength is MQTT password limit of the hub.
const MaxTokenLength = 512

var ErrTokenTooLong = errors.New("SAS token too long")

// GenerateSAS builds shared access signature valid from now for window.
// key is base64 encoded, policy is optional key name.
func GenerateSAS(resourceURI, key, policy string, window time.Duration, now time.Time) (string, error) {
	rawKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", errors.Annotate(err, "SAS key base64")
	}
	if len(rawKey) == 0 {
		return "", errors.NotValidf("SAS key empty")
	}
	expiry := strconv.FormatInt(now.Add(window).Unix(), 10)
	encURI := url.QueryEscape(resourceURI)

	mac := hmac.New(sha256.New, rawKey)
	_, _ = mac.Write([]byte(encURI + "\n" + expiry))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	token := "SharedAccessSignature sr=" + encURI + "&sig=" + url.QueryEscape(sig) + "&se=" + expiry
	if policy != "" {
		token += "&skn=" + url.QueryEscape(policy)
	}
	if len(token) > MaxTokenLength {
		return "", errors.Annotatef(ErrTokenTooLong, "length=%d max=%d", len(token), MaxTokenLength)
	}
	return token, nil
}
