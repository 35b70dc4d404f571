package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Notification is the inbound IPN payload.
type Notification struct {
	OrderID    string `json:"orderId"`
	TransID    string `json:"transId"`
	Amount     int64  `json:"amount"`
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	// ResponseTime is the provider's completion time in Unix milliseconds. It is signed when set
	// and anchors amount correlation for notifications that carry no order id.
	ResponseTime int64  `json:"responseTime,omitempty"`
	Signature    string `json:"signature"`
}

// CompletedAt returns ResponseTime as a time, or the zero time when it is unset.
func (n Notification) CompletedAt() time.Time {
	if n.ResponseTime <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n.ResponseTime)
}

// Succeeded reports whether the provider result code denotes success.
func (n Notification) Succeeded() bool {
	return n.ResultCode == 0
}

// Signer computes and verifies HMAC-SHA256 signatures with the shared provider secret.
type Signer struct {
	secret []byte
}

// NewSigner constructs a Signer. The secret must not be empty.
func NewSigner(secret string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("payments: signing secret is required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the lowercase hex HMAC of the canonical key=value string built from fields.
func (s *Signer) Sign(fields map[string]string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(CanonicalString(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignNotification signs every payload field except the signature itself.
func (s *Signer) SignNotification(n Notification) string {
	return s.Sign(notificationFields(n))
}

// Verify recomputes the notification signature and compares in constant time.
func (s *Signer) Verify(n Notification) bool {
	if s == nil || len(s.secret) == 0 {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(n.Signature))
	if err != nil || len(provided) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(CanonicalString(notificationFields(n))))
	return hmac.Equal(mac.Sum(nil), provided)
}

// CanonicalString joins fields as key=value pairs sorted by key and separated by '&'.
func CanonicalString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

func notificationFields(n Notification) map[string]string {
	fields := map[string]string{
		"amount":     strconv.FormatInt(n.Amount, 10),
		"message":    n.Message,
		"orderId":    n.OrderID,
		"resultCode": strconv.Itoa(n.ResultCode),
		"transId":    n.TransID,
	}
	if n.ResponseTime != 0 {
		fields["responseTime"] = strconv.FormatInt(n.ResponseTime, 10)
	}
	return fields
}
