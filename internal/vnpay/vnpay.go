// Package vnpay builds outbound VNPay payment URLs and authenticates inbound
// callbacks (return redirect and IPN). Signing and verification share one
// canonical encoding; any divergence invalidates every callback silently.
package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Parameter names carrying the signature on the wire. Both are stripped
// before hashing.
const (
	ParamSecureHash     = "vnp_SecureHash"
	ParamSecureHashType = "vnp_SecureHashType"
)

// ResponseCodeSuccess is the gateway's "payment succeeded" response code.
const ResponseCodeSuccess = "00"

// AmountScale is VNPay's minor-unit convention: amounts on the wire are the
// VND amount multiplied by 100.
const AmountScale = 100

// Client holds merchant credentials and endpoints for one VNPay terminal.
type Client struct {
	TmnCode    string
	HashSecret string
	PaymentURL string
	ReturnURL  string

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// New creates a VNPay client.
func New(tmnCode, hashSecret, paymentURL, returnURL string) *Client {
	return &Client{
		TmnCode:    tmnCode,
		HashSecret: hashSecret,
		PaymentURL: paymentURL,
		ReturnURL:  returnURL,
		now:        time.Now,
	}
}

// hashData canonicalizes params for signing: drop the signature fields, sort
// keys ascending, join "key=value" with "&", encoding values with
// url.QueryEscape (space becomes "+", matching the encoding VNPay uses when
// the payment URL is built).
func hashData(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == ParamSecureHash || k == ParamSecureHashType {
			continue
		}
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
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

func (c *Client) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(c.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// BuildPaymentURL creates the redirect URL for a payment of amount VND.
// orderID becomes vnp_TxnRef, the gateway's transaction reference.
func (c *Client) BuildPaymentURL(orderID string, amount int64, orderInfo, ipAddr, bankCode string) string {
	params := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    c.TmnCode,
		"vnp_Amount":     strconv.FormatInt(amount*AmountScale, 10),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     orderID,
		"vnp_OrderInfo":  orderInfo,
		"vnp_OrderType":  "other",
		"vnp_Locale":     "vn",
		"vnp_ReturnUrl":  c.ReturnURL,
		"vnp_IpAddr":     ipAddr,
		"vnp_CreateDate": c.now().Format("20060102150405"),
	}
	if bankCode != "" {
		params["vnp_BankCode"] = bankCode
	}

	query := hashData(params)
	return c.PaymentURL + "?" + query + "&" + ParamSecureHash + "=" + c.sign(query)
}

// VerifySignature reports whether the callback params carry a valid
// signature. A missing signature field makes the callback invalid; no error
// is ever returned for malformed input.
func (c *Client) VerifySignature(params map[string]string) bool {
	supplied, ok := params[ParamSecureHash]
	if !ok || supplied == "" {
		return false
	}
	computed := c.sign(hashData(params))
	return hmac.Equal([]byte(computed), []byte(strings.ToLower(supplied)))
}

// IsSuccess reports whether a gateway response code signals payment success.
func IsSuccess(responseCode string) bool {
	return responseCode == ResponseCodeSuccess
}

// AmountMatches checks the gateway-reported amount (wire convention,
// VND*100) against the stored order total. Any parse failure or inequality
// is a mismatch.
func AmountMatches(reported string, orderTotal int64) bool {
	v, err := strconv.ParseInt(reported, 10, 64)
	if err != nil {
		return false
	}
	return v == orderTotal*AmountScale
}
