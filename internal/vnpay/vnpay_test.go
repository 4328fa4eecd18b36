package vnpay

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(secret string) *Client {
	c := New("TESTTMN", secret, "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html", "http://localhost:3000/checkout/result")
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC) }
	return c
}

// paramsFromURL rebuilds the callback parameter map the way the gateway
// would echo it back.
func paramsFromURL(t *testing.T, rawURL string) map[string]string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	params := make(map[string]string)
	for k, vs := range u.Query() {
		params[k] = vs[0]
	}
	return params
}

func TestBuildPaymentURLSignedAndScaled(t *testing.T) {
	c := testClient("secret-key")

	rawURL := c.BuildPaymentURL("order-123", 230000, "Thanh toan don hang order-12", "10.0.0.1", "")
	params := paramsFromURL(t, rawURL)

	assert.Equal(t, "23000000", params["vnp_Amount"])
	assert.Equal(t, "order-123", params["vnp_TxnRef"])
	assert.Equal(t, "2.1.0", params["vnp_Version"])
	assert.Equal(t, "pay", params["vnp_Command"])
	assert.Equal(t, "20240501123045", params["vnp_CreateDate"])
	assert.Len(t, params[ParamSecureHash], 128)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	c := testClient("secret-key")

	rawURL := c.BuildPaymentURL("order-123", 230000, "Thanh toan don hang order-12", "10.0.0.1", "NCB")
	params := paramsFromURL(t, rawURL)

	assert.True(t, c.VerifySignature(params))

	other := testClient("different-secret")
	assert.False(t, other.VerifySignature(params))
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	c := testClient("secret-key")

	rawURL := c.BuildPaymentURL("order-123", 230000, "order info", "10.0.0.1", "")
	params := paramsFromURL(t, rawURL)

	params["vnp_Amount"] = "100"
	assert.False(t, c.VerifySignature(params))
}

func TestVerifySignatureMissingHash(t *testing.T) {
	c := testClient("secret-key")

	assert.False(t, c.VerifySignature(map[string]string{"vnp_TxnRef": "x"}))
	assert.False(t, c.VerifySignature(map[string]string{}))
}

func TestVerifySignatureIgnoresHashTypeField(t *testing.T) {
	c := testClient("secret-key")

	rawURL := c.BuildPaymentURL("order-123", 50000, "order info", "10.0.0.1", "")
	params := paramsFromURL(t, rawURL)
	params[ParamSecureHashType] = "HmacSHA512"

	assert.True(t, c.VerifySignature(params))
}

func TestHashDataEncodesSpacesAsPlus(t *testing.T) {
	data := hashData(map[string]string{
		"vnp_OrderInfo": "Thanh toan don hang",
		"vnp_TxnRef":    "abc",
	})

	assert.Equal(t, "vnp_OrderInfo=Thanh+toan+don+hang&vnp_TxnRef=abc", data)
	assert.False(t, strings.Contains(data, "%20"))
}

func TestHashDataSortsKeys(t *testing.T) {
	data := hashData(map[string]string{
		"b": "2",
		"a": "1",
		"c": "3",
	})
	assert.Equal(t, "a=1&b=2&c=3", data)
}

func TestAmountMatches(t *testing.T) {
	assert.True(t, AmountMatches("23000000", 230000))
	assert.False(t, AmountMatches("2300000", 230000))
	assert.False(t, AmountMatches("23000001", 230000))
	assert.False(t, AmountMatches("", 230000))
	assert.False(t, AmountMatches("not-a-number", 230000))
}

func TestIsSuccess(t *testing.T) {
	assert.True(t, IsSuccess("00"))
	assert.False(t, IsSuccess("24"))
	assert.False(t, IsSuccess(""))
}
