package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	v := NewVerifier("shared-secret")
	body := []byte(`{"narration":"INKW01HZXK"}`)
	good := v.Sign(body)

	tests := []struct {
		name      string
		signature string
		wantErr   error
	}{
		{name: "valid signature", signature: good},
		{name: "valid with scheme prefix", signature: "sha256=" + good},
		{name: "missing signature", signature: "", wantErr: ErrSignatureInvalid},
		{name: "wrong signature", signature: "deadbeef", wantErr: ErrSignatureInvalid},
		{name: "signature for other body", signature: v.Sign([]byte(`{}`)), wantErr: ErrSignatureInvalid},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Verify(body, tc.signature)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestVerifyUnconfiguredSecretRejects(t *testing.T) {
	v := NewVerifier("  ")
	err := v.Verify([]byte(`{}`), "anything")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestParseNotification(t *testing.T) {
	body := []byte(`{"gatewayNotificationId":"evt_1","gatewayName":"sepay","narration":"CK INKW01J5ABCDEF","settledAmount":50000}`)

	notif, err := ParseNotification(body)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", notif.GatewayNotificationID)
	assert.Equal(t, "sepay", notif.GatewayName)
	assert.Equal(t, int64(50000), notif.SettledAmount)
}

func TestParseNotificationRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `narration=INKW`},
		{name: "zero amount", body: `{"narration":"x","settledAmount":0}`},
		{name: "negative amount", body: `{"narration":"x","settledAmount":-10}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseNotification([]byte(tc.body))
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestParseNotificationDefaultsGatewayName(t *testing.T) {
	notif, err := ParseNotification([]byte(`{"narration":"x","settledAmount":10}`))
	require.NoError(t, err)
	assert.Equal(t, "bank", notif.GatewayName)
}
