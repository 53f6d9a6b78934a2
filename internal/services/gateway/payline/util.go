package payline

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// VerifySignature checks the x-signature header of a webhook delivery.
// The header carries "ts=<unix>,v1=<hex hmac>" and the signed manifest is
// "id:<eventID>;ts:<ts>;" keyed with the shared webhook secret.
func (c *Client) VerifySignature(signatureHeader, eventID string) error {
	if c.webhookSecret == "" {
		// signature checking not configured
		return nil
	}

	ts, v1, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return err
	}

	manifest := fmt.Sprintf("id:%s;ts:%s;", eventID, ts)
	expected := hmac256([]byte(c.webhookSecret), []byte(manifest))

	got, err := hex.DecodeString(v1)
	if err != nil {
		return fmt.Errorf("payline: malformed signature: %w", err)
	}
	if !hmac.Equal(expected, got) {
		return fmt.Errorf("payline: signature mismatch")
	}
	return nil
}

func parseSignatureHeader(header string) (ts, v1 string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return "", "", fmt.Errorf("payline: incomplete signature header")
	}
	return ts, v1, nil
}

func hmac256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
