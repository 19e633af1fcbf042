package dose

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainPumpEvent is the domain prefix for pump-event identity.
// The version suffix allows a future change of identity inputs.
const DomainPumpEvent = "dosestore/pump-event/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PumpEventID computes the content-addressed ID of a pump event.
//
// Identity covers only the event date (millisecond precision) and raw
// payload. Title, type and dose are derived from the raw payload by the
// pump driver and are deliberately excluded.
func PumpEventID(date int64, raw []byte) (string, error) {
	obj := map[string]any{
		"date": date,
		"raw":  hex.EncodeToString(raw),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("PumpEventID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainPumpEvent, canonical), nil
}
