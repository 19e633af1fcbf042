package dose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPumpEventID_Deterministic(t *testing.T) {
	id1, err := PumpEventID(1700000000000, []byte{0x01, 0x02})
	require.NoError(t, err)
	id2, err := PumpEventID(1700000000000, []byte{0x01, 0x02})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)
}

func TestPumpEventID_DiffersByDateAndRaw(t *testing.T) {
	base, err := PumpEventID(1700000000000, []byte{0x01})
	require.NoError(t, err)

	otherDate, err := PumpEventID(1700000000001, []byte{0x01})
	require.NoError(t, err)
	otherRaw, err := PumpEventID(1700000000000, []byte{0x02})
	require.NoError(t, err)

	assert.NotEqual(t, base, otherDate)
	assert.NotEqual(t, base, otherRaw)
}

func TestMarshalCanonical_SortsKeysAndRejectsFloats(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"b": int64(1), "a": "x<y"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x<y","b":1}`, string(got))

	_, err = MarshalCanonical(map[string]any{"f": 1.5})
	assert.Error(t, err)
}

func TestNormalizeText_NFC(t *testing.T) {
	// "e" + combining acute accent composes to a single rune
	assert.Equal(t, "\u00e9", NormalizeText("e\u0301"))
}
