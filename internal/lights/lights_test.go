package lights_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetlight-api/internal/errkind"
	"streetlight-api/internal/lights"
)

func TestNextID_EmptyVillageStartsAtOne(t *testing.T) {
	id, err := lights.NextID("01", nil)
	require.NoError(t, err)
	assert.Equal(t, "01001", id)
}

func TestNextID_IncrementsMax(t *testing.T) {
	existing := []string{"01001", "01049", "02050", "01020", "0105", "010500"}
	id, err := lights.NextID("01", existing)
	require.NoError(t, err)
	assert.Equal(t, "01050", id)
}

func TestNextID_CleansSpreadsheetArtifacts(t *testing.T) {
	id, err := lights.NextID("03", []string{" '03007 ", "\"03002\""})
	require.NoError(t, err)
	assert.Equal(t, "03008", id)
}

func TestNextID_DoesNotReserve(t *testing.T) {
	existing := []string{"05001"}
	a, err := lights.NextID("05", existing)
	require.NoError(t, err)
	b, err := lights.NextID("05", existing)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNextID_SequentialWithoutGaps(t *testing.T) {
	var ids []string
	for i := 1; i <= 25; i++ {
		id, err := lights.NextID("07", ids)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("07%03d", i), id)
		ids = append(ids, id)
	}
}

func TestNextID_RejectsBadCode(t *testing.T) {
	for _, code := range []string{"", "1", "001", "ab"} {
		_, err := lights.NextID(code, nil)
		require.ErrorIs(t, err, errkind.InvalidVillageCode, code)
	}
}

func TestNextID_Exhausted(t *testing.T) {
	_, err := lights.NextID("04", []string{"04999"})
	require.ErrorIs(t, err, errkind.IDExhausted)
}

func TestCleanID(t *testing.T) {
	assert.Equal(t, "01001", lights.CleanID("'01001"))
	assert.Equal(t, "01001", lights.CleanID("  01001\t"))
	assert.Equal(t, "01001", lights.CleanID("\"01001\""))
	assert.True(t, lights.ValidID("99999"))
	assert.False(t, lights.ValidID("9999"))
	assert.False(t, lights.ValidID("9999a"))
	assert.Equal(t, "12", lights.VillageOf("'12345"))
	assert.Equal(t, "", lights.VillageOf("123"))
}

func TestParseCoord(t *testing.T) {
	c, err := lights.ParseCoord(" 24.41 ", "120.68")
	require.NoError(t, err)
	lat, lng := c.Strings()
	assert.Equal(t, "24.41", lat)
	assert.Equal(t, "120.68", lng)
	flat, flng := c.Float()
	assert.InDelta(t, 24.41, flat, 1e-12)
	assert.InDelta(t, 120.68, flng, 1e-12)
}

func TestParseCoord_Malformed(t *testing.T) {
	bad := [][2]string{
		{"", "120.1"},
		{"24.1", ""},
		{"abc", "120.1"},
		{"NaN", "120.1"},
		{"24.1", "Inf"},
		{"91", "120"},
		{"24", "-180.5"},
	}
	for _, b := range bad {
		_, err := lights.ParseCoord(b[0], b[1])
		require.ErrorIs(t, err, errkind.MalformedCoordinate, "%v", b)
	}
}

func TestCoordFromFloat_RoundTripsShortest(t *testing.T) {
	lat, lng := lights.CoordFromFloat(24.42, 120.69).Strings()
	assert.Equal(t, "24.42", lat)
	assert.Equal(t, "120.69", lng)
}

func TestTimeLabel_ROCYear(t *testing.T) {
	ts := time.Date(2026, 10, 19, 1, 5, 9, 0, time.UTC)
	assert.Equal(t, "115/10/19 9:05:09.000", lights.TimeLabel(ts))
	assert.Equal(t, "115/10/19 9:05:09.042", lights.TimeLabel(ts.Add(42*time.Millisecond+999)))
	assert.NotEqual(t, lights.TimeLabel(ts), lights.TimeLabel(ts.Add(time.Millisecond)))
}

func TestActionKind(t *testing.T) {
	assert.True(t, lights.ActionDeleteLight.Valid())
	assert.False(t, lights.ActionKind("delete").Valid())
	assert.Equal(t, "新設路燈", lights.ActionNew.DefaultNote())
}

func TestHistoryKey_Matches(t *testing.T) {
	h := lights.HistoryEntry{LightID: "'01001", Time: "115/1/2 3:04:05"}
	assert.True(t, lights.HistoryKey{LightID: "01001", Time: "115/1/2 3:04:05"}.Matches(h))
	assert.False(t, lights.HistoryKey{LightID: "01001", Time: "115/1/2 3:04:06"}.Matches(h))
}
