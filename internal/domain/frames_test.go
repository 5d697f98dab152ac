package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ключ "alert" двуличен: строка-код в system_alert и объект в fraud_alert.
func TestStreamFrame_AlertFieldDualShape(t *testing.T) {
	var sys StreamFrame
	require.NoError(t, json.Unmarshal([]byte(`{"type":"system_alert","alert":"order_drop","severity":"critical"}`), &sys))
	assert.Equal(t, "order_drop", sys.AlertCode())
	_, err := sys.FraudAlert()
	assert.Error(t, err)

	var fraud StreamFrame
	require.NoError(t, json.Unmarshal([]byte(`{"type":"fraud_alert","alert":{"id":12,"severity":"warning","title":"Velocity"}}`), &fraud))
	assert.Equal(t, "", fraud.AlertCode())
	fa, err := fraud.FraudAlert()
	require.NoError(t, err)
	assert.Equal(t, int64(12), fa.ID)
	assert.Equal(t, "Velocity", fa.Title)
}

func TestStreamFrame_FraudAlertMissingPayload(t *testing.T) {
	var frame StreamFrame
	require.NoError(t, json.Unmarshal([]byte(`{"type":"fraud_alert"}`), &frame))
	_, err := frame.FraudAlert()
	assert.Error(t, err)
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, ParseSeverity("critical"))
	assert.Equal(t, SeverityWarning, ParseSeverity("warning"))
	assert.Equal(t, SeverityInfo, ParseSeverity("info"))
	// Неизвестное значение — info, не ошибка
	assert.Equal(t, SeverityInfo, ParseSeverity("apocalyptic"))
	assert.Equal(t, SeverityInfo, ParseSeverity(""))
}

func TestSeverity_Rank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityWarning.Rank())
	assert.Greater(t, SeverityWarning.Rank(), SeverityInfo.Rank())
}

func TestAlert_DedupKey(t *testing.T) {
	assert.Equal(t, "fraud-9", Alert{ID: "fraud-9", Message: "m"}.DedupKey())
	assert.Equal(t, "db lag", Alert{Message: "db lag"}.DedupKey())
}
