package export

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"secsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteQueueXLSX(t *testing.T) {
	lastErr := "503 Service Unavailable"
	items := []models.SyncItem{
		{
			ID:         "a1",
			Payload:    json.RawMessage(`{"name":"Ana"}`),
			Operation:  models.OperationCreate,
			TargetType: models.TargetMember,
			CreatedAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			ID:         "b2",
			Payload:    json.RawMessage(`{"id":7,"title":"Congress"}`),
			Operation:  models.OperationUpdate,
			TargetType: models.TargetEvent,
			CreatedAt:  time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC),
			RetryCount: 2,
			LastError:  &lastErr,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteQueueXLSX(&buf, items))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "a1", rows[1][0])
	assert.Equal(t, "member", rows[1][2])
	assert.Equal(t, "b2", rows[2][0])
	assert.Equal(t, "update", rows[2][1])
	assert.Equal(t, "2", rows[2][3])
	assert.Equal(t, lastErr, rows[2][5])
	assert.Equal(t, `{"id":7,"title":"Congress"}`, rows[2][6])
}

func TestWriteQueueXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteQueueXLSX(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
