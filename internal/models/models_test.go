package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncItemValidate(t *testing.T) {
	tests := []struct {
		name    string
		item    SyncItem
		wantErr bool
	}{
		{
			name: "valid create",
			item: SyncItem{Operation: OperationCreate, TargetType: TargetMember, Payload: json.RawMessage(`{"name":"A"}`)},
		},
		{
			name:    "unknown operation",
			item:    SyncItem{Operation: "delete", TargetType: TargetMember, Payload: json.RawMessage(`{}`)},
			wantErr: true,
		},
		{
			name:    "unknown target",
			item:    SyncItem{Operation: OperationUpdate, TargetType: "district", Payload: json.RawMessage(`{}`)},
			wantErr: true,
		},
		{
			name:    "empty payload",
			item:    SyncItem{Operation: OperationCreate, TargetType: TargetEvent},
			wantErr: true,
		},
		{
			name:    "broken json",
			item:    SyncItem{Operation: OperationCreate, TargetType: TargetMeeting, Payload: json.RawMessage(`{"a":`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidItem), "expected ErrInvalidItem, got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSyncItemEntityID(t *testing.T) {
	cases := map[string]string{
		`{"id":"m-17","name":"x"}`: "m-17",
		`{"id":42}`:                "42",
		`{"id":1e3}`:               "1000",
		`{"id":12.0}`:              "12",
		`{"id":12.5}`:              "12.5",
		`{"name":"no id"}`:         "",
		`[1,2,3]`:                  "",
	}
	for payload, want := range cases {
		item := SyncItem{Payload: json.RawMessage(payload)}
		assert.Equal(t, want, item.EntityID(), payload)
	}
}

func TestEnumValid(t *testing.T) {
	for _, tt := range TargetTypes {
		assert.True(t, tt.Valid())
	}
	assert.False(t, TargetType("village").Valid())
	assert.True(t, OperationCreate.Valid())
	assert.False(t, Operation("").Valid())
}
