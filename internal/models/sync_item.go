package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrInvalidItem is returned when a sync item fails validation.
var ErrInvalidItem = errors.New("invalid sync item")

// Operation is the kind of remote write a sync item carries.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate:
		return true
	default:
		return false
	}
}

// TargetType selects the remote collection a payload is written to.
type TargetType string

const (
	TargetMember  TargetType = "member"
	TargetEvent   TargetType = "event"
	TargetMeeting TargetType = "meeting"
)

// TargetTypes lists every supported target in a stable order.
var TargetTypes = []TargetType{TargetMember, TargetEvent, TargetMeeting}

func (t TargetType) Valid() bool {
	switch t {
	case TargetMember, TargetEvent, TargetMeeting:
		return true
	default:
		return false
	}
}

// SyncItem is a single pending write awaiting remote delivery.
type SyncItem struct {
	ID          string          `json:"id"`
	Payload     json.RawMessage `json:"payload"`
	Operation   Operation       `json:"operation"`
	TargetType  TargetType      `json:"target_type"`
	CreatedAt   time.Time       `json:"created_at"`
	RetryCount  int             `json:"retry_count"`
	LastError   *string         `json:"last_error,omitempty"`
	NextRetryAt *time.Time      `json:"next_retry_at,omitempty"`
}

// Validate checks the fields a caller must provide.
func (i *SyncItem) Validate() error {
	if !i.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidItem, i.Operation)
	}
	if !i.TargetType.Valid() {
		return fmt.Errorf("%w: unknown target type %q", ErrInvalidItem, i.TargetType)
	}
	if len(i.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrInvalidItem)
	}
	if !json.Valid(i.Payload) {
		return fmt.Errorf("%w: payload is not valid json", ErrInvalidItem)
	}
	if i.RetryCount < 0 {
		return fmt.Errorf("%w: negative retry count", ErrInvalidItem)
	}
	return nil
}

// EntityID extracts the "id" field of the payload, if any.
// Integral numeric ids are rendered as plain integers, so 1e3 and 1000.0
// both become "1000". Other numbers are returned as written.
func (i *SyncItem) EntityID() string {
	var doc struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(i.Payload, &doc); err != nil || len(doc.ID) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(doc.ID, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(doc.ID, &n); err != nil {
		return ""
	}
	if v, err := n.Int64(); err == nil {
		return strconv.FormatInt(v, 10)
	}
	if f, err := n.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return n.String()
}
