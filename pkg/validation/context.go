package validation

import (
	"time"

	"github.com/google/uuid"

	"github.com/quorumsec/warden/pkg/entity"
)

// OperationType identifies the mutation being validated
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// IsValid reports whether the operation type is defined
func (o OperationType) IsValid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Well-known OperationContext data keys consumed by business rules
const (
	DataKeyJustification = "justification"
	DataKeyApproval      = "approval"
	DataKeyConsent       = "consent"
)

// OperationContext carries the state of one logical validation call. It
// is created at the start of the call and discarded at the end; it must
// never be shared between unrelated operations. The bulk flag lives here,
// per call, so concurrent validations cannot race on it.
type OperationContext struct {
	ID        string                 `json:"id"`
	Operation OperationType          `json:"operation"`
	Entity    *entity.Entity         `json:"-"`
	Data      map[string]interface{} `json:"data,omitempty"`
	IsBulk    bool                   `json:"is_bulk"`
	StartedAt time.Time              `json:"started_at"`
}

// NewOperationContext creates a context for a single-entity operation
func NewOperationContext(op OperationType, e *entity.Entity) *OperationContext {
	return &OperationContext{
		ID:        uuid.NewString(),
		Operation: op,
		Entity:    e,
		Data:      make(map[string]interface{}),
		StartedAt: time.Now(),
	}
}

// WithData attaches a data marker and returns the context for chaining
func (c *OperationContext) WithData(key string, value interface{}) *OperationContext {
	if c.Data == nil {
		c.Data = make(map[string]interface{})
	}
	c.Data[key] = value
	return c
}

// HasMarker reports whether a non-empty data marker is present
func (c *OperationContext) HasMarker(key string) bool {
	if c == nil || c.Data == nil {
		return false
	}
	v, ok := c.Data[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}
