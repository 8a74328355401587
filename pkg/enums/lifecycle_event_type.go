package enums

import (
	"fmt"
	"strings"
)

// LifecycleEventType enumerates the product lifecycle transitions published upstream.
type LifecycleEventType string

const (
	LifecycleEventCreated     LifecycleEventType = "created"
	LifecycleEventUpdated     LifecycleEventType = "updated"
	LifecycleEventLaunched    LifecycleEventType = "launched"
	LifecycleEventDeactivated LifecycleEventType = "deactivated"
	LifecycleEventDeleted     LifecycleEventType = "deleted"
)

// LifecycleSubjectPrefix is the namespace upstream publishers put in front of the type.
const LifecycleSubjectPrefix = "product."

var validLifecycleEventTypes = []LifecycleEventType{
	LifecycleEventCreated,
	LifecycleEventUpdated,
	LifecycleEventLaunched,
	LifecycleEventDeactivated,
	LifecycleEventDeleted,
}

// String implements fmt.Stringer.
func (t LifecycleEventType) String() string {
	return string(t)
}

// Subject returns the dotted wire form, e.g. product.updated.
func (t LifecycleEventType) Subject() string {
	return LifecycleSubjectPrefix + string(t)
}

// IsValid reports whether the value is a known LifecycleEventType.
func (t LifecycleEventType) IsValid() bool {
	for _, candidate := range validLifecycleEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLifecycleEventType accepts both `product.updated` and `updated`.
func ParseLifecycleEventType(value string) (LifecycleEventType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.TrimPrefix(normalized, LifecycleSubjectPrefix)
	for _, candidate := range validLifecycleEventTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid lifecycle event type %q", value)
}
