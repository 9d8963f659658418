package enums

import (
	"fmt"
	"strings"
)

// DeliveryMethod is how the item reaches the buyer.
type DeliveryMethod string

const (
	DeliveryMethodParcel   DeliveryMethod = "parcel"
	DeliveryMethodInPerson DeliveryMethod = "in_person"
)

var validDeliveryMethods = []DeliveryMethod{
	DeliveryMethodParcel,
	DeliveryMethodInPerson,
}

func (m DeliveryMethod) String() string {
	return string(m)
}

func (m DeliveryMethod) IsValid() bool {
	for _, candidate := range validDeliveryMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseDeliveryMethod accepts either case.
func ParseDeliveryMethod(value string) (DeliveryMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validDeliveryMethods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery method %q", value)
}
