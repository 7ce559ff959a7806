package push

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Descriptor identifies one device able to receive notifications. Clients
// send it either as a JSON object or as a JSON string holding that object.
type Descriptor struct {
	FcmToken string            `json:"fcm_token" validate:"required"`
	Endpoint string            `json:"endpoint,omitempty" validate:"omitempty,url"`
	Keys     map[string]string `json:"keys,omitempty"`
}

// descriptorInput also accepts the camelCase token key older clients send.
type descriptorInput struct {
	Descriptor
	FcmTokenCamel string `json:"fcmToken"`
}

var ErrInvalidDescriptor = errors.New("invalid push subscription")

// ParseDescriptor decodes and validates a descriptor as received from a
// client. Stored descriptors are already normalized and are decoded directly.
func ParseDescriptor(raw json.RawMessage) (Descriptor, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Descriptor{}, ErrInvalidDescriptor
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}
		raw = json.RawMessage(inner)
	}

	var in descriptorInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	d := in.Descriptor
	if d.FcmToken == "" {
		d.FcmToken = in.FcmTokenCamel
	}

	if err := validate.Struct(d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	return d, nil
}
