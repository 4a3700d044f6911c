package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"identitysync/internal/identity"
)

// ErrParse indicates a verified body that is not a well-formed envelope.
var ErrParse = errors.New("malformed webhook payload")

// ErrUnsupportedEventKind is matched by UnsupportedEventKindError.
var ErrUnsupportedEventKind = errors.New("unsupported event kind")

// UnsupportedEventKindError carries the type of an event we do not mirror.
type UnsupportedEventKindError struct {
	Kind string
}

func (e *UnsupportedEventKindError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnsupportedEventKind, e.Kind)
}

func (e *UnsupportedEventKindError) Unwrap() error {
	return ErrUnsupportedEventKind
}

type envelope struct {
	Type string       `json:"type"`
	Data envelopeData `json:"data"`
}

type envelopeData struct {
	ID                    string         `json:"id"`
	EmailAddresses        []emailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	ImageURL              string         `json:"image_url"`
}

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// Normalize converts a verified provider payload into the canonical event.
// The data of unsupported kinds is not inspected.
func Normalize(body []byte) (identity.Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return identity.Event{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if head.Type == "" {
		return identity.Event{}, fmt.Errorf("%w: type is required", ErrParse)
	}

	kind := identity.Kind(head.Type)
	if !kind.Supported() {
		return identity.Event{}, &UnsupportedEventKindError{Kind: head.Type}
	}

	if err := validateEnvelope(body); err != nil {
		return identity.Event{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return identity.Event{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	subjectID := strings.TrimSpace(env.Data.ID)
	if subjectID == "" {
		return identity.Event{}, fmt.Errorf("%w: data.id is required", ErrParse)
	}

	return identity.Event{
		Kind:        kind,
		SubjectID:   subjectID,
		Email:       optional(env.Data.email()),
		DisplayName: optional(env.Data.displayName()),
		ImageURL:    optional(env.Data.ImageURL),
	}, nil
}

func (d envelopeData) email() string {
	for _, addr := range d.EmailAddresses {
		if d.PrimaryEmailAddressID != "" && addr.ID == d.PrimaryEmailAddressID {
			return addr.EmailAddress
		}
	}
	if len(d.EmailAddresses) > 0 {
		return d.EmailAddresses[0].EmailAddress
	}
	return ""
}

func (d envelopeData) displayName() string {
	if strings.TrimSpace(d.FirstName) == "" {
		return ""
	}
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
