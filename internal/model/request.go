package model

import (
	"fmt"
	"time"
)

// RequestKind is the classified command type of an incoming message.
type RequestKind int

const (
	KindUnrecognized RequestKind = iota
	KindRegistration
	KindCatalog
	KindContent
	KindFeed
)

func (k RequestKind) String() string {
	switch k {
	case KindRegistration:
		return "registration"
	case KindCatalog:
		return "catalog"
	case KindContent:
		return "content"
	case KindFeed:
		return "feed"
	default:
		return "unrecognized"
	}
}

// Code returns the persisted representation of the kind. Only valid,
// persistable kinds have a code.
func (k RequestKind) Code() (string, error) {
	switch k {
	case KindRegistration:
		return "REGISTER", nil
	case KindCatalog:
		return "CATALOG", nil
	case KindContent:
		return "CONTENT", nil
	case KindFeed:
		return "FEED", nil
	default:
		return "", fmt.Errorf("request kind %d has no persisted code", int(k))
	}
}

// ParseKindCode is the inverse of Code.
func ParseKindCode(code string) (RequestKind, error) {
	switch code {
	case "REGISTER":
		return KindRegistration, nil
	case "CATALOG":
		return KindCatalog, nil
	case "CONTENT":
		return KindContent, nil
	case "FEED":
		return KindFeed, nil
	default:
		return KindUnrecognized, fmt.Errorf("unknown request kind code %q", code)
	}
}

// RequestStatus is the fulfillment state of a persisted request. Intake
// only ever writes StatusPending; fulfillment owns all later transitions.
type RequestStatus string

const StatusPending RequestStatus = "P"

// Request is the unit handed to durable storage for asynchronous
// fulfillment.
type Request struct {
	Type           RequestKind
	UserEmail      string
	RequestID      string
	ProcessorEmail string
	// Message carries the per-row payload field for content requests
	// (one catalog code per row). Empty for all other kinds.
	Message    string
	ReceivedAt time.Time
	Status     RequestStatus
}

// CatalogFeed is the side record written for feed requests. Code, Name and
// Description all take the submitted feed name; ContentType is always RSS.
type CatalogFeed struct {
	Code        string
	Name        string
	ContentType string
	Description string
	Location    string
}
