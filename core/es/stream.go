package es

import (
	"errors"
	"log/slog"
)

// Aggregate type discriminators for the streams this core persists.
const (
	AggTypeQuote = "quote"
	AggTypeClaim = "claim"
)

// StreamID identifies one append-only event stream. Streams are scoped by
/// tenant first: two tenants never share a stream even for equal aggregate ids.
type StreamID struct {
	Tenant        string
	AggregateType string
	AggregateID   string
}

func (s StreamID) Validate() error {
	if s.Tenant == "" {
		return errors.New("stream tenant is empty")
	}
	if s.AggregateType == "" {
		return errors.New("stream aggregate type is empty")
	}
	if s.AggregateID == "" {
		return errors.New("stream aggregate id is empty")
	}
	return nil
}

func (s StreamID) String() string {
	return s.Tenant + "/" + s.AggregateType + "/" + s.AggregateID
}

func (s StreamID) SlogAttr() slog.Attr {
	return slog.Group(
		"stream",
		slog.String("tenant", s.Tenant),
		slog.String("agg_type", s.AggregateType),
		slog.String("agg_id", s.AggregateID),
	)
}
