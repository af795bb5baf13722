// Package refnum issues collision-free reference numbers: policy numbers,
// claim numbers and payment customer reference numbers (CRNs). The
// allocator, not the aggregate or its lock, is the sole source of
// uniqueness: sequences are backed by a durable compare-and-swap counter so
// concurrent allocations across instances never collide.
package refnum

import (
	"context"
	"fmt"
	"strings"

	"github.com/ian-magat0512/ubind-sub022/core/fault"
)

// ErrDuplicateReferenceNumber signals a broken backing sequence. It is a
// fatal invariant violation, never a normal error path.
var ErrDuplicateReferenceNumber = fault.New("refnum.duplicate", "duplicate reference number")

// Method is the configured shape of issued identifiers.
type Method string

const (
	// MethodSequential issues bare decimal sequence values: "1", "2", ...
	MethodSequential Method = "sequential"
	// MethodPadded issues zero-padded sequence values: "000123".
	MethodPadded Method = "padded"
	// MethodPrefixed issues pattern-prefixed values: "POL-000123".
	MethodPrefixed Method = "prefixed"
)

// Config describes how one allocator formats its sequence.
type Config struct {
	Method Method
	// Prefix is prepended for MethodPrefixed, e.g. "POL-" or "CLM-".
	Prefix string
	// Width is the zero-pad width for MethodPadded and MethodPrefixed.
	Width int
	// Namespace separates independent sequences sharing one backing store,
	// e.g. "policy", "claim", "crn".
	Namespace string
}

func (c Config) format(n uint64) string {
	switch c.Method {
	case MethodPadded:
		return fmt.Sprintf("%0*d", c.Width, n)
	case MethodPrefixed:
		return c.Prefix + fmt.Sprintf("%0*d", c.Width, n)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func (c Config) validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("refnum: namespace is required")
	}
	if c.Method == MethodPrefixed && c.Prefix == "" {
		return fmt.Errorf("refnum: prefix is required for method %q", c.Method)
	}
	if strings.ContainsAny(c.Prefix, " \t\n") {
		return fmt.Errorf("refnum: prefix must not contain whitespace")
	}
	return nil
}

// Sequence is the durable atomic counter port. Next must never return the
// same value twice for one scope, even under concurrent load from multiple
// instances.
type Sequence interface {
	Next(ctx context.Context, scope string) (uint64, error)
}

// Allocator issues unique identifiers scoped by tenant, product and
// environment.
type Allocator interface {
	ConsumeForProduct(ctx context.Context, tenant, product, environment string) (string, error)
}

type allocator struct {
	cfg Config
	seq Sequence
}

// New builds an Allocator over the given durable sequence.
func New(cfg Config, seq Sequence) (Allocator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &allocator{cfg: cfg, seq: seq}, nil
}

func (a *allocator) ConsumeForProduct(ctx context.Context, tenant, product, environment string) (string, error) {
	if tenant == "" || product == "" || environment == "" {
		return "", fmt.Errorf("refnum: tenant, product and environment are required")
	}
	scope := strings.Join([]string{a.cfg.Namespace, tenant, product, environment}, ".")
	n, err := a.seq.Next(ctx, scope)
	if err != nil {
		return "", fmt.Errorf("refnum: consume %s: %w", scope, err)
	}
	return a.cfg.format(n), nil
}

// Defaults for the three allocator roles.

func PolicyNumberConfig() Config {
	return Config{Method: MethodPrefixed, Prefix: "POL-", Width: 6, Namespace: "policy"}
}

func ClaimNumberConfig() Config {
	return Config{Method: MethodPrefixed, Prefix: "CLM-", Width: 6, Namespace: "claim"}
}

// CRNConfig issues plain numeric customer reference numbers as required by
// payment gateways: digits only, no prefix.
func CRNConfig() Config {
	return Config{Method: MethodPadded, Width: 9, Namespace: "crn"}
}
