/*
resolver.go - System account resolution

PURPOSE:
  Automated postings (liability vouchers, payment vouchers) need "the
  Accounts Payable head", "the Income Tax Payable head" and so on. These are
  resolved by system code. The engine requires exactly one active head per
  system code per organization and fails fast with a configuration error
  otherwise - a half-configured chart must stop the workflow, not guess.
*/
package coa

import (
	"context"

	"github.com/cfms/fiscal-engine/fiscal"
)

// Store is the persistence surface the chart of accounts needs.
type Store interface {
	// GetHead returns a head by ID, fiscal.ErrNotFound when absent.
	GetHead(ctx context.Context, org fiscal.OrgID, id fiscal.HeadID) (*Head, error)

	// SaveHead inserts or updates a head.
	SaveHead(ctx context.Context, h *Head) error

	// HeadsBySystemCode returns every active head carrying the system code.
	HeadsBySystemCode(ctx context.Context, org fiscal.OrgID, code SystemCode) ([]*Head, error)
}

// Resolver resolves system accounts for automated postings.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// SystemHead returns the single active head for the given system code.
// Zero or multiple matches produce fiscal.ErrConfigurationMissing.
func (r *Resolver) SystemHead(ctx context.Context, org fiscal.OrgID, code SystemCode) (*Head, error) {
	heads, err := r.store.HeadsBySystemCode(ctx, org, code)
	if err != nil {
		return nil, err
	}
	if len(heads) != 1 {
		return nil, &fiscal.ConfigError{SystemCode: string(code), Found: len(heads)}
	}
	return heads[0], nil
}
