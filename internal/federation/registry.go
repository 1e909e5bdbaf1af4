// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package federation

import (
	"net/url"
	"slices"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/secrets/internal/config"
)

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry builds a Provider for each entry. Callback URLs are
// {baseURL}/auth/{name}/callback.
func NewRegistry(baseURL string, providers map[string]config.ProviderConfig, opts ...ProviderOption) (*Registry, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, oops.Code("FEDERATION_INVALID_CONFIG").With("base_url", baseURL).Wrap(err)
	}

	r := &Registry{providers: make(map[string]*Provider, len(providers))}
	for name, cfg := range providers {
		redirect := base.JoinPath("auth", name, "callback").String()
		p, err := NewProvider(name, cfg, redirect, opts...)
		if err != nil {
			return nil, err
		}
		r.providers[name] = p
	}
	return r, nil
}

// Get returns the named provider.
func (r *Registry) Get(name string) (*Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[name]
	return p, ok
}

// Names lists the configured providers, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
