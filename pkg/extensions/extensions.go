// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines interfaces for enterprise functionality.
//
// This package provides extension points that allow AleutianEnterprise
// to add capabilities without modifying the core AleutianVault
// codebase. The open source version uses no-op defaults for all
// interfaces.
//
// # Design Philosophy
//
// AleutianVault is designed as a fully functional local utility that
// works offline against a private note vault. Enterprise features are
// implemented by providing concrete implementations of these
// interfaces and injecting them through the service configuration.
//
// # Extension Categories
//
// The package is organized by domain:
//
//   - auth.go: API token authentication (TokenAuthenticator)
//   - audit.go: Tool execution audit logging (AuditLogger)
//   - filter.go: Outbound content redaction (ContentRedactor)
//
// # Usage in AleutianVault (Open Source)
//
// The open source version uses no-op implementations:
//
//	cfg := vault_buddy.DefaultServiceConfig()
//	cfg.Extensions = extensions.DefaultExtensions()
//
// # Usage in AleutianEnterprise
//
// Enterprise provides concrete implementations:
//
//	cfg.Extensions = extensions.ServiceExtensions{
//	    TokenAuth: enterprise.NewOktaAuthenticator(config),
//	    Audit:     enterprise.NewSplunkAuditor(config),
//	    Redactor:  enterprise.NewPIIRedactor(policy),
//	}
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
// Multiple goroutines may call methods simultaneously.
package extensions

// ServiceExtensions groups all extension points for service
// configuration.
//
// All fields are optional; Resolved replaces nil values with the no-op
// defaults, so a zero-value ServiceExtensions behaves exactly like
// DefaultExtensions().
type ServiceExtensions struct {
	// TokenAuth validates API tokens on the HTTP surface.
	// Default: LocalAuthenticator (every request is the local user)
	TokenAuth TokenAuthenticator

	// Audit records tool executions for compliance review.
	// Default: NopAuditLogger (discards all events)
	Audit AuditLogger

	// Redactor rewrites vault content before it leaves the process
	// toward a model backend.
	// Default: NopRedactor (passes content through unchanged)
	Redactor ContentRedactor
}

// DefaultExtensions returns ServiceExtensions with no-op defaults.
//
// This is the configuration used by the open source version: all
// requests are the local user, no audit trail, no redaction.
func DefaultExtensions() ServiceExtensions {
	return ServiceExtensions{
		TokenAuth: &LocalAuthenticator{},
		Audit:     &NopAuditLogger{},
		Redactor:  &NopRedactor{},
	}
}

// Resolved returns a copy with every nil field replaced by its no-op
// default. Service constructors call this once so the hot paths never
// nil-check.
func (e ServiceExtensions) Resolved() ServiceExtensions {
	if e.TokenAuth == nil {
		e.TokenAuth = &LocalAuthenticator{}
	}
	if e.Audit == nil {
		e.Audit = &NopAuditLogger{}
	}
	if e.Redactor == nil {
		e.Redactor = &NopRedactor{}
	}
	return e
}

// WithTokenAuth returns a copy with the given TokenAuthenticator.
// Useful for fluent configuration.
func (e ServiceExtensions) WithTokenAuth(auth TokenAuthenticator) ServiceExtensions {
	e.TokenAuth = auth
	return e
}

// WithAudit returns a copy with the given AuditLogger.
func (e ServiceExtensions) WithAudit(audit AuditLogger) ServiceExtensions {
	e.Audit = audit
	return e
}

// WithRedactor returns a copy with the given ContentRedactor.
func (e ServiceExtensions) WithRedactor(redactor ContentRedactor) ServiceExtensions {
	e.Redactor = redactor
	return e
}
