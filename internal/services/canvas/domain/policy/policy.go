// Package policy decides who may edit the canvas.
package policy

import (
	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
)

// Flags captures one participant's standing with the canvas.
type Flags struct {
	Banned      bool
	Blacklisted bool
	Allowed     bool // member of the exclusive-mode editor allowlist
}

// Access is the canvas-level gate configuration.
type Access struct {
	Exclusive     bool
	Administrator string
}

// CanEdit reports whether the identity may edit under the current access
// configuration. Banned and blacklisted identities are refused regardless of
// exclusivity; in exclusive mode only the administrator and allowlisted
// editors pass.
func CanEdit(a Access, identity string, f Flags) error {
	if f.Blacklisted {
		return apperrors.WithMetadata(apperrors.CodeAccessDenied,
			"participant is blacklisted",
			map[string]string{"identity": identity, "reason": "blacklisted"})
	}
	if f.Banned {
		return apperrors.WithMetadata(apperrors.CodeAccessDenied,
			"participant is banned",
			map[string]string{"identity": identity, "reason": "banned"})
	}
	if a.Exclusive && identity != a.Administrator && !f.Allowed {
		return apperrors.WithMetadata(apperrors.CodeAccessDenied,
			"canvas is exclusive and participant is not allowlisted",
			map[string]string{"identity": identity, "reason": "exclusive"})
	}
	return nil
}

// RequireAdministrator gates the administrative surface.
func RequireAdministrator(a Access, identity string) error {
	if identity == "" || identity != a.Administrator {
		return apperrors.WithMetadata(apperrors.CodeAccessDenied,
			"operation requires the canvas administrator",
			map[string]string{"identity": identity, "reason": "not-administrator"})
	}
	return nil
}
