// This file contains validation of caller-supplied custom claims.
package models

import (
	"encoding/json"
	"fmt"

	"github.com/stratumsec/tokend/pkg/constants"
	"github.com/stratumsec/tokend/pkg/errors"
)

// reservedClaimKeys are claim names the engine sets itself. A caller
// supplying one of these is rejected rather than silently overridden.
var reservedClaimKeys = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "iat": {}, "nbf": {}, "jti": {},
	constants.ClaimKeyScope:     {},
	constants.ClaimKeyClientID:  {},
	constants.ClaimKeyUserID:    {},
	constants.ClaimKeyTokenType: {},
	constants.ClaimKeyIDToken:   {},
}

// ValidateCustomClaims checks a caller-supplied claim bag against the
// closed value model: scalar values only (string, bool, numeric), a
// bounded claim count and a bounded serialized size per value. Reserved
// claim names are rejected.
func ValidateCustomClaims(claims map[string]any) error {
	if len(claims) > constants.MaxAdditionalClaims {
		return errors.ErrInvalidRequest(fmt.Sprintf(
			"too many custom claims: %d exceeds limit of %d", len(claims), constants.MaxAdditionalClaims))
	}
	for key, value := range claims {
		if key == "" {
			return errors.ErrInvalidRequest("custom claim with empty name")
		}
		if _, reserved := reservedClaimKeys[key]; reserved {
			return errors.ErrInvalidRequest(fmt.Sprintf("custom claim %q overrides a reserved claim", key))
		}
		switch value.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64, json.Number:
		default:
			return errors.ErrInvalidRequest(fmt.Sprintf("custom claim %q has non-scalar value", key))
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return errors.ErrInvalidRequest(fmt.Sprintf("custom claim %q is not serializable", key))
		}
		if len(encoded) > constants.MaxClaimValueBytes {
			return errors.ErrInvalidRequest(fmt.Sprintf(
				"custom claim %q exceeds %d bytes", key, constants.MaxClaimValueBytes))
		}
	}
	return nil
}
