package protocol

import (
	"github.com/vyrodovalexey/mcpgw/internal/util"
)

// Validate checks a request envelope for well-formedness. It has no
// side effects; a failure here must short-circuit the pipeline before
// any cache, scheduler, or network interaction.
//
// A request is valid iff the version field equals Version, the method
// is a non-empty string, and the "id" key is present (any value,
// including null).
func Validate(req *Request) error {
	if req == nil {
		return util.NewValidationError("", "missing request")
	}
	if req.Version != Version {
		return util.NewValidationError("jsonrpc", "version must be "+Version)
	}
	if req.Method == "" {
		return util.NewValidationError("method", "must be a non-empty string")
	}
	if !req.HasID() {
		return util.NewValidationError("id", "key must be present")
	}
	return nil
}
