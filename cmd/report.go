package cmd

import (
	"errors"

	"github.com/marcus/assetlock/internal/clientconfig"
	"github.com/marcus/assetlock/internal/lockclient"
	"github.com/marcus/assetlock/internal/output"
	"github.com/marcus/assetlock/internal/scope"
)

// errorCode maps a client-side error to a structured output code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, lockclient.ErrRejected):
		return output.ErrCodeRejected
	case errors.Is(err, lockclient.ErrIndeterminate):
		return output.ErrCodeIndeterminate
	case errors.Is(err, lockclient.ErrUnexpected):
		return output.ErrCodeUnexpected
	case errors.Is(err, clientconfig.ErrNoIdentity), errors.Is(err, lockclient.ErrPrecondition):
		return output.ErrCodePrecondition
	case errors.Is(err, scope.ErrEmptyPath), errors.Is(err, scope.ErrOutsideRoot):
		return output.ErrCodeInvalidInput
	default:
		return output.ErrCodeUnexpected
	}
}

// pathResult is the per-path JSON shape shared by lock, unlock and status.
type pathResult struct {
	Path    string `json:"path"`
	Result  string `json:"result,omitempty"`
	Holder  string `json:"holder,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func failedResult(path string, err error) pathResult {
	return pathResult{
		Path:   path,
		Result: "error",
		Holder: lockclient.Holder(err),
		Error:  lockclient.Reason(err),
		Code:   errorCode(err),
	}
}

// errPartialFailure is returned when at least one path in a batch failed.
var errPartialFailure = errors.New("one or more paths failed")

func reasonSuffix(err error) string {
	return "(" + lockclient.Reason(err) + ")"
}
