package bulk

import (
	"context"
	"errors"

	"lock-credential-bridge/internal/types"
)

// Classify maps a failed remote call to a result status, a failure code and
// the message shown to the operator. Auth signatures win over timeouts.
func Classify(err error) (types.OperationStatus, string, string) {
	if err == nil {
		return types.StatusSuccess, "", ""
	}

	var remote *types.RemoteError
	if errors.As(err, &remote) {
		switch {
		case remote.IsAuth():
			return types.StatusAuthError, types.CodeAuthExpired, remote.UpstreamMessage()
		case remote.Timeout:
			return types.StatusFailed, types.CodeTimeout, "timed out: " + remote.UpstreamMessage()
		default:
			return types.StatusFailed, types.CodeRemoteFailed, remote.UpstreamMessage()
		}
	}

	if types.HasAuthSignature(err.Error()) {
		return types.StatusAuthError, types.CodeAuthExpired, err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.StatusFailed, types.CodeTimeout, err.Error()
	}
	return types.StatusFailed, types.CodeRemoteFailed, err.Error()
}
