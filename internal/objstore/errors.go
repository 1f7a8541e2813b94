package objstore

import (
	"errors"
	"net/http"

	"github.com/aws/smithy-go"
)

// Status codes the SDK reports for missing objects. HeadObject returns a
// bare 404 with no modeled error type, so we classify by response code
// and by the modeled NoSuchKey/NotFound codes from GetObject.
func isNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}

	return false
}
