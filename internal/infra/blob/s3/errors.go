package s3

import (
	"blobkit/internal/blob/core"
	"errors"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// endpoint tells mapError which resource a 404 refers to.
type endpoint int

const (
	containerEndpoint endpoint = iota
	// blobEndpoint is a blob write; a missing bucket stays ContainerNotFound.
	blobEndpoint
	// blobReadEndpoint is a blob read; a missing bucket reads as BlobNotFound.
	blobReadEndpoint
)

// mapError classifies an SDK error. Unrecognised errors keep their identity
// and are only wrapped with the operation name.
func mapError(op, resource string, ep endpoint, err error) error {
	if err == nil {
		return nil
	}
	code, status := errorCode(err)
	var kind core.ErrorKind
	switch {
	case code == "NoSuchBucket":
		kind = core.KindContainerNotFound
		if ep == blobReadEndpoint {
			kind = core.KindBlobNotFound
		}
	case code == "NoSuchKey":
		kind = core.KindBlobNotFound
	case code == "BucketAlreadyExists" || code == "BucketAlreadyOwnedByYou":
		kind = core.KindContainerAlreadyExists
	case code == "PreconditionFailed" || code == "ConditionalRequestConflict" || status == http.StatusPreconditionFailed:
		kind = core.KindConditionNotMet
	case code == "InvalidBucketName":
		kind = core.KindInvalidResourceName
	case code == "InvalidURI" || code == "KeyTooLongError":
		kind = core.KindInvalidURI
	case code == "NotFound" || status == http.StatusNotFound:
		// HEAD responses carry no body, so bucket and key misses look alike.
		kind = core.KindBlobNotFound
		if ep == containerEndpoint {
			kind = core.KindContainerNotFound
		}
	default:
		return core.Errorf(op, err)
	}
	return core.NewError(kind, op, resource, err)
}

func errorCode(err error) (string, int) {
	var code string
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}
	var status int
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	return code, status
}

// isNotFound reports a 404 of any flavour.
func isNotFound(err error) bool {
	k := core.KindOf(err)
	return k == core.KindBlobNotFound || k == core.KindContainerNotFound
}
