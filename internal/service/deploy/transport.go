package deploy

import (
	"context"
	"net/url"
	"strings"

	"github.com/oshokin/metadeploy/internal/service/common"
)

const (
	// soapActionDeploy is the SOAPAction header of a deploy call.
	soapActionDeploy = "deploy"
	// quickDeployID is the deploy request resource accepting validated job ids.
	quickDeployID = "validatedDeployRequestId"
)

// Transport is the subset of the metadata API client used by tracks.
// *common.Client implements it.
type Transport interface {
	// PostSOAP sends a SOAP envelope.
	PostSOAP(ctx context.Context, path, action string, envelope []byte) (*common.Response, error)
	// GetJSON performs a GET request expecting JSON.
	GetJSON(ctx context.Context, path string) (*common.Response, error)
	// PostJSON sends a JSON payload.
	PostJSON(ctx context.Context, path string, payload any) (*common.Response, error)
	// AccessToken returns the session id placed in SOAP headers.
	AccessToken() string
}

// soapPath returns the metadata SOAP endpoint of an API version.
func soapPath(apiVersion string) string {
	return "/services/Soap/m/" + strings.TrimPrefix(apiVersion, "v")
}

// deployRequestPath returns the REST deploy request resource of an API version.
func deployRequestPath(apiVersion, id string) string {
	return "/services/data/v" + strings.TrimPrefix(apiVersion, "v") +
		"/metadata/deployRequest/" + url.PathEscape(id)
}

// statusPath returns the status resource of a job including component and test details.
func statusPath(apiVersion, jobID string) string {
	return deployRequestPath(apiVersion, jobID) + "?includeDetails=true"
}
