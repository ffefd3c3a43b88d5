package deploy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/metadeploy/internal/domain/deployment"
	"github.com/oshokin/metadeploy/internal/service/common"
)

// TestParseJob maps counters and failure details of a status response.
func TestParseJob(t *testing.T) {
	t.Parallel()

	body := `{"id":"0Af1","deployResult":{"id":"0Af1","done":true,"status":"Failed","stateDetail":"Running tests",` +
		`"numberComponentsDeployed":3,"numberComponentsTotal":4,"numberComponentErrors":1,` +
		`"numberTestsCompleted":5,"numberTestsTotal":6,"numberTestErrors":1,` +
		`"details":{"componentFailures":[{"componentType":"ApexClass","fileName":"classes/A.cls",` +
		`"fullName":"A","problem":"Unexpected token","problemType":"Error","success":false}],` +
		`"runTestResult":{"numFailures":1,"failures":[{"name":"ATest","methodName":"itWorks",` +
		`"message":"Assertion failed","stackTrace":"Class.ATest.itWorks: line 3"}]}}}}`

	job, err := parseJob(&common.Response{StatusCode: http.StatusOK, Body: []byte(body)})
	require.NoError(t, err)
	require.Equal(t, &deployment.Job{
		ID:          "0Af1",
		Status:      deployment.StatusFailed,
		Done:        true,
		StateDetail: "Running tests",
		Counts: deployment.Counts{
			ComponentsDeployed: 3,
			ComponentsTotal:    4,
			ComponentErrors:    1,
			TestsCompleted:     5,
			TestsTotal:         6,
			TestErrors:         1,
		},
		Failures: deployment.Failures{
			Components: []deployment.ComponentFailure{{
				Type:        "ApexClass",
				File:        "classes/A.cls",
				Name:        "A",
				Problem:     "Unexpected token",
				ProblemType: "Error",
			}},
			Tests: []deployment.TestFailure{{
				Name:       "ATest",
				Method:     "itWorks",
				Message:    "Assertion failed",
				StackTrace: "Class.ATest.itWorks: line 3",
			}},
		},
	}, job)
	require.True(t, job.IsTerminal())
}

// TestParseJob_Malformed rejects bodies without a deploy result.
func TestParseJob_Malformed(t *testing.T) {
	t.Parallel()

	_, err := parseJob(&common.Response{Body: []byte(`{"id":"0Af1"}`)})
	require.ErrorIs(t, err, errStatusMissing)

	_, err = parseJob(&common.Response{Body: []byte(`<html>`)})
	require.Error(t, err)
}

// TestParseAPIError formats the first REST error.
func TestParseAPIError(t *testing.T) {
	t.Parallel()

	require.Equal(t, "INVALID_ID_FIELD: bad id",
		parseAPIError(&common.Response{Body: []byte(`[{"message":"bad id","errorCode":"INVALID_ID_FIELD"}]`)}))
	require.Equal(t, "bad id", parseAPIError(&common.Response{Body: []byte(`[{"message":"bad id"}]`)}))
	require.Empty(t, parseAPIError(&common.Response{Body: []byte(`{}`)}))
}
