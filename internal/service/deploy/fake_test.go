package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/metadeploy/internal/service/common"
)

// fakeTransport replays scripted responses and records every call.
type fakeTransport struct {
	mu sync.Mutex

	// submissions are returned by PostSOAP in order.
	submissions []*common.Response
	// submitErr fails every PostSOAP call when set.
	submitErr error
	// statuses are the status responses per job id; the last one repeats.
	statuses map[string][]*common.Response
	// quick is returned by PostJSON.
	quick *common.Response

	envelopes   [][]byte
	statusCalls map[string]int
	quickBodies []any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		statuses:    make(map[string][]*common.Response),
		statusCalls: make(map[string]int),
	}
}

func (f *fakeTransport) PostSOAP(_ context.Context, path, action string, envelope []byte) (*common.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !strings.HasPrefix(path, "/services/Soap/m/") || action != "deploy" {
		return nil, fmt.Errorf("unexpected SOAP call %s %s", path, action)
	}

	f.envelopes = append(f.envelopes, envelope)

	if f.submitErr != nil {
		return nil, f.submitErr
	}

	if len(f.submissions) == 0 {
		return nil, errors.New("no scripted submission left")
	}

	response := f.submissions[0]
	f.submissions = f.submissions[1:]

	return response, nil
}

func (f *fakeTransport) GetJSON(_ context.Context, path string) (*common.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := strings.TrimSuffix(path[strings.LastIndex(path, "/")+1:], "?includeDetails=true")

	responses := f.statuses[id]
	if len(responses) == 0 {
		return &common.Response{StatusCode: http.StatusNotFound, Body: []byte(`[{"message":"not found","errorCode":"NOT_FOUND"}]`)}, nil
	}

	call := f.statusCalls[id]
	f.statusCalls[id] = call + 1

	return responses[min(call, len(responses)-1)], nil
}

func (f *fakeTransport) PostJSON(_ context.Context, _ string, payload any) (*common.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.quickBodies = append(f.quickBodies, payload)

	return f.quick, nil
}

func (f *fakeTransport) AccessToken() string {
	return "session-1"
}

// submitted returns a SOAP deploy response carrying the job id.
func submitted(jobID string) *common.Response {
	body := `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" ` +
		`xmlns="http://soap.sforce.com/2006/04/metadata"><soapenv:Body><deployResponse><result>` +
		`<done>false</done><id>` + jobID + `</id><state>Queued</state>` +
		`</result></deployResponse></soapenv:Body></soapenv:Envelope>`

	return &common.Response{StatusCode: http.StatusOK, Body: []byte(body)}
}

// status returns a status response of a job.
func status(t *testing.T, jobID string, done bool, state string) *common.Response {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"id": jobID,
		"deployResult": map[string]any{
			"id":                       jobID,
			"done":                     done,
			"status":                   state,
			"numberComponentsDeployed": 1,
			"numberComponentsTotal":    2,
		},
	})
	require.NoError(t, err)

	return &common.Response{StatusCode: http.StatusOK, Body: body}
}

// writeArchive creates a placeholder archive file.
func writeArchive(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("PK\x05\x06"+strings.Repeat("\x00", 18)), 0o644))

	return path
}

// recordingSleeper records requested delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delays = append(r.delays, d)

	return nil
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Duration(nil), r.delays...)
}
