package packager

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oshokin/metadeploy/internal/service/deploy"
)

const (
	testAPIVersion  = "58.0"
	quickDeployedID = "0AfQUICK000001"
)

// fakeOrg serves the deploy, status and quick deploy resources of one org.
type fakeOrg struct {
	mu        sync.Mutex
	server    *httptest.Server
	envelopes []string
	quick     []string
	// statusOf returns the final status of a job, Succeeded when nil.
	statusOf func(jobID string) string
}

func newFakeOrg(t *testing.T) *fakeOrg {
	t.Helper()

	org := new(fakeOrg)
	org.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org.serve(t, w, r)
	}))
	t.Cleanup(org.server.Close)

	return org
}

// jobID returns the id assigned to the n-th submission, starting at one.
func jobID(n int) string {
	return "0Af00000000000" + strconv.Itoa(n)
}

func (o *fakeOrg) serve(t *testing.T, w http.ResponseWriter, r *http.Request) {
	requestPrefix := "/services/data/v" + testAPIVersion + "/metadata/deployRequest/"

	body, err := io.ReadAll(r.Body)
	assert.NoError(t, err)

	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/services/Soap/m/"+testAPIVersion:
		o.envelopes = append(o.envelopes, string(body))

		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" `+
			`xmlns="http://soap.sforce.com/2006/04/metadata"><soapenv:Body><deployResponse><result>`+
			`<done>false</done><id>`+jobID(len(o.envelopes))+`</id><state>Queued</state>`+
			`</result></deployResponse></soapenv:Body></soapenv:Envelope>`)
	case r.Method == http.MethodPost && r.URL.Path == requestPrefix+"validatedDeployRequestId":
		var payload map[string]string

		assert.NoError(t, json.Unmarshal(body, &payload))

		o.quick = append(o.quick, payload["validatedDeployRequestId"])

		writeJSON(t, w, map[string]any{"id": quickDeployedID})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, requestPrefix):
		id := strings.TrimPrefix(r.URL.Path, requestPrefix)

		status := "Succeeded"
		if o.statusOf != nil {
			status = o.statusOf(id)
		}

		writeJSON(t, w, map[string]any{
			"id": id,
			"deployResult": map[string]any{
				"id":                       id,
				"done":                     true,
				"status":                   status,
				"numberComponentsDeployed": 1,
				"numberComponentsTotal":    1,
			},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (o *fakeOrg) Envelopes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string(nil), o.envelopes...)
}

func (o *fakeOrg) QuickDeploys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string(nil), o.quick...)
}

func writeJSON(t *testing.T, w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(payload))
}

// noWait is a track option skipping every poll delay.
func noWait() deploy.TrackOption {
	return deploy.WithSleeper(func(context.Context, time.Duration) error { return nil })
}
