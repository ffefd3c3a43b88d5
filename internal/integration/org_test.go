package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// org is an in-memory stand-in for the metadata API of one org.
type org struct {
	mu          sync.Mutex
	server      *httptest.Server
	submissions []string
	validated   []string
}

func startOrg(t *testing.T, apiVersion string) *org {
	t.Helper()

	o := new(org)
	deployRequests := "/services/data/v" + apiVersion + "/metadata/deployRequest/"

	mux := http.NewServeMux()
	mux.HandleFunc("POST /services/Soap/m/"+apiVersion, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "deploy", strings.Trim(r.Header.Get("SOAPAction"), `"`))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		o.mu.Lock()
		o.submissions = append(o.submissions, string(body))
		id := "0Af" + strconv.Itoa(len(o.submissions))
		o.mu.Unlock()

		_, _ = io.WriteString(w, `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">`+
			`<soapenv:Body><deployResponse xmlns="http://soap.sforce.com/2006/04/metadata"><result>`+
			`<id>`+id+`</id><state>Queued</state></result></deployResponse></soapenv:Body></soapenv:Envelope>`)
	})
	mux.HandleFunc("POST "+deployRequests+"validatedDeployRequestId", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			ID string `json:"validatedDeployRequestId"`
		}

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		o.mu.Lock()
		o.validated = append(o.validated, payload.ID)
		o.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]string{"id": "0AfQuick"})
	})
	mux.HandleFunc("GET "+deployRequests+"{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("includeDetails"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": r.PathValue("id"),
			"deployResult": map[string]any{
				"id":                       r.PathValue("id"),
				"done":                     true,
				"status":                   "Succeeded",
				"numberComponentsDeployed": 2,
				"numberComponentsTotal":    2,
			},
		})
	})

	o.server = httptest.NewServer(mux)
	t.Cleanup(o.server.Close)

	return o
}

func (o *org) Submissions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string(nil), o.submissions...)
}

func (o *org) Validated() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string(nil), o.validated...)
}
