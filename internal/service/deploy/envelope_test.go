package deploy

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/metadeploy/internal/domain/deployment"
)

// TestBuildEnvelope checks the header, archive and option elements of a deploy call.
func TestBuildEnvelope(t *testing.T) {
	t.Parallel()

	opts := deployment.NewOptions()
	opts.CheckOnly = true
	opts.TestLevel = deployment.RunSpecifiedTests
	opts.SpecifiedTests = []string{"ATest", "BTest"}

	envelope, err := BuildEnvelope("session-1", []byte("zip-bytes"), opts)
	require.NoError(t, err)

	doc := string(envelope)
	require.True(t, strings.HasPrefix(doc, `<?xml version="1.0" encoding="UTF-8"?>`))
	require.Contains(t, doc, `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" `+
		`xmlns:met="http://soap.sforce.com/2006/04/metadata">`)
	require.Contains(t, doc, `<soapenv:Header><met:SessionHeader><met:sessionId>session-1</met:sessionId>`+
		`</met:SessionHeader></soapenv:Header>`)
	require.Contains(t, doc, `<met:ZipFile>`+base64.StdEncoding.EncodeToString([]byte("zip-bytes"))+`</met:ZipFile>`)
	require.Contains(t, doc, `<met:DeployOptions>`+
		`<met:allowMissingFiles>false</met:allowMissingFiles>`+
		`<met:checkOnly>true</met:checkOnly>`+
		`<met:testLevel>RunSpecifiedTests</met:testLevel>`+
		`<met:runTests>ATest</met:runTests>`+
		`<met:runTests>BTest</met:runTests>`+
		`<met:rollbackOnError>true</met:rollbackOnError>`+
		`<met:singlePackage>true</met:singlePackage>`+
		`</met:DeployOptions>`)
}

// TestBuildEnvelope_RunTestsOnlyForSpecifiedLevel omits runTests for every other level.
func TestBuildEnvelope_RunTestsOnlyForSpecifiedLevel(t *testing.T) {
	t.Parallel()

	opts := deployment.NewOptions()
	opts.TestLevel = deployment.RunLocalTests
	opts.SpecifiedTests = []string{"ATest"}

	envelope, err := BuildEnvelope("s", nil, opts)
	require.NoError(t, err)
	require.NotContains(t, string(envelope), "runTests")
	require.Contains(t, string(envelope), "<met:testLevel>RunLocalTests</met:testLevel>")

	opts.TestLevel = deployment.RunSpecifiedTests
	opts.SpecifiedTests = nil

	envelope, err = BuildEnvelope("s", nil, opts)
	require.NoError(t, err)
	require.NotContains(t, string(envelope), "runTests")

	envelope, err = BuildEnvelope("s", nil, deployment.Options{})
	require.NoError(t, err)
	require.Contains(t, string(envelope), "<met:testLevel>NoTestRun</met:testLevel>")
}

// TestExtractJobID finds the id element whatever its namespace.
func TestExtractJobID(t *testing.T) {
	t.Parallel()

	id, err := ExtractJobID(submitted("0Af5g00000ABCDE").Body)
	require.NoError(t, err)
	require.Equal(t, "0Af5g00000ABCDE", id)

	_, err = ExtractJobID([]byte(`<Envelope><Body><result><done>false</done></result></Body></Envelope>`))
	require.ErrorIs(t, err, errJobIDMissing)

	_, err = ExtractJobID([]byte(`<Envelope><id>`))
	require.Error(t, err)
}

// TestExtractFault returns the fault string of a SOAP fault.
func TestExtractFault(t *testing.T) {
	t.Parallel()

	body := []byte(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<soapenv:Body><soapenv:Fault><faultcode>sf:INVALID_SESSION_ID</faultcode>` +
		`<faultstring>INVALID_SESSION_ID: Invalid Session ID found in SessionHeader</faultstring>` +
		`</soapenv:Fault></soapenv:Body></soapenv:Envelope>`)

	require.Equal(t, "INVALID_SESSION_ID: Invalid Session ID found in SessionHeader", ExtractFault(body))
	require.Empty(t, ExtractFault(submitted("0Af").Body))
	require.Empty(t, ExtractFault([]byte("not xml <")))
}
