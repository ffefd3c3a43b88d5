package deploy

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/oshokin/metadeploy/internal/domain/deployment"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	metadataNS     = "http://soap.sforce.com/2006/04/metadata"
)

var errJobIDMissing = errors.New("response carries no job id")

type soapEnvelope struct {
	XMLName xml.Name   `xml:"soapenv:Envelope"`
	SoapNS  string     `xml:"xmlns:soapenv,attr"`
	MetNS   string     `xml:"xmlns:met,attr"`
	Header  soapHeader `xml:"soapenv:Header"`
	Body    soapBody   `xml:"soapenv:Body"`
}

type soapHeader struct {
	SessionID string `xml:"met:SessionHeader>met:sessionId"`
}

type soapBody struct {
	Deploy deployCall `xml:"met:deploy"`
}

type deployCall struct {
	ZipFile string        `xml:"met:ZipFile"`
	Options deployOptions `xml:"met:DeployOptions"`
}

// deployOptions keeps the field order the platform documents.
type deployOptions struct {
	AllowMissingFiles bool     `xml:"met:allowMissingFiles"`
	CheckOnly         bool     `xml:"met:checkOnly"`
	TestLevel         string   `xml:"met:testLevel"`
	RunTests          []string `xml:"met:runTests"`
	RollbackOnError   bool     `xml:"met:rollbackOnError"`
	SinglePackage     bool     `xml:"met:singlePackage"`
}

// BuildEnvelope renders the SOAP deploy call embedding the archive.
// runTests elements are emitted only for RunSpecifiedTests with a non-empty test list.
func BuildEnvelope(sessionID string, archive []byte, opts deployment.Options) ([]byte, error) {
	level := opts.TestLevel
	if level == "" {
		level = deployment.NoTestRun
	}

	doc := soapEnvelope{
		SoapNS: soapEnvelopeNS,
		MetNS:  metadataNS,
		Header: soapHeader{SessionID: sessionID},
		Body: soapBody{
			Deploy: deployCall{
				ZipFile: base64.StdEncoding.EncodeToString(archive),
				Options: deployOptions{
					AllowMissingFiles: opts.AllowMissingFiles,
					CheckOnly:         opts.CheckOnly,
					TestLevel:         string(level),
					RunTests:          opts.RunTests(),
					RollbackOnError:   opts.RollbackOnError,
					SinglePackage:     opts.SinglePackage,
				},
			},
		},
	}

	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal deploy envelope: %w", err)
	}

	return append([]byte(xml.Header), body...), nil
}

// ExtractJobID returns the text of the first id element of a deploy response.
func ExtractJobID(body []byte) (string, error) {
	id, err := firstElementText(body, "id")
	if err != nil {
		return "", err
	}

	if id == "" {
		return "", errJobIDMissing
	}

	return id, nil
}

// ExtractFault returns the SOAP fault string of a response, or "" when there is none.
func ExtractFault(body []byte) string {
	fault, err := firstElementText(body, "faultstring")
	if err != nil {
		return ""
	}

	return fault
}

// firstElementText scans the document for the first element with the given
// local name, whatever its prefix, and returns its trimmed character data.
func firstElementText(body []byte, local string) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return "", nil
		}

		if err != nil {
			return "", fmt.Errorf("scan response: %w", err)
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != local {
			continue
		}

		var text string
		if err = decoder.DecodeElement(&text, &start); err != nil {
			return "", fmt.Errorf("decode %s: %w", local, err)
		}

		return strings.TrimSpace(text), nil
	}
}
