package metadata

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Session is an authenticated connection to one org. All calls share a rate
// limiter so bulk operations stay inside the org's API call budget.
type Session struct {
	InstanceURL string
	APIVersion  string

	sessionID string
	client    *http.Client
	limiter   *rate.Limiter
}

// flexBool accepts the textual and boolean spellings the remote uses
// interchangeably for done-flags.
type flexBool bool

func (b *flexBool) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := d.DecodeElement(&s, &start); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// Login authenticates against loginURL and returns a session bound to the
// org's instance endpoint. secret is the password with any security token
// appended.
func Login(ctx context.Context, loginURL, username, secret, apiVersion string, callsPerSec float64) (*Session, error) {
	client := &http.Client{Timeout: 60 * time.Second}

	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:urn="urn:partner.soap.sforce.com">
  <soapenv:Body>
    <urn:login>
      <urn:username>%s</urn:username>
      <urn:password>%s</urn:password>
    </urn:login>
  </soapenv:Body>
</soapenv:Envelope>`, xmlEscape(username), xmlEscape(secret))

	endpoint := strings.TrimRight(loginURL, "/") + "/services/Soap/u/" + apiVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", `""`)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read login response: %w", err)
	}

	var parsed struct {
		Fault struct {
			String string `xml:"faultstring"`
		} `xml:"Body>Fault"`
		Result struct {
			SessionID string `xml:"sessionId"`
			ServerURL string `xml:"serverUrl"`
		} `xml:"Body>loginResponse>result"`
	}
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if parsed.Fault.String != "" {
		return nil, fmt.Errorf("%w: %s", ErrAuth, parsed.Fault.String)
	}
	if parsed.Result.SessionID == "" {
		return nil, fmt.Errorf("%w: no session in response (HTTP %d)", ErrAuth, resp.StatusCode)
	}

	instance, err := instanceFromServerURL(parsed.Result.ServerURL)
	if err != nil {
		return nil, err
	}

	if callsPerSec <= 0 {
		callsPerSec = 5
	}
	return &Session{
		InstanceURL: instance,
		APIVersion:  apiVersion,
		sessionID:   parsed.Result.SessionID,
		client:      client,
		limiter:     rate.NewLimiter(rate.Limit(callsPerSec), 1),
	}, nil
}

func instanceFromServerURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: bad server url %q", ErrAuth, serverURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// call posts a metadata API request body and returns the raw response.
func (s *Session) call(ctx context.Context, action, inner string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:met="http://soap.sforce.com/2006/04/metadata">
  <soapenv:Header>
    <met:SessionHeader><met:sessionId>%s</met:sessionId></met:SessionHeader>
  </soapenv:Header>
  <soapenv:Body>%s</soapenv:Body>
</soapenv:Envelope>`, xmlEscape(s.sessionID), inner)

	endpoint := s.InstanceURL + "/services/Soap/m/" + s.APIVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", `""`)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", action, err)
	}

	var fault struct {
		String string `xml:"Body>Fault>faultstring"`
	}
	if err := xml.Unmarshal(data, &fault); err == nil && fault.String != "" {
		return nil, fmt.Errorf("%s: %s", action, fault.String)
	}
	return data, nil
}

// List enumerates components of one type, optionally scoped to a folder.
// A single-item response decodes to a one-element slice.
func (s *Session) List(ctx context.Context, componentType, folder string) ([]ListedComponent, error) {
	folderElem := ""
	if folder != "" {
		folderElem = "<met:folder>" + xmlEscape(folder) + "</met:folder>"
	}
	inner := fmt.Sprintf(`<met:listMetadata>
  <met:queries><met:type>%s</met:type>%s</met:queries>
  <met:asOfVersion>%s</met:asOfVersion>
</met:listMetadata>`, xmlEscape(componentType), folderElem, s.APIVersion)

	data, err := s.call(ctx, "listMetadata", inner)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []struct {
			FullName         string `xml:"fullName"`
			ID               string `xml:"id"`
			LastModifiedDate string `xml:"lastModifiedDate"`
		} `xml:"Body>listMetadataResponse>result"`
	}
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}

	out := make([]ListedComponent, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		out = append(out, ListedComponent{
			FullName:         r.FullName,
			ID:               r.ID,
			LastModifiedDate: r.LastModifiedDate,
		})
	}
	return out, nil
}

// Retrieve submits an unpackaged retrieve and returns its async request id.
func (s *Session) Retrieve(ctx context.Context, pkg Package) (string, error) {
	var types strings.Builder
	for _, t := range pkg.Types {
		types.WriteString("<met:types>")
		for _, m := range t.Members {
			types.WriteString("<met:members>" + xmlEscape(m) + "</met:members>")
		}
		types.WriteString("<met:name>" + xmlEscape(t.Name) + "</met:name></met:types>")
	}
	version := pkg.Version
	if version == "" {
		version = s.APIVersion
	}
	inner := fmt.Sprintf(`<met:retrieve>
  <met:retrieveRequest>
    <met:apiVersion>%s</met:apiVersion>
    <met:unpackaged>%s<met:version>%s</met:version></met:unpackaged>
  </met:retrieveRequest>
</met:retrieve>`, version, types.String(), version)

	data, err := s.call(ctx, "retrieve", inner)
	if err != nil {
		return "", err
	}

	var parsed struct {
		ID string `xml:"Body>retrieveResponse>result>id"`
	}
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode retrieve response: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("retrieve: no request id returned")
	}
	return parsed.ID, nil
}

// CheckRetrieveStatus reads the live state of a retrieve job.
func (s *Session) CheckRetrieveStatus(ctx context.Context, id string) (*RetrieveResult, error) {
	inner := fmt.Sprintf(`<met:checkRetrieveStatus><met:asyncProcessId>%s</met:asyncProcessId></met:checkRetrieveStatus>`, xmlEscape(id))
	data, err := s.call(ctx, "checkRetrieveStatus", inner)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Result struct {
			Done    flexBool `xml:"done"`
			Status  string   `xml:"status"`
			ZipFile string   `xml:"zipFile"`
		} `xml:"Body>checkRetrieveStatusResponse>result"`
	}
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode retrieve status: %w", err)
	}
	return &RetrieveResult{
		Done:    bool(parsed.Result.Done),
		Status:  parsed.Result.Status,
		ZipFile: parsed.Result.ZipFile,
	}, nil
}

// Deploy submits a base64 package archive and returns the deploy job id.
func (s *Session) Deploy(ctx context.Context, zipBase64 string, opts DeployOptions) (string, error) {
	var optFields strings.Builder
	fmt.Fprintf(&optFields, "<met:checkOnly>%t</met:checkOnly>", opts.CheckOnly)
	fmt.Fprintf(&optFields, "<met:rollbackOnError>%t</met:rollbackOnError>", opts.RollbackOnError)
	fmt.Fprintf(&optFields, "<met:singlePackage>%t</met:singlePackage>", opts.SinglePackage)
	if opts.TestLevel != "" {
		fmt.Fprintf(&optFields, "<met:testLevel>%s</met:testLevel>", xmlEscape(opts.TestLevel))
		for _, tn := range opts.RunTests {
			fmt.Fprintf(&optFields, "<met:runTests>%s</met:runTests>", xmlEscape(tn))
		}
	}
	inner := fmt.Sprintf(`<met:deploy>
  <met:ZipFile>%s</met:ZipFile>
  <met:DeployOptions>%s</met:DeployOptions>
</met:deploy>`, zipBase64, optFields.String())

	data, err := s.call(ctx, "deploy", inner)
	if err != nil {
		return "", err
	}

	var parsed struct {
		ID string `xml:"Body>deployResponse>result>id"`
	}
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode deploy response: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("deploy: no job id returned")
	}
	return parsed.ID, nil
}

// CheckDeployStatus reads the live state of a deploy job.
func (s *Session) CheckDeployStatus(ctx context.Context, id string, includeDetails bool) (*DeployResult, error) {
	inner := fmt.Sprintf(`<met:checkDeployStatus>
  <met:asyncProcessId>%s</met:asyncProcessId>
  <met:includeDetails>%t</met:includeDetails>
</met:checkDeployStatus>`, xmlEscape(id), includeDetails)

	data, err := s.call(ctx, "checkDeployStatus", inner)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Result struct {
			ID           string   `xml:"id"`
			Done         flexBool `xml:"done"`
			Success      flexBool `xml:"success"`
			Status       string   `xml:"status"`
			ErrorMessage string   `xml:"errorMessage"`
			Failures     []struct {
				FullName      string `xml:"fullName"`
				ComponentType string `xml:"componentType"`
				Problem       string `xml:"problem"`
			} `xml:"details>componentFailures"`
		} `xml:"Body>checkDeployStatusResponse>result"`
	}
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode deploy status: %w", err)
	}

	res := &DeployResult{
		ID:           parsed.Result.ID,
		Done:         bool(parsed.Result.Done),
		Success:      bool(parsed.Result.Success),
		Status:       parsed.Result.Status,
		ErrorMessage: parsed.Result.ErrorMessage,
	}
	for _, f := range parsed.Result.Failures {
		res.ComponentFailures = append(res.ComponentFailures, ComponentFailure{
			FullName:      f.FullName,
			ComponentType: f.ComponentType,
			Problem:       f.Problem,
		})
	}
	return res, nil
}
