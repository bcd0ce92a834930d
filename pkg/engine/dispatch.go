package engine

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/apicize/apicize-go/pkg/apicize"
	"github.com/apicize/apicize-go/pkg/workspace"
)

// DefaultRequestTimeout applies when a request does not set its own.
const DefaultRequestTimeout = 30 * time.Second

const nonASCIIHeader = "(Header Contains Non-ASCII Data)"

// dispatch builds an HTTP client from the resolved parameters, substitutes
// placeholders, applies authorization, sends the request and captures both
// sides of the exchange.
func (rc *RunnerContext) dispatch(
	ctx context.Context,
	request *workspace.Request,
	params *workspace.RequestParameters,
	variables map[string]any,
) (*DispatchRequest, *DispatchResponse, error) {
	method := strings.ToUpper(request.Method)
	if method == "" {
		method = workspace.MethodGet
	}
	switch method {
	case workspace.MethodGet, workspace.MethodPost, workspace.MethodPut,
		workspace.MethodDelete, workspace.MethodPatch, workspace.MethodHead,
		workspace.MethodOptions:
	default:
		return nil, nil, apicize.NewError("invalid method %q", request.Method)
	}

	subs := workspace.BuildSubstitutions(variables)
	requestURL := workspace.CloneAndSub(request.URL, subs)

	client, err := rc.buildClient(request, params)
	if err != nil {
		return nil, nil, err
	}

	body, contentType, err := buildBody(request.Body, subs)
	if err != nil {
		return nil, nil, err
	}

	httpRequest, err := http.NewRequestWithContext(ctx, method, requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, apicize.HTTPError(err, requestURL, "failed to build request")
	}

	for _, header := range request.Headers {
		if header.Disabled {
			continue
		}
		httpRequest.Header.Set(
			workspace.CloneAndSub(header.Name, subs),
			workspace.CloneAndSub(header.Value, subs),
		)
	}
	if contentType != "" && httpRequest.Header.Get("Content-Type") == "" {
		httpRequest.Header.Set("Content-Type", contentType)
	}

	if len(request.QueryStringParams) > 0 {
		query := httpRequest.URL.Query()
		for _, param := range request.QueryStringParams {
			if param.Disabled {
				continue
			}
			query.Add(
				workspace.CloneAndSub(param.Name, subs),
				workspace.CloneAndSub(param.Value, subs),
			)
		}
		httpRequest.URL.RawQuery = query.Encode()
	}

	oauthToken, err := rc.applyAuthorization(ctx, httpRequest, params)
	if err != nil {
		return nil, nil, err
	}

	dispatchRequest := &DispatchRequest{
		URL:       httpRequest.URL.String(),
		Method:    method,
		Headers:   flattenHeaders(httpRequest.Header),
		Body:      captureBody(body, "utf-8"),
		Variables: variables,
	}

	if rc.limiter != nil {
		if err := rc.limiter.Wait(ctx); err != nil {
			return dispatchRequest, nil, apicize.CancelledError()
		}
	}

	httpResponse, err := client.Do(httpRequest)
	if err != nil {
		return dispatchRequest, nil, classifyTransportError(err, dispatchRequest.URL)
	}
	defer httpResponse.Body.Close()

	responseBytes, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return dispatchRequest, nil, classifyTransportError(err, dispatchRequest.URL)
	}

	statusText := http.StatusText(httpResponse.StatusCode)
	if statusText == "" {
		statusText = "Unknown"
	}

	dispatchResponse := &DispatchResponse{
		Status:      httpResponse.StatusCode,
		StatusText:  statusText,
		Headers:     flattenHeaders(httpResponse.Header),
		Body:        captureBody(responseBytes, responseCharset(httpResponse.Header)),
		OAuth2Token: oauthToken,
	}
	return dispatchRequest, dispatchResponse, nil
}

// buildClient assembles the HTTP client for one dispatch: per-request
// timeout, TLS identity when a certificate resolved, and proxy when one
// resolved. Redirects follow the default policy.
func (rc *RunnerContext) buildClient(request *workspace.Request, params *workspace.RequestParameters) (*http.Client, error) {
	timeout := DefaultRequestTimeout
	if request.Timeout > 0 {
		timeout = time.Duration(request.Timeout) * time.Millisecond
	}

	transport := &http.Transport{}
	if certificate, ok := rc.workspace.Certificates.Get(params.CertificateID); ok {
		identity, err := certificate.TLSCertificate()
		if err != nil {
			return nil, apicize.HTTPError(err, request.URL, "failed to load client certificate")
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{identity}}
	}
	if proxy, ok := rc.workspace.Proxies.Get(params.ProxyID); ok {
		proxyFunc, err := proxy.ProxyFunc()
		if err != nil {
			return nil, apicize.HTTPError(err, request.URL, "failed to configure proxy")
		}
		transport.Proxy = proxyFunc
	}

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

func buildBody(body *workspace.RequestBody, subs map[string]string) ([]byte, string, error) {
	if body == nil {
		return nil, "", nil
	}
	switch body.Type {
	case workspace.BodyText:
		return []byte(workspace.CloneAndSub(body.Data, subs)), "", nil
	case workspace.BodyJSON:
		return []byte(workspace.CloneAndSub(body.Data, subs)), "application/json", nil
	case workspace.BodyXML:
		return []byte(workspace.CloneAndSub(body.Data, subs)), "application/xml", nil
	case workspace.BodyForm:
		form := url.Values{}
		for _, field := range body.Form {
			if !field.Disabled {
				form.Add(field.Name, field.Value)
			}
		}
		return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
	case workspace.BodyRaw:
		return body.Raw, "", nil
	default:
		return nil, "", apicize.NewError("unknown body type %q", body.Type)
	}
}

// applyAuthorization attaches the resolved authorization to the outgoing
// request, returning the token result when the OAuth2 client flow ran.
func (rc *RunnerContext) applyAuthorization(
	ctx context.Context,
	httpRequest *http.Request,
	params *workspace.RequestParameters,
) (*TokenResult, error) {
	auth, ok := rc.workspace.Authorizations.Get(params.AuthorizationID)
	if !ok {
		return nil, nil
	}

	switch auth.Type {
	case workspace.AuthBasic:
		httpRequest.SetBasicAuth(auth.Username, auth.Password)
		return nil, nil
	case workspace.AuthAPIKey:
		httpRequest.Header.Set(auth.Header, auth.Value)
		return nil, nil
	case workspace.AuthOAuth2Client:
		certificate, _ := rc.workspace.Certificates.Get(params.AuthCertificateID)
		proxy, _ := rc.workspace.Proxies.Get(params.AuthProxyID)
		token, err := rc.oauth.ClientCredentials(ctx, auth, certificate, proxy, rc.enableTrace)
		if err != nil {
			return nil, err
		}
		httpRequest.Header.Set("Authorization", "Bearer "+token.Token)
		return token, nil
	case workspace.AuthOAuth2Pkce:
		if auth.Token == "" {
			return nil, apicize.NewError("PKCE access token is not available")
		}
		httpRequest.Header.Set("Authorization", "Bearer "+auth.Token)
		return nil, nil
	default:
		return nil, apicize.NewError("unknown authorization type %q", auth.Type)
	}
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	flattened := make(map[string]string, len(headers))
	for name, values := range headers {
		joined := strings.Join(values, ", ")
		if !utf8.ValidString(joined) {
			joined = nonASCIIHeader
		}
		flattened[name] = joined
	}
	return flattened
}

// captureBody keeps the raw bytes and, when they decode cleanly under the
// response charset (UTF-8 otherwise), the text rendition.
func captureBody(data []byte, charset string) *BodyCapture {
	if len(data) == 0 {
		return nil
	}
	capture := &BodyCapture{Data: data}

	decoded := data
	if charset != "" && !strings.EqualFold(charset, "utf-8") {
		if enc, err := htmlindex.Get(charset); err == nil {
			if converted, err := enc.NewDecoder().Bytes(data); err == nil {
				decoded = converted
			}
		}
	}
	if utf8.Valid(decoded) {
		capture.Text = string(decoded)
	}
	return capture
}

func responseCharset(headers http.Header) string {
	contentType := headers.Get("Content-Type")
	if contentType == "" {
		return "utf-8"
	}
	if _, mediaParams, err := mime.ParseMediaType(contentType); err == nil {
		if charset, ok := mediaParams["charset"]; ok {
			return charset
		}
	}
	return "utf-8"
}

// classifyTransportError maps Go HTTP client failures onto the engine error
// taxonomy: deadline overruns become Timeout, cancellation becomes
// Cancelled, and everything else is an HTTP transport error.
func classifyTransportError(err error, requestURL string) *apicize.Error {
	if errors.Is(err, context.Canceled) {
		return apicize.CancelledError()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return apicize.TimeoutError(requestURL)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apicize.TimeoutError(requestURL)
	}
	return apicize.HTTPError(err, requestURL, "")
}
