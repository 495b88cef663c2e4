package restbinary

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"entitybridge/internal/template"
)

// Fetcher performs the HTTP request for one sensor: it renders the resource
// URL, headers and params, applies authentication and returns the response
// body.
type Fetcher struct {
	cfg         Config
	client      *http.Client
	urlTmpl     *template.Template
	headerTmpls map[string]*template.Template
	paramTmpls  map[string]*template.Template
}

// NewFetcher compiles the request templates and builds the HTTP client
func NewFetcher(cfg Config) (*Fetcher, error) {
	f := &Fetcher{
		cfg:         cfg,
		headerTmpls: make(map[string]*template.Template),
		paramTmpls:  make(map[string]*template.Template),
	}

	raw := cfg.Resource
	if cfg.ResourceTemplate != "" {
		raw = cfg.ResourceTemplate
	}
	urlTmpl, err := template.New(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid resource template: %w", err)
	}
	f.urlTmpl = urlTmpl

	for name, value := range cfg.Headers {
		tmpl, err := template.New(value)
		if err != nil {
			return nil, fmt.Errorf("invalid header template %s: %w", name, err)
		}
		f.headerTmpls[name] = tmpl
	}
	for name, value := range cfg.Params {
		tmpl, err := template.New(value)
		if err != nil {
			return nil, fmt.Errorf("invalid param template %s: %w", name, err)
		}
		f.paramTmpls[name] = tmpl
	}

	transport := http.DefaultTransport
	if cfg.SkipTLSVerify() {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	f.client = &http.Client{
		Timeout:   cfg.Timeout(),
		Transport: transport,
	}

	return f, nil
}

// Fetch performs one request and returns the response body. Any transport
// failure or non-2xx status is an error; the sensor maps those to
// unavailable.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	req, err := f.buildRequest(ctx)
	if err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}

	// Digest auth answers the 401 challenge with a second request
	if resp.StatusCode == http.StatusUnauthorized && f.cfg.Authentication == AuthDigest {
		challenge := resp.Header.Get("WWW-Authenticate")
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if !strings.HasPrefix(challenge, "Digest ") {
			return "", fmt.Errorf("expected digest challenge, got %q", challenge)
		}

		retry, err := f.buildRequest(ctx)
		if err != nil {
			return "", err
		}
		auth, err := digestAuthorization(challenge, retry.Method, retry.URL.RequestURI(), f.cfg.Username, f.cfg.Password)
		if err != nil {
			return "", err
		}
		retry.Header.Set("Authorization", auth)

		resp, err = f.client.Do(retry)
		if err != nil {
			return "", fmt.Errorf("request failed: %w", err)
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return string(body), nil
}

// buildRequest renders the URL, params, headers and body for one poll
func (f *Fetcher) buildRequest(ctx context.Context) (*http.Request, error) {
	resource, err := f.urlTmpl.RenderValue("")
	if err != nil {
		return nil, fmt.Errorf("failed to render resource: %w", err)
	}

	parsed, err := url.Parse(resource)
	if err != nil {
		return nil, fmt.Errorf("invalid resource %q: %w", resource, err)
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("resource %q has no scheme", resource)
	}

	if len(f.paramTmpls) > 0 {
		query := parsed.Query()
		for name, tmpl := range f.paramTmpls {
			value, err := tmpl.RenderValue("")
			if err != nil {
				return nil, fmt.Errorf("failed to render param %s: %w", name, err)
			}
			query.Set(name, value)
		}
		parsed.RawQuery = query.Encode()
	}

	var body io.Reader
	if f.cfg.Method == http.MethodPost && f.cfg.Payload != "" {
		body = strings.NewReader(f.cfg.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, f.cfg.Method, parsed.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for name, tmpl := range f.headerTmpls {
		value, err := tmpl.RenderValue("")
		if err != nil {
			return nil, fmt.Errorf("failed to render header %s: %w", name, err)
		}
		req.Header.Set(name, value)
	}

	if f.cfg.Authentication == AuthBasic {
		req.SetBasicAuth(f.cfg.Username, f.cfg.Password)
	}

	return req, nil
}

// digestAuthorization builds an Authorization header answering an RFC 7616
// MD5 challenge (with or without qop=auth).
func digestAuthorization(challenge, method, uri, username, password string) (string, error) {
	params := parseDigestChallenge(challenge)

	realm := params["realm"]
	nonce := params["nonce"]
	if nonce == "" {
		return "", fmt.Errorf("digest challenge missing nonce")
	}

	md5hex := func(s string) string {
		sum := md5.Sum([]byte(s))
		return hex.EncodeToString(sum[:])
	}

	ha1 := md5hex(username + ":" + realm + ":" + password)
	ha2 := md5hex(method + ":" + uri)

	var response string
	fields := []string{
		fmt.Sprintf("username=%q", username),
		fmt.Sprintf("realm=%q", realm),
		fmt.Sprintf("nonce=%q", nonce),
		fmt.Sprintf("uri=%q", uri),
	}

	if strings.Contains(params["qop"], "auth") {
		cnonce := strings.ReplaceAll(uuid.NewString(), "-", "")
		nc := "00000001"
		response = md5hex(ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":auth:" + ha2)
		fields = append(fields,
			"qop=auth",
			"nc="+nc,
			fmt.Sprintf("cnonce=%q", cnonce))
	} else {
		response = md5hex(ha1 + ":" + nonce + ":" + ha2)
	}

	fields = append(fields, fmt.Sprintf("response=%q", response))
	if opaque, ok := params["opaque"]; ok {
		fields = append(fields, fmt.Sprintf("opaque=%q", opaque))
	}

	return "Digest " + strings.Join(fields, ", "), nil
}

// parseDigestChallenge splits a WWW-Authenticate digest header into its
// key/value parameters.
func parseDigestChallenge(challenge string) map[string]string {
	params := make(map[string]string)
	challenge = strings.TrimPrefix(challenge, "Digest ")

	for _, part := range splitChallengeParams(challenge) {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		params[strings.ToLower(key)] = strings.Trim(value, `"`)
	}
	return params
}

// splitChallengeParams splits on commas outside quoted values
func splitChallengeParams(s string) []string {
	var parts []string
	var b strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			b.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}
