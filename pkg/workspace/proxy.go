package workspace

import (
	"fmt"
	"net/http"
	"net/url"
)

// Proxy routes dispatched requests through an HTTP or SOCKS5 proxy server.
type Proxy struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

func (p *Proxy) GetID() string    { return p.ID }
func (p *Proxy) GetName() string  { return p.Name }
func (p *Proxy) GetTitle() string { return titleOf(p.ID, p.Name) }

// ProxyFunc parses the proxy URL into the function net/http transports use.
// The http, https and socks5 schemes are all handled by the transport.
func (p *Proxy) ProxyFunc() (func(*http.Request) (*url.URL, error), error) {
	parsed, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", p.URL, err)
	}
	return http.ProxyURL(parsed), nil
}
