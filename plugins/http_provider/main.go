// Command http_provider is a provider plugin that maps library paths onto
// a plain HTTP origin configured by the base_url setting.
package main

import (
	"context"
	"encoding/json"
	"mime"
	"net/url"
	"path"
	"strings"

	plugins "github.com/mantonx/redseat/sdk"
)

type settings struct {
	BaseURL string            `json:"base_url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type fileParams struct {
	Path  string `json:"path"`
	Range string `json:"range,omitempty"`
}

type fileRequest struct {
	URL      string            `json:"url"`
	Mime     *string           `json:"mime,omitempty"`
	Filename *string           `json:"filename,omitempty"`
	Status   string            `json:"status"`
	Headers  map[string]string `json:"headers,omitempty"`
}

func main() {
	plugins.Serve(newMux())
}

func newMux() plugins.Mux {
	m := plugins.Mux{}
	m.Handle(plugins.FuncProviderGetFile, getFile)
	return m
}

func getFile(_ context.Context, in *plugins.Input) (interface{}, error) {
	var p fileParams
	if err := in.Bind(&p); err != nil {
		return nil, err
	}

	var s settings
	if len(in.Settings) > 0 {
		if err := json.Unmarshal(in.Settings, &s); err != nil {
			return nil, plugins.Errorf(plugins.CodeBadRequest, "invalid settings: %v", err)
		}
	}
	if s.BaseURL == "" {
		return nil, plugins.Errorf(plugins.CodeBadRequest, "base_url setting is required")
	}

	target, err := resolve(s.BaseURL, p.Path)
	if err != nil {
		return nil, err
	}

	name := path.Base(p.Path)
	req := fileRequest{URL: target, Filename: &name, Status: "ready"}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		req.Mime = &t
	}

	req.Headers = map[string]string{}
	for k, v := range s.Headers {
		req.Headers[k] = v
	}
	if in.Credential != nil && in.Credential.Token != nil {
		req.Headers["Authorization"] = "Bearer " + *in.Credential.Token
	}
	if len(req.Headers) == 0 {
		req.Headers = nil
	}
	return req, nil
}

// resolve joins key onto base. Keys escaping the base are unknown files.
func resolve(base, key string) (string, error) {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", plugins.Errorf(plugins.CodeBadRequest, "invalid base_url %q", base)
	}
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", plugins.NotFound("no file at %q", key)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + clean
	return u.String(), nil
}
