// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package computefake answers compute API requests from an in-memory route
// table.
package computefake

import (
	"encoding/json"
	"net/http"
	"sync"

	gooseerrors "github.com/go-goose/goose/v5/errors"
	goosehttp "github.com/go-goose/goose/v5/http"
)

// Request is one recorded request.
type Request struct {
	Method     string
	Service    string
	APIVersion string
	URL        string
	Headers    http.Header
	Params     string
	Body       string
}

// Fake routes requests keyed by "METHOD url", e.g. "GET servers/abc".
// Unrouted requests fail with a goose not-found error.
type Fake struct {
	mu       sync.Mutex
	routes   map[string]func() (any, error)
	requests []Request
}

func New() *Fake {
	return &Fake{routes: make(map[string]func() (any, error))}
}

// On routes key to fn. The value returned by fn is decoded into the
// response value of the request.
func (f *Fake) On(key string, fn func() (any, error)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[key] = fn
	return f
}

// Reply routes key to a constant response.
func (f *Fake) Reply(key string, v any) *Fake {
	return f.On(key, func() (any, error) { return v, nil })
}

// Requests returns every request received so far.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// Count returns how many requests matched key.
func (f *Fake) Count(key string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Method+" "+r.URL == key {
			n++
		}
	}
	return n
}

func (f *Fake) SendRequest(method, svcType, apiVersion, url string, data *goosehttp.RequestData) error {
	r := Request{Method: method, Service: svcType, APIVersion: apiVersion, URL: url}
	if data != nil {
		r.Headers = data.ReqHeaders
		if data.Params != nil {
			r.Params = data.Params.Encode()
		}
		if data.ReqValue != nil {
			b, err := json.Marshal(data.ReqValue)
			if err != nil {
				return err
			}
			r.Body = string(b)
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, r)
	fn, ok := f.routes[method+" "+url]
	f.mu.Unlock()

	if !ok {
		return gooseerrors.NewNotFoundf(nil, nil, "no route for %s %s", method, url)
	}

	v, err := fn()
	if err != nil || v == nil || data == nil || data.RespValue == nil {
		return err
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, data.RespValue)
}
