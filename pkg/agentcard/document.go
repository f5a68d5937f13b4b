package agentcard

import (
	"encoding/json"
	"errors"
	"strings"
)

// Document is a capability document as published by an agent. It is read-only and
// kept untyped so unknown fields survive round trips.
type Document map[string]any

type Interface struct {
	Transport string
	URL       string
}

var errNotObject = errors.New("agent card is not a JSON object")

func Parse(data []byte) (Document, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return Document(m), nil
}

func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return strings.TrimSpace(s)
}

func (d Document) Name() string        { return d.String("name") }
func (d Document) Description() string { return d.String("description") }
func (d Document) Version() string     { return d.String("version") }
func (d Document) URL() string         { return d.String("url") }

func (d Document) Endpoints() (map[string]any, bool) {
	m, ok := d["endpoints"].(map[string]any)
	return m, ok
}

func (d Document) JSONRPCEndpoint() string {
	endpoints, ok := d.Endpoints()
	if !ok {
		return ""
	}
	s, _ := endpoints["jsonrpc"].(string)
	return strings.TrimSpace(s)
}

// Skills returns the skills array and whether the field holds an array at all.
func (d Document) Skills() ([]map[string]any, bool) {
	raw, ok := d["skills"].([]any)
	if !ok {
		return nil, false
	}
	skills := make([]map[string]any, 0, len(raw))
	for _, s := range raw {
		m, _ := s.(map[string]any)
		skills = append(skills, m)
	}
	return skills, true
}

func (d Document) SkillDiscoveryURLs() []string {
	skills, _ := d.Skills()
	var urls []string
	for _, s := range skills {
		disc, ok := s["discovery"].(map[string]any)
		if !ok {
			continue
		}
		if u, _ := disc["url"].(string); strings.TrimSpace(u) != "" {
			urls = append(urls, strings.TrimSpace(u))
		}
	}
	return urls
}

func (d Document) Interfaces() []Interface {
	raw, ok := d["additionalInterfaces"].([]any)
	if !ok {
		return nil
	}
	var out []Interface
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t, _ := m["transport"].(string)
		u, _ := m["url"].(string)
		out = append(out, Interface{Transport: strings.TrimSpace(t), URL: strings.TrimSpace(u)})
	}
	return out
}

func (d Document) Streaming() bool {
	caps, ok := d["capabilities"].(map[string]any)
	if !ok {
		return false
	}
	s, _ := caps["streaming"].(bool)
	return s
}
