package agentcard

import "fmt"

type Result struct {
	Valid    bool     `json:"valid" yaml:"valid"`
	Issues   []string `json:"issues" yaml:"issues"`
	Warnings []string `json:"warnings" yaml:"warnings"`
	Score    int      `json:"score" yaml:"score"`
}

var requiredFields = []string{"name", "description", "version", "capabilities"}

func Validate(doc Document) Result {
	res := Result{Issues: []string{}, Warnings: []string{}}

	for _, f := range requiredFields {
		if !present(doc[f]) {
			res.Issues = append(res.Issues, fmt.Sprintf("missing required field %q", f))
		}
	}

	endpoints, hasEndpoints := doc.Endpoints()
	jsonrpc := doc.JSONRPCEndpoint()
	discovery := doc.SkillDiscoveryURLs()
	switch {
	case jsonrpc == "" && len(discovery) == 0:
		res.Issues = append(res.Issues, "no endpoint: need endpoints.jsonrpc or skills[].discovery.url")
	case hasEndpoints && jsonrpc == "":
		res.Warnings = append(res.Warnings, fmt.Sprintf("endpoints has %d entries but no jsonrpc url", len(endpoints)))
	}

	if doc.Has("skills") {
		skills, ok := doc.Skills()
		if !ok {
			res.Issues = append(res.Issues, "skills must be an array")
		}
		for i, s := range skills {
			if id, _ := s["id"].(string); id == "" {
				res.Issues = append(res.Issues, fmt.Sprintf("skills[%d] has no id", i))
			}
		}
	}

	res.Score = max(0, 100-20*len(res.Issues)-5*len(res.Warnings))
	res.Valid = len(res.Issues) == 0
	return res
}

func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	default:
		return true
	}
}
