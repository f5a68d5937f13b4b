package agentcard

import "strings"

type Rule string

const (
	RuleURL            Rule = "url"
	RuleJSONRPC        Rule = "endpoints.jsonrpc"
	RuleSkillDiscovery Rule = "skills.discovery.url"
	RuleInterface      Rule = "additionalInterfaces.jsonrpc"
	RuleNone           Rule = "none"
)

// Extraction is the outcome of the transport URL rules. Rule is RuleNone and URL is
// empty when nothing matched.
type Extraction struct {
	Rule Rule
	URL  string
}

func (e Extraction) Matched() bool {
	return e.Rule != RuleNone
}

type extractRule struct {
	rule    Rule
	extract func(Document) string
}

var extractRules = []extractRule{
	{RuleURL, Document.URL},
	{RuleJSONRPC, Document.JSONRPCEndpoint},
	{RuleSkillDiscovery, func(d Document) string {
		if urls := d.SkillDiscoveryURLs(); len(urls) > 0 {
			return urls[0]
		}
		return ""
	}},
	{RuleInterface, func(d Document) string {
		for _, iface := range d.Interfaces() {
			if strings.EqualFold(iface.Transport, "JSONRPC") && iface.URL != "" {
				return iface.URL
			}
		}
		return ""
	}},
}

func Extract(doc Document) Extraction {
	for _, r := range extractRules {
		if u := r.extract(doc); u != "" {
			return Extraction{Rule: r.rule, URL: u}
		}
	}
	return Extraction{Rule: RuleNone}
}
