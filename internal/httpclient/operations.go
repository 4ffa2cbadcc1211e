package httpclient

import "strings"

// pathPattern maps a request-path substring to a rate-limit operation name.
type pathPattern struct {
	substring string
	operation string
}

// operationPatterns is the static per-service inference table used to build
// rate-limit keys. Unmapped paths collapse into the generic "api" bucket,
// which under-isolates unrelated operations on the same service; kept for
// compatibility with the existing rate_limit_config rows.
var operationPatterns = map[string][]pathPattern{
	"ringover": {
		{substring: "/recordings", operation: "download"},
		{substring: "/calls", operation: "calls"},
	},
	"openai": {
		{substring: "/audio/transcriptions", operation: "transcribe"},
		{substring: "/chat/completions", operation: "analyze"},
	},
	"pipedrive": {
		{substring: "/deals", operation: "deals"},
		{substring: "/persons", operation: "persons"},
		{substring: "/notes", operation: "notes"},
	},
}

// defaultOperation is the bucket for paths with no pattern match.
const defaultOperation = "api"

// inferOperation resolves the rate-limit operation for a service and path.
func inferOperation(service, path string) string {
	for _, pattern := range operationPatterns[service] {
		if strings.Contains(path, pattern.substring) {
			return pattern.operation
		}
	}
	return defaultOperation
}
