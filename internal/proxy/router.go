// Package proxy implements the streaming HTTP reverse proxy sitting
// between a client and an LLM provider: it forwards requests to the
// configured upstream provider, streams the response back with
// byte-for-byte fidelity, and concurrently parses a copy of the
// traffic into the event pipeline.
package proxy

import (
	"fmt"
	"strings"

	"github.com/aspyproxy/aspy/internal/message"
)

// RouteInfo holds the parsed components of an incoming proxy request URL.
//
// URL format: /provider/{providerKey}/{apiPath...}
//
// Examples:
//
//	/provider/anthropic/v1/messages
//	  → ProviderKey="anthropic", APIPath="/v1/messages", APIType=Anthropic
//
//	/provider/openai/v1/chat/completions
//	  → ProviderKey="openai", APIPath="/v1/chat/completions", APIType=OpenAI
type RouteInfo struct {
	ProviderKey string
	APIPath     string
	APIType     message.APIType
}

// ParseRoute parses a request URL path into its route components.
func ParseRoute(path string) (RouteInfo, error) {
	path = strings.TrimPrefix(path, "/")
	parts := strings.Split(path, "/")

	if len(parts) < 2 || parts[0] != "provider" {
		return RouteInfo{}, fmt.Errorf("invalid path: must start with /provider/")
	}

	route := RouteInfo{ProviderKey: parts[1]}

	remaining := parts[2:]
	if len(remaining) > 0 {
		route.APIPath = "/" + strings.Join(remaining, "/")
	}
	route.APIType = detectAPIType(route.APIPath)
	return route, nil
}

// detectAPIType determines the wire format from the API path alone,
// never from guessing at headers or body shape.
func detectAPIType(apiPath string) message.APIType {
	switch {
	case strings.HasPrefix(apiPath, "/v1/messages"):
		return message.APITypeAnthropic
	case strings.HasPrefix(apiPath, "/v1/chat/completions"):
		return message.APITypeOpenAI
	case strings.HasPrefix(apiPath, "/v1/responses"):
		return message.APITypeOpenAI
	default:
		return message.APITypeUnknown
	}
}

// isMessagesPost reports whether this request is a POST to a messages
// endpoint, the only shape that needs to run through the request-side
// parser for tool_result reconstruction.
func isMessagesPost(method string, route RouteInfo) bool {
	return method == "POST" && route.APIType != message.APITypeUnknown
}
