package providers

import (
	"encoding/base64"
	"fmt"

	"github.com/everifyng/everify-backend/services/registry"
)

// BuildAuthHeaders computes the auth headers for one provider call. Every
// registry.AuthType must have a case here; an unknown value is a
// configuration error, not a silent no-auth call.
func BuildAuthHeaders(p *registry.ServiceProvider) (map[string]string, error) {
	headers := make(map[string]string)

	switch p.AuthType {
	case registry.AuthNone:
		// nothing to add

	case registry.AuthBearer:
		headers["Authorization"] = "Bearer " + p.AuthConfig.String("token", "")

	case registry.AuthAPIKeyHeader:
		headerName := p.AuthConfig.String("header_name", "X-API-Key")
		// Support both 'header_value' (from form) and 'api_key' (legacy)
		apiKey := p.AuthConfig.String("header_value", p.AuthConfig.String("api_key", ""))
		if apiKey != "" {
			headers[headerName] = apiKey
		}

	case registry.AuthAPIKeyBody:
		// Key is injected into the request body by BuildRequestBody.

	case registry.AuthBasic:
		username := p.AuthConfig.String("username", "")
		password := p.AuthConfig.String("password", "")
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers["Authorization"] = "Basic " + credentials

	case registry.AuthCustom:
		if custom, ok := p.AuthConfig["headers"].(map[string]interface{}); ok {
			for k, v := range custom {
				if s, ok := v.(string); ok {
					headers[k] = s
				}
			}
		}

	default:
		return nil, fmt.Errorf("unsupported auth type %q for provider %s", p.AuthType, p.Name)
	}

	return headers, nil
}

// BuildRequestBody resolves the provider's body template, substituting the
// {{search_parameter}} placeholder at any depth and injecting the API key
// for body-auth providers.
func BuildRequestBody(p *registry.ServiceProvider, searchParameter string) map[string]interface{} {
	body := substituteValue(map[string]interface{}(p.RequestBodyTemplate), searchParameter)

	result, ok := body.(map[string]interface{})
	if !ok || result == nil {
		result = make(map[string]interface{})
	}

	if p.AuthType == registry.AuthAPIKeyBody {
		keyName := p.AuthConfig.String("key_name", "api_key")
		// Support both 'key_value' (from form) and 'api_key' (legacy)
		result[keyName] = p.AuthConfig.String("key_value", p.AuthConfig.String("api_key", ""))
	}

	return result
}

const searchParameterPlaceholder = "{{search_parameter}}"

func substituteValue(value interface{}, searchParameter string) interface{} {
	switch v := value.(type) {
	case string:
		if v == searchParameterPlaceholder {
			return searchParameter
		}
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = substituteValue(item, searchParameter)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = substituteValue(item, searchParameter)
		}
		return out
	default:
		return v
	}
}
