package http

import (
	"encoding/json"
	"fmt"
)

// DispatchRequest is the DTO for the dispatch endpoint. The body carries
// an optional services selector plus arbitrary service-specific fields;
// everything that is not the selector becomes the shared task payload.
type DispatchRequest struct {
	Services []string       `validate:"omitempty,dive,required,max=128"`
	Data     map[string]any `validate:"-"`
}

// UnmarshalJSON accepts services as either a single string or a list, and
// collects the remaining top-level fields as the payload.
func (r *DispatchRequest) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	if sel, ok := raw["services"]; ok {
		switch v := sel.(type) {
		case string:
			r.Services = []string{v}
		case []any:
			for _, item := range v {
				name, ok := item.(string)
				if !ok {
					return fmt.Errorf("services list must contain only strings")
				}
				r.Services = append(r.Services, name)
			}
		default:
			return fmt.Errorf("services must be a string or a list of strings")
		}
		delete(raw, "services")
	}

	r.Data = raw
	return nil
}

// errorBody is the uniform error envelope for every failure response.
type errorBody struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Issues  []string `json:"issues,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}
