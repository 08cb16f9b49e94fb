package core

import (
	"encoding/json"
	"strings"
)

// AgentInfo is an agent's self-description. It is the body of a registry
// registration. Name and at least one capability are mandatory.
type AgentInfo struct {
	Name          string                 `json:"name" yaml:"name"`
	Capabilities  []string               `json:"capabilities" yaml:"capabilities"`
	Description   string                 `json:"description,omitempty" yaml:"description,omitempty"`
	RequestSchema map[string]interface{} `json:"request_schema,omitempty" yaml:"request_schema,omitempty"`
}

// Validate reports a configuration error when the mandatory parts of the
// self-description are missing.
func (i *AgentInfo) Validate() error {
	if i == nil || strings.TrimSpace(i.Name) == "" {
		return &FrameworkError{
			Op:      "AgentInfo.Validate",
			Kind:    KindConfiguration,
			Message: "agent name is required",
			Err:     ErrMissingSelfDescription,
		}
	}
	for _, c := range i.Capabilities {
		if strings.TrimSpace(c) != "" {
			return nil
		}
	}
	return &FrameworkError{
		Op:      "AgentInfo.Validate",
		Kind:    KindConfiguration,
		ID:      i.Name,
		Message: "agent " + i.Name + " declares no capabilities",
		Err:     ErrMissingSelfDescription,
	}
}

// AgentRef identifies a registered agent as returned by discovery.
type AgentRef struct {
	UUID         string   `json:"uuid"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// SerializeCapabilities renders a capability list the way registries store
// it. Discovery matches a query as a substring of this form, so "math"
// matches both ["math"] and ["mathematics_errors"].
func SerializeCapabilities(capabilities []string) string {
	if capabilities == nil {
		capabilities = []string{}
	}
	data, err := json.Marshal(capabilities)
	if err != nil {
		return strings.Join(capabilities, ",")
	}
	return string(data)
}

// ParseCapabilities is the inverse of SerializeCapabilities. A value that is
// not a JSON list is treated as a single free-text capability.
func ParseCapabilities(serialized string) []string {
	var caps []string
	if err := json.Unmarshal([]byte(serialized), &caps); err == nil {
		return caps
	}
	if serialized == "" {
		return []string{}
	}
	return []string{serialized}
}

// MatchCapability reports whether query occurs in the serialized capabilities.
func MatchCapability(serialized, query string, caseSensitive bool) bool {
	if caseSensitive {
		return strings.Contains(serialized, query)
	}
	return strings.Contains(strings.ToLower(serialized), strings.ToLower(query))
}
