// Package settings holds the backend-managed user settings and a store that
// keeps a local copy for when the backend is unreachable.
package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type SecurityLevel string

const (
	SecurityLow    SecurityLevel = "low"
	SecurityMedium SecurityLevel = "medium"
	SecurityHigh   SecurityLevel = "high"
)

type Tools struct {
	SecurityScanner bool `json:"securityScanner"`
	CodeAnalysis    bool `json:"codeAnalysis"`
	DataOperations  bool `json:"dataOperations"`
	NetworkMonitor  bool `json:"networkMonitor"`
}

type Settings struct {
	Model            string        `json:"model"`
	Temperature      float64       `json:"temperature"`
	MaxTokens        int           `json:"maxTokens"`
	StreamingEnabled bool          `json:"streamingEnabled"`
	SecurityLevel    SecurityLevel `json:"securityLevel"`
	DebugMode        bool          `json:"debugMode"`
	APIKey           string        `json:"apiKey"`
	Tools            Tools         `json:"tools"`
}

var ErrUnknownKey = errors.New("unknown settings key")

func Default() Settings {
	return Settings{
		Model:            "deepseek/deepseek-r1:free",
		Temperature:      0.7,
		MaxTokens:        1000,
		StreamingEnabled: true,
		SecurityLevel:    SecurityHigh,
		Tools: Tools{
			SecurityScanner: true,
			CodeAnalysis:    true,
			DataOperations:  true,
		},
	}
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.Model) == "" {
		return errors.New("model is required")
	}
	if s.Temperature < 0 || s.Temperature > 1 {
		return fmt.Errorf("temperature %v out of range [0, 1]", s.Temperature)
	}
	if s.MaxTokens <= 0 {
		return fmt.Errorf("maxTokens must be positive, got %d", s.MaxTokens)
	}
	switch s.SecurityLevel {
	case SecurityLow, SecurityMedium, SecurityHigh:
	default:
		return fmt.Errorf("securityLevel %q must be low, medium or high", s.SecurityLevel)
	}
	return nil
}

// Set assigns one field by its JSON key, e.g. "temperature" or
// "tools.networkMonitor". The result is not validated.
func (s *Settings) Set(key, value string) error {
	switch key {
	case "model":
		s.Model = value
	case "temperature":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("temperature: %w", err)
		}
		s.Temperature = f
	case "maxTokens":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("maxTokens: %w", err)
		}
		s.MaxTokens = n
	case "streamingEnabled":
		return setBool(&s.StreamingEnabled, key, value)
	case "securityLevel":
		s.SecurityLevel = SecurityLevel(strings.ToLower(value))
	case "debugMode":
		return setBool(&s.DebugMode, key, value)
	case "apiKey":
		s.APIKey = value
	case "tools.securityScanner":
		return setBool(&s.Tools.SecurityScanner, key, value)
	case "tools.codeAnalysis":
		return setBool(&s.Tools.CodeAnalysis, key, value)
	case "tools.dataOperations":
		return setBool(&s.Tools.DataOperations, key, value)
	case "tools.networkMonitor":
		return setBool(&s.Tools.NetworkMonitor, key, value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
