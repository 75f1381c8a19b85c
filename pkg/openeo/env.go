package openeo

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Env is the runtime configuration needed to reach a backend.
type Env struct {
	// BaseURL is the backend API root, e.g. "https://<backend>/openeo/1.2".
	BaseURL string
	// DefaultCAPath is the path to a PEM bundle that should be trusted for TLS.
	DefaultCAPath string
	Token         string
}

// LoadEnv reads backend connection settings from the environment.
//
// Required:
//   - OPENEO_URL or OPENEO_BACKENDS (file path, see loadBackendsFile)
//   - OPENEO_TOKEN (file path containing a bearer token)
func LoadEnv() (Env, error) {
	baseURL, err := loadBaseURLFromEnv()
	if err != nil {
		return Env{}, err
	}

	token, err := readFileEnv("OPENEO_TOKEN")
	if err != nil {
		return Env{}, err
	}

	return Env{
		BaseURL:       baseURL,
		DefaultCAPath: strings.TrimSpace(os.Getenv("DEFAULT_CA_PATH")),
		Token:         token,
	}, nil
}

func loadBaseURLFromEnv() (string, error) {
	if p := strings.TrimSpace(os.Getenv("OPENEO_BACKENDS")); p != "" {
		return loadBackendFromFile(p, strings.TrimSpace(os.Getenv("OPENEO_BACKEND_NAME")))
	}

	raw := strings.TrimSpace(os.Getenv("OPENEO_URL"))
	if raw == "" {
		return "", fmt.Errorf("OPENEO_BACKENDS or OPENEO_URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/"), nil
}

// backendsFile maps backend names to a single-element list holding the API
// root URL, the same shape CI deployments use for service discovery.
//
// Example (YAML):
//
//	creodias:
//	  - https://openeo.creo.example/openeo/1.2
//	terrascope:
//	  - https://openeo.terrascope.example/openeo/1.1
type backendsFile map[string][]string

func loadBackendFromFile(path, name string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read OPENEO_BACKENDS file: %w", err)
	}

	var raw backendsFile
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return "", fmt.Errorf("parse OPENEO_BACKENDS YAML: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("OPENEO_BACKENDS file %s lists no backends", path)
	}

	if name == "" {
		if len(raw) > 1 {
			return "", fmt.Errorf("OPENEO_BACKENDS lists %d backends; set OPENEO_BACKEND_NAME", len(raw))
		}
		for k := range raw {
			name = k
		}
	}

	vals, ok := raw[name]
	if !ok || len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
		return "", fmt.Errorf("OPENEO_BACKENDS missing backend %q", name)
	}
	return strings.TrimRight(strings.TrimSpace(vals[0]), "/"), nil
}

func readFileEnv(varName string) (string, error) {
	path := strings.TrimSpace(os.Getenv(varName))
	if path == "" {
		return "", fmt.Errorf("%s is required", varName)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s file: %w", varName, err)
	}
	return strings.TrimSpace(string(b)), nil
}
