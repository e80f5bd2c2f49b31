package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Cfg holds all runtime configuration loaded from environment variables.
type Cfg struct {
	// Reversible enables recording of the token mapping for later
	// re-identification. ANON_REVERSIBLE=true.
	Reversible bool

	// PreserveNumericFeatures keeps bucketed ages, generalized locations and
	// score fields for the downstream model. Defaults to true;
	// ANON_PRESERVE_NUMERIC=false disables.
	PreserveNumericFeatures bool

	// MappingPath is where the reversible mapping document is written.
	MappingPath string // ANON_MAPPING_PATH, default anonymizer_mapping.json

	// StoreKind selects the mapping backend: "file" or "sqlite".
	StoreKind string // ANON_STORE

	// Salt feeds hashed masks and the cross-run token registry.
	Salt string // ANON_SALT

	// PolicyFile optionally overrides the embedded default policy.
	PolicyFile string // ANON_POLICY_FILE

	// DetectorURL, when set, points at the bias-detector sidecar that
	// supplies the detected-fields hint.
	DetectorURL string // ANON_DETECTOR_URL
}

// Load reads .env (if present) then environment variables and returns Cfg.
func Load() (*Cfg, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	mappingPath := strings.TrimSpace(os.Getenv("ANON_MAPPING_PATH"))
	if mappingPath == "" {
		mappingPath = "anonymizer_mapping.json"
	}

	storeKind := strings.TrimSpace(os.Getenv("ANON_STORE"))
	if storeKind == "" {
		storeKind = "file"
	}
	if storeKind != "file" && storeKind != "sqlite" {
		return nil, fmt.Errorf("ANON_STORE must be file or sqlite, got %q", storeKind)
	}

	preserve := true
	if raw := strings.TrimSpace(os.Getenv("ANON_PRESERVE_NUMERIC")); raw != "" {
		preserve = raw == "1" || strings.EqualFold(raw, "true")
	}

	return &Cfg{
		Reversible:              boolEnv("ANON_REVERSIBLE"),
		PreserveNumericFeatures: preserve,
		MappingPath:             mappingPath,
		StoreKind:               storeKind,
		Salt:                    strings.TrimSpace(os.Getenv("ANON_SALT")),
		PolicyFile:              strings.TrimSpace(os.Getenv("ANON_POLICY_FILE")),
		DetectorURL:             strings.TrimSpace(os.Getenv("ANON_DETECTOR_URL")),
	}, nil
}

func boolEnv(key string) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	return raw == "1" || strings.EqualFold(raw, "true")
}
