package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("querydesk-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Backend != BackendPostgres {
		t.Fatalf("Backend = %q", cfg.Backend)
	}
	if cfg.Database.Schema != "public" {
		t.Fatalf("Database.Schema = %q", cfg.Database.Schema)
	}
	if cfg.Schema.TTL != 24*time.Hour {
		t.Fatalf("Schema.TTL = %s", cfg.Schema.TTL)
	}
	if cfg.Schema.CacheFile != "schema_cache.json" {
		t.Fatalf("Schema.CacheFile = %q", cfg.Schema.CacheFile)
	}
	if cfg.AI.Provider != ProviderOpenAI {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.Temperature != 0 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.Retries != 0 {
		t.Fatalf("AI.Retries = %d", cfg.AI.Retries)
	}
	if cfg.Result.MaxRows != 20 {
		t.Fatalf("Result.MaxRows = %d", cfg.Result.MaxRows)
	}
	if cfg.RPC.ExecFunction != "execute_sql" {
		t.Fatalf("RPC.ExecFunction = %q", cfg.RPC.ExecFunction)
	}
	if cfg.Chart.Enabled || cfg.ObjectStore.Enabled {
		t.Fatal("charts and object store should be disabled by default")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("querydesk-api", mapLookup(map[string]string{"QUERYDESK_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadTestProfileDisablesCacheFile(t *testing.T) {
	cfg, err := Load("querydesk-api", mapLookup(map[string]string{"QUERYDESK_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Schema.CacheFile != "" {
		t.Fatalf("Schema.CacheFile = %q", cfg.Schema.CacheFile)
	}
	if cfg.HTTP.Address != ":18080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"QUERYDESK_PROFILE":                 "test",
		"QUERYDESK_SERVICE_NAME":            "querydesk-custom",
		"QUERYDESK_HTTP_ADDR":               ":9999",
		"QUERYDESK_HTTP_READ_TIMEOUT":       "2s",
		"QUERYDESK_BACKEND":                 "DuckDB",
		"QUERYDESK_DATABASE_DSN":            "postgres://example",
		"QUERYDESK_DATABASE_SCHEMA":         "erp",
		"QUERYDESK_DATABASE_MAX_OPEN_CONNS": "42",
		"QUERYDESK_DUCKDB_PATH":             "/data/erp.duckdb",
		"QUERYDESK_DUCKDB_TABLES":           "PO_Pending=lake/po.parquet",
		"QUERYDESK_RPC_BASE_URL":            "https://rpc.example.com",
		"QUERYDESK_RPC_API_KEY":             "anon",
		"QUERYDESK_EXECUTION_TIMEOUT":       "12s",
		"QUERYDESK_EXECUTION_ROW_LIMIT":     "900",
		"QUERYDESK_SCHEMA_TTL":              "6h",
		"QUERYDESK_SCHEMA_CHECK_INTERVAL":   "1m",
		"QUERYDESK_SCHEMA_CACHE_FILE":       "/tmp/schema.json",
		"QUERYDESK_SCHEMA_CACHE_OBJECT":     "schema/snapshot.json",
		"QUERYDESK_LEXICON_FILE":            "/etc/querydesk/rules.yaml",
		"QUERYDESK_AI_PROVIDER":             "Gemini",
		"QUERYDESK_AI_API_KEY":              "secret-key",
		"QUERYDESK_AI_MODEL":                "gemini-2.0-flash",
		"QUERYDESK_AI_TEMPERATURE":          "0.1",
		"QUERYDESK_AI_TIMEOUT":              "21s",
		"QUERYDESK_AI_RETRIES":              "1",
		"QUERYDESK_RESULT_MAX_ROWS":         "50",
		"QUERYDESK_CHART_ENABLED":           "true",
		"QUERYDESK_CHART_URL_PREFIX":        "https://cdn.example.com/",
		"QUERYDESK_OBJECTSTORE_ENABLED":     "true",
		"QUERYDESK_OBJECTSTORE_BUCKET":      "querydesk-prod",
		"QUERYDESK_LOG_LEVEL":               "error",
		"QUERYDESK_AUTH_REQUIRED":           "true",
		"QUERYDESK_AUTH_STATIC_KEYS":        "k1:asker",
	})
	cfg, err := Load("querydesk-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "querydesk-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP = %#v", cfg.HTTP)
	}
	if cfg.Backend != BackendDuckDB {
		t.Fatalf("Backend = %q", cfg.Backend)
	}
	if cfg.Database.DSN != "postgres://example" || cfg.Database.Schema != "erp" || cfg.Database.MaxOpenConns != 42 {
		t.Fatalf("Database = %#v", cfg.Database)
	}
	if cfg.DuckDB.Path != "/data/erp.duckdb" || cfg.DuckDB.Tables != "PO_Pending=lake/po.parquet" {
		t.Fatalf("DuckDB = %#v", cfg.DuckDB)
	}
	if cfg.RPC.BaseURL != "https://rpc.example.com" || cfg.RPC.APIKey != "anon" {
		t.Fatalf("RPC = %#v", cfg.RPC)
	}
	if cfg.Execution.Timeout != 12*time.Second || cfg.Execution.RowLimit != 900 {
		t.Fatalf("Execution = %#v", cfg.Execution)
	}
	if cfg.Schema.TTL != 6*time.Hour || cfg.Schema.CheckInterval != time.Minute {
		t.Fatalf("Schema = %#v", cfg.Schema)
	}
	if cfg.Schema.CacheFile != "/tmp/schema.json" || cfg.Schema.CacheObject != "schema/snapshot.json" {
		t.Fatalf("Schema cache = %#v", cfg.Schema)
	}
	if cfg.Lexicon.File != "/etc/querydesk/rules.yaml" {
		t.Fatalf("Lexicon.File = %q", cfg.Lexicon.File)
	}
	if cfg.AI.Provider != ProviderGemini {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.Model != "gemini-2.0-flash" || cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI = %#v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.1 || cfg.AI.Timeout != 21*time.Second || cfg.AI.Retries != 1 {
		t.Fatalf("AI = %#v", cfg.AI)
	}
	if cfg.Result.MaxRows != 50 {
		t.Fatalf("Result.MaxRows = %d", cfg.Result.MaxRows)
	}
	if !cfg.Chart.Enabled || cfg.Chart.URLPrefix != "https://cdn.example.com/" {
		t.Fatalf("Chart = %#v", cfg.Chart)
	}
	if !cfg.ObjectStore.Enabled || cfg.ObjectStore.Bucket != "querydesk-prod" {
		t.Fatalf("ObjectStore = %#v", cfg.ObjectStore)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:asker" {
		t.Fatalf("Auth = %#v", cfg.Auth)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"QUERYDESK_PROFILE": "oops"},
		{"QUERYDESK_HTTP_READ_TIMEOUT": "NaN"},
		{"QUERYDESK_DATABASE_MAX_OPEN_CONNS": "oops"},
		{"QUERYDESK_BACKEND": "oracle"},
		{"QUERYDESK_AI_PROVIDER": "markov"},
		{"QUERYDESK_AI_TEMPERATURE": "bad"},
		{"QUERYDESK_AI_TEMPERATURE": "0.9"},
		{"QUERYDESK_AI_TEMPERATURE": "-0.1"},
		{"QUERYDESK_AI_RETRIES": "3"},
		{"QUERYDESK_RESULT_MAX_ROWS": "0"},
		{"QUERYDESK_RESULT_MAX_ROWS": "51"},
		{"QUERYDESK_EXECUTION_ROW_LIMIT": "5"},
		{"QUERYDESK_SCHEMA_TTL": "0s"},
		{"QUERYDESK_CHART_ENABLED": "true"},
		{"QUERYDESK_SCHEMA_CACHE_OBJECT": "schema.json"},
		{"QUERYDESK_AUTH_REQUIRED": "not-bool"},
		{"QUERYDESK_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("querydesk-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
