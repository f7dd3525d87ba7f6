package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
apps:
  - name: api
    script: ./api.js
    args: ["--port", "3000"]
    instances: 2
    watch: true
    memory_limit: 64mb
    cpu_limit: 80
    health_check: http://localhost:3000/health
    log_format: json
`)
	specs, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}
	s := specs[0]
	if s.Name != "api" || s.Instances != 2 || s.MemoryLimit != 64<<20 {
		t.Fatalf("unexpected spec: %+v", s)
	}
	if s.LogFormat != "json" || s.LogOutput != "file" {
		t.Fatalf("unexpected defaults/overrides: %+v", s)
	}
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	path := writeConfig(t, `
apps:
  - name: api
    script: ./a.js
  - name: api
    script: ./b.js
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error on duplicate app name")
	}
}

func TestLoadRejectsInvalidMemoryLimit(t *testing.T) {
	path := writeConfig(t, `
apps:
  - name: api
    script: ./a.js
    memory_limit: notasize
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error on invalid memory_limit")
	}
}

func TestLoadRejectsInvalidHealthCheckURL(t *testing.T) {
	path := writeConfig(t, `
apps:
  - name: api
    script: ./a.js
    health_check: "not a url"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error on invalid health_check URL")
	}
}

func TestParseMemoryLimitUnits(t *testing.T) {
	cases := map[string]int64{
		"10b":  10,
		"1kb":  1 << 10,
		"1mb":  1 << 20,
		"1gb":  1 << 30,
		"":     0,
		"1.5mb": int64(1.5 * (1 << 20)),
	}
	for in, want := range cases {
		got, err := ParseMemoryLimit(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %d, want %d", in, got, want)
		}
	}
}

func TestInstanceCountAutoAndString(t *testing.T) {
	a := AppConfig{Name: "x", Instances: "auto"}
	n, err := a.InstanceCount()
	if err != nil || n != 1 {
		t.Fatalf("auto: got %d, %v", n, err)
	}
	a.Instances = "3"
	n, err = a.InstanceCount()
	if err != nil || n != 3 {
		t.Fatalf("string count: got %d, %v", n, err)
	}
}
