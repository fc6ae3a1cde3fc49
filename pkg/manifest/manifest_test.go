package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "test-robot.json", `{
		"name": "test-robot",
		"description": "a test device",
		"version": "1.0.0",
		"functions": [
			{"tag": 0, "name": "deviceId", "desc": "identify", "return": "CStr", "params": []},
			{"tag": 1, "name": "blinkLED", "desc": "blink", "return": null, "params": [{"name": "n", "type": "i16"}]},
			{"tag": 2, "name": "getTemperature", "desc": "temp", "return": "i16", "params": []}
		]
	}`)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	blink, err := m.ByName("blinkLED")
	if err != nil {
		t.Fatalf("ByName(blinkLED): %v", err)
	}
	if blink.Tag != 1 || len(blink.Parameters) != 1 {
		t.Fatalf("blinkLED descriptor = %+v", blink)
	}

	byTag, err := m.ByTag(2)
	if err != nil || byTag.Name != "getTemperature" {
		t.Fatalf("ByTag(2) = %+v, %v", byTag, err)
	}

	if _, err := m.ByName("nonexistent"); err != ErrToolUnknown {
		t.Fatalf("ByName(nonexistent) error = %v, want ErrToolUnknown", err)
	}
}

func TestLoadRejectsDuplicateTags(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "dup-tag.json", `{
		"name": "d", "description": "", "version": "1",
		"functions": [
			{"tag": 0, "name": "deviceId", "desc": "", "return": "CStr", "params": []},
			{"tag": 1, "name": "a", "desc": "", "return": null, "params": []},
			{"tag": 1, "name": "b", "desc": "", "return": null, "params": []}
		]
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error loading manifest with duplicate tags")
	}
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "dup-name.json", `{
		"name": "d", "description": "", "version": "1",
		"functions": [
			{"tag": 1, "name": "a", "desc": "", "return": null, "params": []},
			{"tag": 2, "name": "a", "desc": "", "return": null, "params": []}
		]
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error loading manifest with duplicate names")
	}
}

func TestLoadRejectsBadTagZero(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "bad-tag0.json", `{
		"name": "d", "description": "", "version": "1",
		"functions": [
			{"tag": 0, "name": "notDeviceId", "desc": "", "return": "CStr", "params": []}
		]
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error: tag 0 must name deviceId")
	}

	path2 := writeManifest(t, dir, "bad-tag0-return.json", `{
		"name": "d", "description": "", "version": "1",
		"functions": [
			{"tag": 0, "name": "deviceId", "desc": "", "return": "i16", "params": []}
		]
	}`)
	if _, err := Load(path2); err == nil {
		t.Fatal("expected error: tag 0 must return CStr")
	}
}

func TestLoadRejectsVoidParameter(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "void-param.json", `{
		"name": "d", "description": "", "version": "1",
		"functions": [
			{"tag": 1, "name": "a", "desc": "", "return": null, "params": [{"name": "x", "type": "void"}]}
		]
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error: void is not a valid parameter type")
	}
}

func TestPathFor(t *testing.T) {
	got := PathFor("/manifests", "test-robot")
	want := filepath.Join("/manifests", "test-robot.json")
	if got != want {
		t.Fatalf("PathFor = %q, want %q", got, want)
	}
}
