package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRegistry = `
name_property: VILLNAME
fallback: {name: 範圍外, code: "99"}
villages:
  - {name: 廣盛村, code: "01"}
  - {name: 西湖村, code: "03"}
`

const testBoundaries = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"VILLNAME":"廣盛村"},
  "geometry":{"type":"Polygon","coordinates":[[[120,24],[120,25],[121,25],[121,24],[120,24]]]}},
 {"type":"Feature","properties":{"VILLNAME":"無名村"},
  "geometry":{"type":"Polygon","coordinates":[[[130,30],[130,31],[131,31],[131,30],[130,30]]]}}
]}`

func writeFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	reg := filepath.Join(dir, "villages.yaml")
	geo := filepath.Join(dir, "villages.geojson")
	require.NoError(t, os.WriteFile(reg, []byte(testRegistry), 0o644))
	require.NoError(t, os.WriteFile(geo, []byte(testBoundaries), 0o644))
	return reg, geo
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestResolveCommand(t *testing.T) {
	reg, geo := writeFixtures(t)
	out, err := run(t, "resolve", "24.5", "120.5", "--registry", reg, "--boundaries", geo, "--json")
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, "01", m["code"])
	assert.Equal(t, "廣盛村", m["name"])

	_, err = run(t, "resolve", "north", "120.5", "--registry", reg, "--boundaries", geo)
	assert.Error(t, err)
}

func TestCheckVillagesCommand(t *testing.T) {
	reg, geo := writeFixtures(t)
	out, err := run(t, "check-villages", "--registry", reg, "--boundaries", geo)
	require.Error(t, err)
	assert.Contains(t, out, "regions without code: 無名村")
	assert.Contains(t, out, "villages without boundary: 03 西湖村")
}
