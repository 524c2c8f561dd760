package village_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetlight-api/internal/village"
)

func square(minLng, minLat, maxLng, maxLat float64) [][2]float64 {
	return [][2]float64{{minLng, minLat}, {minLng, maxLat}, {maxLng, maxLat}, {maxLng, minLat}}
}

func TestResolve_SquareAndFallback(t *testing.T) {
	regions := []village.Region{{
		Name:  "雙潭村",
		Polys: []village.Polygon{village.NewPolygon([][2]float64{{0, 0}, {0, 10}, {10, 10}, {10, 0}})},
	}}
	assert.Equal(t, "雙潭村", village.Resolve(5, 5, regions))
	assert.Equal(t, village.DefaultFallbackName, village.Resolve(15, 15, regions))
}

func TestResolve_EmptyRegionsFallBack(t *testing.T) {
	assert.Equal(t, "範圍外", village.Resolve(24.4, 120.7, nil))
	noGeom := []village.Region{{Name: "西湖村"}}
	assert.Equal(t, "範圍外", village.Resolve(24.4, 120.7, noGeom))
	degenerate := []village.Region{{Name: "西湖村", Polys: []village.Polygon{village.NewPolygon([][2]float64{{0, 0}, {1, 1}})}}}
	assert.Equal(t, "範圍外", village.Resolve(0.5, 0.5, degenerate))
}

func TestResolve_HoleIsOutside(t *testing.T) {
	poly := village.NewPolygon(square(0, 0, 10, 10), square(4, 4, 6, 6))
	regions := []village.Region{{Name: "龍騰村", Polys: []village.Polygon{poly}}}
	assert.Equal(t, "龍騰村", village.Resolve(2, 2, regions))
	assert.Equal(t, "範圍外", village.Resolve(5, 5, regions))
}

func TestResolve_MultiPolygon(t *testing.T) {
	regions := []village.Region{{
		Name:  "勝興村",
		Polys: []village.Polygon{village.NewPolygon(square(0, 0, 1, 1)), village.NewPolygon(square(5, 5, 6, 6))},
	}}
	assert.Equal(t, "勝興村", village.Resolve(0.5, 0.5, regions))
	assert.Equal(t, "勝興村", village.Resolve(5.5, 5.5, regions))
	assert.Equal(t, "範圍外", village.Resolve(3, 3, regions))
}

func TestResolve_FirstMatchWins(t *testing.T) {
	regions := []village.Region{
		{Name: "廣盛村", Polys: []village.Polygon{village.NewPolygon(square(0, 0, 10, 10))}},
		{Name: "西湖村", Polys: []village.Polygon{village.NewPolygon(square(0, 0, 10, 10))}},
	}
	assert.Equal(t, "廣盛村", village.Resolve(5, 5, regions))
}

func TestResolve_NormalizesNFC(t *testing.T) {
	// "é" 分解形式，正规化后应与组合形式一致
	regions := []village.Region{{Name: "Cafe\u0301", Polys: []village.Polygon{village.NewPolygon(square(0, 0, 1, 1))}}}
	assert.Equal(t, "Caf\u00e9", village.Resolve(0.5, 0.5, regions))
}

func TestResolve_Deterministic(t *testing.T) {
	regions := []village.Region{{Name: "雙湖村", Polys: []village.Polygon{village.NewPolygon(square(120, 24, 121, 25))}}}
	first := village.Resolve(24.5, 120.5, regions)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, village.Resolve(24.5, 120.5, regions))
	}
}

const registryYAML = `
name_property: VILLNAME
fallback:
  name: 範圍外
  code: "99"
villages:
  - name: 廣盛村
    code: "01"
  - name: 雙潭村
    code: "06"
    aliases: [双潭村]
`

func TestParseRegistry(t *testing.T) {
	reg, err := village.ParseRegistry([]byte(registryYAML))
	require.NoError(t, err)
	assert.Equal(t, "VILLNAME", reg.NameProperty)
	assert.Equal(t, "雙潭村", reg.Canonical("双潭村"))
	assert.Equal(t, "雙潭村", reg.Canonical(" 雙潭村 "))
	code, ok := reg.CodeOf("双潭村")
	require.True(t, ok)
	assert.Equal(t, "06", code)
	name, ok := reg.NameOf("99")
	require.True(t, ok)
	assert.Equal(t, "範圍外", name)
	assert.True(t, reg.KnownCode("01"))
	assert.False(t, reg.KnownCode("02"))
}

func TestParseRegistry_Rejects(t *testing.T) {
	cases := map[string]string{
		"duplicate code": "villages:\n  - {name: A, code: \"01\"}\n  - {name: B, code: \"01\"}\n",
		"duplicate name": "villages:\n  - {name: A, code: \"01\"}\n  - {name: A, code: \"02\"}\n",
		"bad code":       "villages:\n  - {name: A, code: \"1\"}\n",
		"empty name":     "villages:\n  - {name: \"\", code: \"01\"}\n",
		"fallback clash": "fallback: {name: X, code: \"01\"}\nvillages:\n  - {name: A, code: \"01\"}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := village.ParseRegistry([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestRegistry_DefaultsFallback(t *testing.T) {
	reg, err := village.NewRegistry(village.Definition{}, village.Definition{Name: "西湖村", Code: "03"})
	require.NoError(t, err)
	assert.Equal(t, village.Match{Name: "範圍外", Code: "99"}, reg.FallbackMatch())
	var nilReg *village.Registry
	assert.Equal(t, village.Match{Name: "範圍外", Code: "99"}, nilReg.FallbackMatch())
}

const featureCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"VILLNAME": "双潭村"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[0,10],[10,10],[10,0],[0,0]]]}},
    {"type": "Feature", "properties": {"VILLNAME": "廣盛村", "code": "01"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[20,20],[20,21],[21,21],[21,20],[20,20]]]]}},
    {"type": "Feature", "properties": {"name": "無幾何"}, "geometry": null}
  ]
}`

func TestParseGeoJSON(t *testing.T) {
	regions, err := village.ParseGeoJSON([]byte(featureCollection))
	require.NoError(t, err)
	require.Len(t, regions, 3)
	assert.Equal(t, "双潭村", regions[0].Name)
	assert.Equal(t, "01", regions[1].Code)
	assert.Empty(t, regions[2].Polys)
	assert.True(t, regions[0].Contains(5, 5))
	assert.True(t, regions[1].Contains(20.5, 20.5))
}

func TestParseGeoJSON_Errors(t *testing.T) {
	_, err := village.ParseGeoJSON([]byte("{"))
	assert.Error(t, err)
	_, err = village.ParseGeoJSON([]byte(`{"type":"Point","coordinates":[1,2]}`))
	assert.Error(t, err)
}

func TestLoadBoundaries_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.geojson"), []byte(featureCollection), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.geojson"),
		[]byte(`{"type":"Feature","properties":{"VILLNAME":"西湖村"},"geometry":{"type":"Polygon","coordinates":[[[30,30],[30,31],[31,31],[31,30]]]}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))
	regions, err := village.LoadBoundaries(dir)
	require.NoError(t, err)
	require.Len(t, regions, 4)
	assert.Equal(t, "西湖村", regions[0].Name)

	_, err = village.LoadBoundaries(filepath.Join(dir, "missing.geojson"))
	assert.Error(t, err)
}

func TestResolver_UsesRegistry(t *testing.T) {
	reg, err := village.ParseRegistry([]byte(registryYAML))
	require.NoError(t, err)
	regions, err := village.ParseGeoJSON([]byte(featureCollection))
	require.NoError(t, err)
	r := village.NewResolver(regions, reg, 16, time.Minute)

	m := r.Resolve(5, 5)
	assert.Equal(t, village.Match{Name: "雙潭村", Code: "06", Matched: true}, m)
	// 第二次命中缓存，结果一致
	assert.Equal(t, m, r.Resolve(5, 5))

	assert.Equal(t, village.Match{Name: "範圍外", Code: "99"}, r.Resolve(50, 50))
	assert.Equal(t, "01", r.Resolve(20.5, 20.5).Code)
	assert.Len(t, r.Regions(), 3)
}

func TestDynamic(t *testing.T) {
	var d village.Dynamic
	assert.Equal(t, village.Match{Name: "範圍外", Code: "99"}, d.Resolve(5, 5))
	assert.False(t, d.KnownCode("06"))

	reg, err := village.ParseRegistry([]byte(registryYAML))
	require.NoError(t, err)
	regions, err := village.ParseGeoJSON([]byte(featureCollection))
	require.NoError(t, err)
	d.Set(village.NewResolver(regions, reg, 0, 0))
	assert.Equal(t, "雙潭村", d.Resolve(5, 5).Name)
	assert.True(t, d.KnownCode("06"))
	assert.True(t, d.KnownCode("99"))
}

func TestResolver_KnownCodeWithoutRegistry(t *testing.T) {
	regions, err := village.ParseGeoJSON([]byte(featureCollection))
	require.NoError(t, err)
	r := village.NewResolver(regions, nil, 0, 0)
	m := r.Resolve(20.5, 20.5)
	assert.Equal(t, "01", m.Code)
	assert.True(t, r.KnownCode(m.Code))
	assert.True(t, r.KnownCode("99"))
	assert.False(t, r.KnownCode("06"))
	assert.False(t, r.KnownCode(""))

	var d village.Dynamic
	d.Set(r)
	assert.True(t, d.KnownCode("01"))
}

func TestResolver_Version(t *testing.T) {
	reg, err := village.ParseRegistry([]byte(registryYAML))
	require.NoError(t, err)
	regions, err := village.ParseGeoJSON([]byte(featureCollection))
	require.NoError(t, err)

	a := village.NewResolver(regions, reg, 0, 0)
	b := village.NewResolver(regions, reg, 16, time.Minute)
	assert.NotEmpty(t, a.Version())
	assert.Equal(t, a.Version(), b.Version(), "same data, same version")

	moved, err := village.ParseGeoJSON([]byte(strings.Replace(featureCollection, "[10,10]", "[10,11]", 1)))
	require.NoError(t, err)
	assert.NotEqual(t, a.Version(), village.NewResolver(moved, reg, 0, 0).Version())
	assert.NotEqual(t, a.Version(), village.NewResolver(regions, nil, 0, 0).Version())

	var d village.Dynamic
	assert.Empty(t, d.Version())
	d.Set(a)
	assert.Equal(t, a.Version(), d.Version())
}

func TestLRU_EvictsAndExpires(t *testing.T) {
	c := village.NewLRU(2, time.Hour)
	c.Set("a", village.Match{Name: "A"})
	c.Set("b", village.Match{Name: "B"})
	_, _ = c.Get("a")
	c.Set("c", village.Match{Name: "C"})
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())

	exp := village.NewLRU(4, time.Nanosecond)
	exp.Set("x", village.Match{Name: "X"})
	time.Sleep(time.Millisecond)
	_, ok = exp.Get("x")
	assert.False(t, ok)
}

func TestLoadResolver(t *testing.T) {
	dir := t.TempDir()
	regPath := filepath.Join(dir, "villages.yaml")
	geoPath := filepath.Join(dir, "villages.geojson")
	require.NoError(t, os.WriteFile(regPath, []byte(registryYAML), 0o644))
	require.NoError(t, os.WriteFile(geoPath, []byte(featureCollection), 0o644))

	r, err := village.LoadResolver(regPath, geoPath, nil, 8, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "06", r.Resolve(5, 5).Code)
	require.NotNil(t, r.Registry())

	_, err = village.LoadResolver(filepath.Join(dir, "missing.yaml"), geoPath, nil, 8, time.Minute)
	assert.Error(t, err)

	bare, err := village.LoadResolver("", geoPath, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "99", bare.Resolve(50, 50).Code)
}
