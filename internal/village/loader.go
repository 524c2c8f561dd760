package village

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"streetlight-api/internal/logger"
)

// 未配置时依序尝试的名称属性（内政部村里界图使用 VILLNAME）
var defaultNameProps = []string{"VILLNAME", "name", "NAME", "village"}

// 文档注释：从文件或目录载入村里边界
// 背景：path 为 .geojson 文件时直接解析；为目录时按文件名顺序扫描 *.geojson，保证区域顺序稳定。
// 约束：无法读取或解析的文件返回错误；缺少几何的要素仍保留为空区域（判定时永不命中）。
func LoadBoundaries(path string, nameProps ...string) ([]Region, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat boundaries: %w", err)
	}
	files := []string{path}
	if st.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read boundaries dir: %w", err)
		}
		files = files[:0]
		for _, ent := range entries {
			if !ent.IsDir() && strings.HasSuffix(strings.ToLower(ent.Name()), ".geojson") {
				files = append(files, filepath.Join(path, ent.Name()))
			}
		}
		sort.Strings(files)
	}
	var out []Region
	for _, fp := range files {
		b, err := os.ReadFile(fp)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fp, err)
		}
		regions, err := ParseGeoJSON(b, nameProps...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fp, err)
		}
		out = append(out, regions...)
	}
	return out, nil
}

// ParseGeoJSON 解析 FeatureCollection 或单个 Feature
func ParseGeoJSON(b []byte, nameProps ...string) ([]Region, error) {
	if len(nameProps) == 0 {
		nameProps = defaultNameProps
	}
	var gj map[string]any
	if err := json.Unmarshal(b, &gj); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	var out []Region
	switch strings.ToLower(getStr(gj, "type")) {
	case "featurecollection":
		arr, _ := gj["features"].([]any)
		for _, it := range arr {
			if f, ok := it.(map[string]any); ok {
				out = append(out, parseFeature(f, nameProps))
			}
		}
	case "feature":
		out = append(out, parseFeature(gj, nameProps))
	default:
		return nil, fmt.Errorf("unsupported geojson type %q", getStr(gj, "type"))
	}
	return out, nil
}

func parseFeature(f map[string]any, nameProps []string) Region {
	var r Region
	if p, ok := f["properties"].(map[string]any); ok {
		for _, k := range nameProps {
			if v := getStr(p, k); v != "" {
				r.Name = normalizeName(v)
				break
			}
		}
		r.Code = getStr(p, "code")
	}
	if g, ok := f["geometry"].(map[string]any); ok {
		addPolysFromGeometry(&r, g)
	}
	return r
}

func addPolysFromGeometry(r *Region, g map[string]any) {
	coords, _ := g["coordinates"].([]any)
	switch strings.ToLower(getStr(g, "type")) {
	case "polygon":
		r.Polys = append(r.Polys, parsePolygon(coords))
	case "multipolygon":
		for _, part := range coords {
			if rings, ok := part.([]any); ok {
				r.Polys = append(r.Polys, parsePolygon(rings))
			}
		}
	}
}

func parsePolygon(rings []any) Polygon {
	var poly Polygon
	for _, ring := range rings {
		arr, ok := ring.([]any)
		if !ok {
			continue
		}
		var rr []Point
		for _, p := range arr {
			if vv, ok := p.([]any); ok && len(vv) >= 2 {
				lon, ok1 := vv[0].(float64)
				lat, ok2 := vv[1].(float64)
				if ok1 && ok2 {
					rr = append(rr, Point{Lat: lat, Lon: lon})
				}
			}
		}
		poly.Rings = append(poly.Rings, rr)
	}
	poly.BBox = computeBBox(poly)
	return poly
}

func getStr(m map[string]any, k string) string {
	if v, ok := m[k].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// 文档注释：按配置组装解析器（登记表 + 边界）
// 背景：服务启动与管理接口的重新载入共用同一流程，命令行工具也走这里。
// 约束：registryPath 为空时不使用登记表；nameProps 为空时依次使用登记表的 name_property 与默认属性名。
func LoadResolver(registryPath, boundariesPath string, nameProps []string, cacheSize int, cacheTTL time.Duration) (*Resolver, error) {
	var reg *Registry
	if registryPath != "" {
		r, err := LoadRegistry(registryPath)
		if err != nil {
			return nil, err
		}
		reg = r
	}
	if len(nameProps) == 0 && reg != nil && reg.NameProperty != "" {
		nameProps = []string{reg.NameProperty}
	}
	regions, err := LoadBoundaries(boundariesPath, nameProps...)
	if err != nil {
		return nil, err
	}
	logger.L().Info("village_boundaries_loaded", "path", boundariesPath, "regions", len(regions))
	return NewResolver(regions, reg, cacheSize, cacheTTL), nil
}
