// 包 village：村里边界的点入多边形判定、名称正规化与可热替换的解析器
package village

// 文档注释：村里与几何的最小数据结构
// 约束：几何仅支持 GeoJSON 的 Polygon/MultiPolygon；每个 Polygon 第一环为外环，其余为洞；
// 顶点按 GeoJSON 约定为 [lng, lat]，载入后存为 Point{Lat, Lon}。
type Region struct {
	Name  string
	Code  string
	Polys []Polygon
}

// Polygon：环集合与包围盒（minLon, minLat, maxLon, maxLat）
type Polygon struct {
	Rings [][]Point
	BBox  [4]float64
}

// Point：WGS84 坐标
type Point struct {
	Lat float64
	Lon float64
}

// Match：解析结果；Matched=false 表示落入兜底区域
type Match struct {
	Name    string `json:"name"`
	Code    string `json:"code"`
	Matched bool   `json:"matched"`
}

// 兜底区域默认值（未配置登记表时使用）
const (
	DefaultFallbackName = "範圍外"
	DefaultFallbackCode = "99"
)
