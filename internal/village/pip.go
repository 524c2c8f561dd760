package village

// 文档注释：点入多边形判定（Even-Odd）
// 约束：外环命中且不在任何洞内视为命中；环少于 3 个顶点视为不命中。
func pointInPoly(pt Point, poly Polygon) bool {
	if len(poly.Rings) == 0 {
		return false
	}
	if !pointInRing(pt, poly.Rings[0]) {
		return false
	}
	for i := 1; i < len(poly.Rings); i++ {
		if pointInRing(pt, poly.Rings[i]) {
			return false
		}
	}
	return true
}

// 水平射线法：逐边检查射线是否穿越，穿越一次翻转 inside
// 约束：纵坐标用严格不等式判断跨越，水平边不会进入除法分支
func pointInRing(pt Point, ring []Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x := pt.Lon
	y := pt.Lat
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func inBBox(pt Point, b [4]float64) bool {
	return pt.Lon >= b[0] && pt.Lon <= b[2] && pt.Lat >= b[1] && pt.Lat <= b[3]
}

func computeBBox(p Polygon) [4]float64 {
	b := [4]float64{180, 90, -180, -90}
	for _, r := range p.Rings {
		for _, pt := range r {
			if pt.Lon < b[0] {
				b[0] = pt.Lon
			}
			if pt.Lat < b[1] {
				b[1] = pt.Lat
			}
			if pt.Lon > b[2] {
				b[2] = pt.Lon
			}
			if pt.Lat > b[3] {
				b[3] = pt.Lat
			}
		}
	}
	return b
}

// NewPolygon 由 [lng, lat] 顶点环构造多边形并计算包围盒
func NewPolygon(rings ...[][2]float64) Polygon {
	var p Polygon
	for _, r := range rings {
		ring := make([]Point, 0, len(r))
		for _, v := range r {
			ring = append(ring, Point{Lon: v[0], Lat: v[1]})
		}
		p.Rings = append(p.Rings, ring)
	}
	p.BBox = computeBBox(p)
	return p
}

// Contains 判断点是否落在区域任一多边形内
func (r Region) Contains(lat, lng float64) bool {
	pt := Point{Lat: lat, Lon: lng}
	for _, p := range r.Polys {
		if !inBBox(pt, p.BBox) {
			continue
		}
		if pointInPoly(pt, p) {
			return true
		}
	}
	return false
}

// Locate 按输入顺序返回第一个包含该点的区域下标
func Locate(lat, lng float64, regions []Region) (int, bool) {
	for i := range regions {
		if regions[i].Contains(lat, lng) {
			return i, true
		}
	}
	return -1, false
}

// 文档注释：纯函数形式的村里解析
// 背景：按输入顺序逐区判定，首个命中者胜出；名称经 NFC 正规化后返回。
// 约束：regions 为空或几何缺失时不报错，直接返回兜底名称。
func Resolve(lat, lng float64, regions []Region) string {
	if i, ok := Locate(lat, lng, regions); ok {
		return normalizeName(regions[i].Name)
	}
	return DefaultFallbackName
}
