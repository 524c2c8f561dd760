// 包 nearby：现况表路灯的最近邻查询（KD-Tree + Haversine）
package nearby

import (
	"math"

	"streetlight-api/internal/lights"
)

// 文档注释：KD-Tree 最近邻（二维经纬）
// 背景：巡检画面需要找出离当前位置最近的路灯；现况表规模为千级，快照构建后只读。
// 约束：按经度/纬度交替分割；查询结果距离单位为米；maxMeters<=0 表示不限半径。
type kdNode struct {
	p  lights.LightRecord
	ax int // 0:lng,1:lat
	l  *kdNode
	r  *kdNode
}

// Index：不可变的最近邻索引，可并发查询
type Index struct {
	root *kdNode
	size int
}

// Hit：查询结果
type Hit struct {
	Light  lights.LightRecord `json:"light"`
	Meters float64            `json:"meters"`
}

// Build 由现况表快照构建索引（输入切片不会被修改）
func Build(rows []lights.LightRecord) *Index {
	cp := append([]lights.LightRecord(nil), rows...)
	return &Index{root: buildKD(cp, 0), size: len(cp)}
}

func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return ix.size
}

func buildKD(ps []lights.LightRecord, depth int) *kdNode {
	if len(ps) == 0 {
		return nil
	}
	ax := depth % 2
	mid := len(ps) / 2
	selectNth(ps, mid, ax)
	node := &kdNode{p: ps[mid], ax: ax}
	node.l = buildKD(ps[:mid], depth+1)
	node.r = buildKD(ps[mid+1:], depth+1)
	return node
}

// 原地 nth 元素选择
func selectNth(a []lights.LightRecord, n int, ax int) {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := partition(a, lo, hi, (lo+hi)/2, ax)
		if p == n {
			return
		}
		if n < p {
			hi = p - 1
		} else {
			lo = p + 1
		}
	}
}

func partition(a []lights.LightRecord, lo, hi, pivot, ax int) int {
	pv := a[pivot]
	a[pivot], a[hi] = a[hi], a[pivot]
	i := lo
	for j := lo; j < hi; j++ {
		if axisVal(a[j], ax) < axisVal(pv, ax) {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}

func axisVal(p lights.LightRecord, ax int) float64 {
	if ax == 0 {
		return p.Lng
	}
	return p.Lat
}

// Nearest 返回距离 (lat, lng) 最近的路灯
func (ix *Index) Nearest(lat, lng, maxMeters float64) (Hit, bool) {
	if ix == nil || ix.root == nil {
		return Hit{}, false
	}
	var best lights.LightRecord
	bestD := math.MaxFloat64
	var dfs func(n *kdNode)
	dfs = func(n *kdNode) {
		if n == nil {
			return
		}
		d := Haversine(lat, lng, n.p.Lat, n.p.Lng)
		if d < bestD || (d == bestD && n.p.ID < best.ID) {
			bestD = d
			best = n.p
		}
		key := lng
		if n.ax == 1 {
			key = lat
		}
		q := axisVal(n.p, n.ax)
		first, second := n.l, n.r
		if key > q {
			first, second = n.r, n.l
		}
		dfs(first)
		// 分割平面的最短地面距离：纬度轴为常数，经度轴按查询纬度缩放
		if planeMeters(n.ax, key-q, lat) <= bestD {
			dfs(second)
		}
	}
	dfs(ix.root)
	if maxMeters > 0 && bestD > maxMeters {
		return Hit{}, false
	}
	return Hit{Light: best, Meters: bestD}, true
}

const metersPerDeg = earthRadiusM * math.Pi / 180

func planeMeters(ax int, deltaDeg, lat float64) float64 {
	d := math.Abs(deltaDeg) * metersPerDeg
	if ax == 0 {
		// 高纬度时经线收敛，取保守下界
		d *= math.Cos(math.Min(math.Abs(lat)+1, 90) * math.Pi / 180)
	}
	return d
}

const earthRadiusM = 6371000.0

// Haversine 球面距离，返回米
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}
