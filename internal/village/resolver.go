package village

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"

	"streetlight-api/internal/logger"
	"streetlight-api/internal/metrics"
)

// 文档注释：村里解析器（包围盒过滤 → 点入多边形 → 兜底区域）
// 背景：边界与登记表在构造时绑定，名称统一经登记表正规化，代码缺失的区域由登记表补齐。
// 约束：构造后只读，可被多个请求并发使用；缓存随解析器一起替换，不需要单独失效。
type Resolver struct {
	regions []Region
	reg     *Registry
	cache   *LRU
	version string
}

// NewResolver 绑定边界与登记表；reg 可为 nil（仅 NFC 正规化，兜底使用默认值）
func NewResolver(regions []Region, reg *Registry, cacheSize int, cacheTTL time.Duration) *Resolver {
	rs := make([]Region, 0, len(regions))
	for _, r := range regions {
		r.Name = reg.Canonical(r.Name)
		if code, ok := reg.CodeOf(r.Name); ok {
			r.Code = code
		}
		if r.Code == "" {
			logger.L().Warn("village_code_missing", "name", r.Name)
		}
		rs = append(rs, r)
	}
	var c *LRU
	if cacheSize > 0 {
		c = NewLRU(cacheSize, cacheTTL)
	}
	return &Resolver{regions: rs, reg: reg, cache: c, version: contentVersion(rs, reg)}
}

// contentVersion 由边界与登记表内容计算的摘要；同一份资料在任何实例、任何时刻都得到相同的值
func contentVersion(regions []Region, reg *Registry) string {
	h := sha256.New()
	w := func(s string) { h.Write([]byte(s)); h.Write([]byte{0}) }
	f := func(v float64) { w(strconv.FormatFloat(v, 'g', -1, 64)) }
	fb := reg.FallbackMatch()
	w(fb.Name)
	w(fb.Code)
	if reg != nil {
		for _, v := range reg.Villages {
			w(v.Name)
			w(v.Code)
			for _, a := range v.Aliases {
				w(a)
			}
		}
	}
	for _, r := range regions {
		w("region")
		w(r.Name)
		w(r.Code)
		for _, p := range r.Polys {
			for _, ring := range p.Rings {
				w("ring")
				for _, pt := range ring {
					f(pt.Lat)
					f(pt.Lon)
				}
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Version 返回资料版本；边界或登记表有任何变化时随之改变
func (r *Resolver) Version() string { return r.version }

// KnownCode：登记表中的代码或兜底代码；未绑定登记表时改用边界自带的代码
func (r *Resolver) KnownCode(code string) bool {
	if r.reg != nil {
		return r.reg.KnownCode(code)
	}
	if code == DefaultFallbackCode {
		return true
	}
	for _, rg := range r.regions {
		if rg.Code != "" && rg.Code == code {
			return true
		}
	}
	return false
}

func cacheKey(lat, lng float64) string {
	return strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lng, 'f', 6, 64)
}

// Resolve 返回坐标所属村里；未命中任何边界时返回兜底区域
func (r *Resolver) Resolve(lat, lng float64) Match {
	key := cacheKey(lat, lng)
	if r.cache != nil {
		if m, ok := r.cache.Get(key); ok {
			metrics.VillageResolveTotal.WithLabelValues("cache").Inc()
			return m
		}
	}
	m := r.reg.FallbackMatch()
	if i, ok := Locate(lat, lng, r.regions); ok {
		m = Match{Name: r.regions[i].Name, Code: r.regions[i].Code, Matched: true}
		metrics.VillageResolveTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.VillageResolveTotal.WithLabelValues("fallback").Inc()
	}
	if r.cache != nil {
		r.cache.Set(key, m)
	}
	logger.L().Debug("village_resolve", "lat", lat, "lng", lng, "name", m.Name, "code", m.Code, "matched", m.Matched)
	return m
}

// Registry 返回绑定的登记表（可能为 nil）
func (r *Resolver) Registry() *Registry { return r.reg }

// Regions 返回区域摘要（不含几何）
func (r *Resolver) Regions() []Match {
	out := make([]Match, 0, len(r.regions))
	for _, rg := range r.regions {
		out = append(out, Match{Name: rg.Name, Code: rg.Code, Matched: len(rg.Polys) > 0})
	}
	return out
}

// 文档注释：可热替换的解析器持有者
// 背景：重新载入边界时原子替换整个解析器，读路径无锁；未设置时所有坐标落入兜底区域。
type Dynamic struct{ v atomic.Pointer[Resolver] }

func (d *Dynamic) Set(r *Resolver) { d.v.Store(r) }

func (d *Dynamic) Load() *Resolver { return d.v.Load() }

func (d *Dynamic) Resolve(lat, lng float64) Match {
	r := d.v.Load()
	if r == nil {
		return (*Registry)(nil).FallbackMatch()
	}
	return r.Resolve(lat, lng)
}

// KnownCode 判断村里代码是否可用于新增
func (d *Dynamic) KnownCode(code string) bool {
	r := d.v.Load()
	return r != nil && r.KnownCode(code)
}

// Version 当前解析器的资料版本；未设置时为空
func (d *Dynamic) Version() string {
	if r := d.v.Load(); r != nil {
		return r.version
	}
	return ""
}
