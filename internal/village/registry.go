package village

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"golang.org/x/text/unicode/norm"
)

// Definition：登记表中的一个村里
type Definition struct {
	Name    string   `yaml:"name" json:"name"`
	Code    string   `yaml:"code" json:"code"`
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
}

// 文档注释：村里登记表（名称 ↔ 代码 + 异体字别名 + 兜底区域）
// 约束：代码为 2 位数字且唯一；名称唯一；兜底代码不得与任何村里重复；
// 别名在载入时即做 NFC 正规化，查询时先 NFC 再查别名表。
type Registry struct {
	NameProperty string       `yaml:"name_property"`
	Fallback     Definition   `yaml:"fallback"`
	Villages     []Definition `yaml:"villages"`

	aliases map[string]string
	byName  map[string]string
	byCode  map[string]string
}

// LoadRegistry 读取 YAML 登记表
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read village registry: %w", err)
	}
	return ParseRegistry(b)
}

// ParseRegistry 解析并校验 YAML 登记表
func ParseRegistry(b []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("parse village registry: %w", err)
	}
	if err := r.index(); err != nil {
		return nil, err
	}
	return &r, nil
}

// NewRegistry 由代码内定义构造（测试与 CLI 使用）
func NewRegistry(fallback Definition, villages ...Definition) (*Registry, error) {
	r := &Registry{Fallback: fallback, Villages: villages}
	if err := r.index(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) index() error {
	if r.Fallback.Name == "" {
		r.Fallback.Name = DefaultFallbackName
	}
	if r.Fallback.Code == "" {
		r.Fallback.Code = DefaultFallbackCode
	}
	r.aliases = map[string]string{}
	r.byName = map[string]string{}
	r.byCode = map[string]string{}
	for i := range r.Villages {
		v := &r.Villages[i]
		v.Name = normalizeName(v.Name)
		v.Code = strings.TrimSpace(v.Code)
		if v.Name == "" {
			return fmt.Errorf("village #%d has no name", i+1)
		}
		if !validCode(v.Code) {
			return fmt.Errorf("village %s: code %q must be 2 digits", v.Name, v.Code)
		}
		if _, dup := r.byName[v.Name]; dup {
			return fmt.Errorf("village %s listed twice", v.Name)
		}
		if other, dup := r.byCode[v.Code]; dup {
			return fmt.Errorf("code %s shared by %s and %s", v.Code, other, v.Name)
		}
		r.byName[v.Name] = v.Code
		r.byCode[v.Code] = v.Name
		for _, a := range v.Aliases {
			a = normalizeName(a)
			if a != "" && a != v.Name {
				r.aliases[a] = v.Name
			}
		}
	}
	r.Fallback.Name = normalizeName(r.Fallback.Name)
	if !validCode(r.Fallback.Code) {
		return fmt.Errorf("fallback code %q must be 2 digits", r.Fallback.Code)
	}
	if name, dup := r.byCode[r.Fallback.Code]; dup {
		return fmt.Errorf("fallback code %s already used by %s", r.Fallback.Code, name)
	}
	return nil
}

func validCode(c string) bool {
	return len(c) == 2 && c[0] >= '0' && c[0] <= '9' && c[1] >= '0' && c[1] <= '9'
}

func normalizeName(s string) string { return norm.NFC.String(strings.TrimSpace(s)) }

// Canonical 返回正规化后的标准名称（NFC + 别名表）
func (r *Registry) Canonical(name string) string {
	n := normalizeName(name)
	if r == nil {
		return n
	}
	if c, ok := r.aliases[n]; ok {
		return c
	}
	return n
}

// CodeOf 按名称（含别名）查询代码
func (r *Registry) CodeOf(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	c, ok := r.byName[r.Canonical(name)]
	return c, ok
}

// NameOf 按代码查询名称
func (r *Registry) NameOf(code string) (string, bool) {
	if r == nil {
		return "", false
	}
	if code == r.Fallback.Code {
		return r.Fallback.Name, true
	}
	n, ok := r.byCode[strings.TrimSpace(code)]
	return n, ok
}

// KnownCode：登记表中的村里代码或兜底代码
func (r *Registry) KnownCode(code string) bool {
	_, ok := r.NameOf(code)
	return ok
}

// FallbackMatch 返回兜底区域
func (r *Registry) FallbackMatch() Match {
	if r == nil {
		return Match{Name: DefaultFallbackName, Code: DefaultFallbackCode}
	}
	return Match{Name: r.Fallback.Name, Code: r.Fallback.Code}
}
