package lights

import (
	"strings"

	"github.com/shopspring/decimal"

	"streetlight-api/internal/errkind"
)

var (
	latLimit = decimal.NewFromInt(90)
	lngLimit = decimal.NewFromInt(180)
)

// Coord：十进制度坐标（WGS84）
// 约束：以 decimal 保存原始精度，历史记录写入其规范文本，避免浮点格式化噪声
type Coord struct {
	Lat decimal.Decimal
	Lng decimal.Decimal
}

// ParseCoord 解析纬度/经度文本
// 异常：空值、无法解析、超出 [-90,90]/[-180,180] 均返回 MalformedCoordinate
func ParseCoord(lat, lng string) (Coord, error) {
	la, err := parseDegree("lat", lat, latLimit)
	if err != nil {
		return Coord{}, err
	}
	ln, err := parseDegree("lng", lng, lngLimit)
	if err != nil {
		return Coord{}, err
	}
	return Coord{Lat: la, Lng: ln}, nil
}

func parseDegree(field, s string, limit decimal.Decimal) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errkind.MalformedCoordinate.WithMessagef("%s is empty", field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errkind.MalformedCoordinate.WithMessagef("%s %q is not a decimal number", field, s)
	}
	if d.Abs().GreaterThan(limit) {
		return decimal.Zero, errkind.MalformedCoordinate.WithMessagef("%s %s out of range", field, d.String())
	}
	return d, nil
}

// CoordFromFloat 由现况表的浮点坐标构造
func CoordFromFloat(lat, lng float64) Coord {
	return Coord{Lat: decimal.NewFromFloat(lat), Lng: decimal.NewFromFloat(lng)}
}

// Float 返回写入现况表用的浮点值
func (c Coord) Float() (float64, float64) {
	lat, _ := c.Lat.Float64()
	lng, _ := c.Lng.Float64()
	return lat, lng
}

// Strings 返回写入历史记录用的文本
func (c Coord) Strings() (string, string) { return c.Lat.String(), c.Lng.String() }

// Equal 判断两个坐标数值相等
func (c Coord) Equal(o Coord) bool { return c.Lat.Equal(o.Lat) && c.Lng.Equal(o.Lng) }
