// 包 attachment：巡检照片附件的解码与对象存储
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// MaxBytes：单个附件解码后的上限
const MaxBytes = 8 << 20

// Payload：解码后的附件
type Payload struct {
	Data        []byte
	ContentType string
}

var ErrEmpty = errors.New("attachment is empty")

// 文档注释：解码前端上传的照片
// 背景：前端以纯 base64 或 data URL（data:image/jpeg;base64,...）提交；两种形式都接受。
// 约束：仅接受 image/*；声明的类型缺失时按内容嗅探；超过 MaxBytes 视为非法。
func Decode(s string) (*Payload, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}
	declared := ""
	if strings.HasPrefix(s, "data:") {
		head, body, ok := strings.Cut(s[len("data:"):], ",")
		if !ok {
			return nil, fmt.Errorf("malformed data url")
		}
		if !strings.HasSuffix(head, ";base64") {
			return nil, fmt.Errorf("data url must be base64 encoded")
		}
		declared = strings.TrimSuffix(head, ";base64")
		s = body
	}
	if base64.StdEncoding.DecodedLen(len(s)) > MaxBytes+3 {
		return nil, fmt.Errorf("attachment exceeds %d bytes", MaxBytes)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, fmt.Errorf("attachment is not valid base64: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if len(data) > MaxBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", MaxBytes)
	}
	ct := declared
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("attachment type %s is not an image", ct)
	}
	return &Payload{Data: data, ContentType: ct}, nil
}

// Ext 返回内容类型对应的扩展名
func (p *Payload) Ext() string {
	switch p.ContentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/heic":
		return ".heic"
	}
	return ""
}
