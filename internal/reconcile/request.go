// 包 reconcile：路灯现况表与历史记录的对账器（单写者、事务内成对写入）
package reconcile

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"streetlight-api/internal/attachment"
	"streetlight-api/internal/errkind"
	"streetlight-api/internal/lights"
)

// Text：兼容字符串与数字两种 JSON 写法的文本字段
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = Text(n.String())
	return nil
}

func (t Text) String() string { return strings.TrimSpace(string(t)) }

// Request：变更请求的线上形态
type Request struct {
	Action      string              `json:"action"`
	ID          Text                `json:"id,omitempty"`
	Lat         Text                `json:"lat,omitempty"`
	Lng         Text                `json:"lng,omitempty"`
	BeforeLat   Text                `json:"beforeLat,omitempty"`
	BeforeLng   Text                `json:"beforeLng,omitempty"`
	VillageCode Text                `json:"villageCode,omitempty"`
	Note        string              `json:"note,omitempty"`
	Attachment  string              `json:"attachment,omitempty"`
	Time        string              `json:"time,omitempty"`
	Items       []lights.HistoryKey `json:"items,omitempty"`

	// 报修单字段
	ReportID   Text        `json:"reportId,omitempty"`
	Fault      string      `json:"fault,omitempty"`
	ReportedAt string      `json:"reportedAt,omitempty"`
	Date       string      `json:"date,omitempty"`
	Photos     []PhotoPair `json:"photos,omitempty"`
}

// PhotoPair：一组维修前后照片（data URL 或纯 base64，可缺其一）
type PhotoPair struct {
	Pre  string `json:"pre,omitempty"`
	Post string `json:"post,omitempty"`
}

// MaxPhotoPairs：一次结案最多附带的照片组数
const MaxPhotoPairs = 6

// 变更动作名
const (
	ActionNew         = "new"
	ActionUpdate      = "update"
	ActionRestore     = "restore"
	ActionUpsert      = "upsert"
	ActionDeleteLight = "deleteLight"
	ActionDelete      = "delete"
	ActionBatchDelete = "batchDelete"

	ActionReportFault    = "reportFault"
	ActionCompleteRepair = "completeRepair"
)

// Mutation：已校验的变更（标签联合，每个变体只携带所需字段）
type Mutation interface {
	Action() string
	mutation()
}

// NewLight：新设路灯；ID 为空时在事务内分配
type NewLight struct {
	ID          string
	VillageCode string
	Coord       lights.Coord
	Note        string
	Attachment  *attachment.Payload
}

// MoveKind：坐标变更的语义
type MoveKind string

const (
	MoveUpdate  MoveKind = "update"
	MoveRestore MoveKind = "restore"
	// MoveUpsert：调用方显式选择“编号不存在则新增”
	MoveUpsert MoveKind = "upsert"
)

// MoveLight：更新、还原或显式 upsert 坐标；Before 为调用方看到的旧坐标（可选，仅用于比对）
type MoveLight struct {
	Kind       MoveKind
	ID         string
	Coord      lights.Coord
	Before     *lights.Coord
	Note       string
	Attachment *attachment.Payload
}

// RemoveLight：移除路灯
type RemoveLight struct {
	ID   string
	Note string
}

// DeleteHistory：删除单条历史
type DeleteHistory struct{ Key lights.HistoryKey }

// BatchDeleteHistory：批量删除历史
type BatchDeleteHistory struct{ Keys []lights.HistoryKey }

// ReportFault：登记一张报修单；ReportedAt 为空时取变更时间
type ReportFault struct {
	ID         string
	Fault      string
	ReportedAt string
}

// PhotoPayloads：已解码的一组维修前后照片
type PhotoPayloads struct {
	Before *attachment.Payload
	After  *attachment.Payload
}

// CompleteRepair：报修单结案；Date 已正规化为 yyyy/mm/dd
type CompleteRepair struct {
	ReportID int64
	Date     string
	Note     string
	Photos   []PhotoPayloads
}

func (NewLight) Action() string           { return ActionNew }
func (m MoveLight) Action() string        { return string(m.Kind) }
func (RemoveLight) Action() string        { return ActionDeleteLight }
func (DeleteHistory) Action() string      { return ActionDelete }
func (BatchDeleteHistory) Action() string { return ActionBatchDelete }
func (ReportFault) Action() string        { return ActionReportFault }
func (CompleteRepair) Action() string     { return ActionCompleteRepair }

func (NewLight) mutation()           {}
func (MoveLight) mutation()          {}
func (RemoveLight) mutation()        {}
func (DeleteHistory) mutation()      {}
func (BatchDeleteHistory) mutation() {}
func (ReportFault) mutation()        {}
func (CompleteRepair) mutation()     {}

// 文档注释：在边界处把线上请求解码为类型化变更
// 异常：缺少必填字段或编号格式错误返回 InvalidRequest；坐标非法返回 MalformedCoordinate；
// new 缺少村里代码或代码格式错误返回 InvalidVillageCode（代码是否登记由对账器检查）。
func Decode(req Request) (Mutation, error) {
	action := strings.TrimSpace(req.Action)
	switch action {
	case ActionNew:
		code := req.VillageCode.String()
		if code == "" {
			return nil, errkind.InvalidVillageCode.WithMessage("villageCode is required for new")
		}
		if !lights.ValidVillageCode(code) {
			return nil, errkind.InvalidVillageCode.WithMessagef("village code %q must be %d digits", code, lights.CodeLength)
		}
		m := NewLight{VillageCode: code, Note: strings.TrimSpace(req.Note)}
		if raw := req.ID.String(); raw != "" {
			id, err := requireID(raw)
			if err != nil {
				return nil, err
			}
			m.ID = id
		}
		c, err := lights.ParseCoord(req.Lat.String(), req.Lng.String())
		if err != nil {
			return nil, err
		}
		m.Coord = c
		if m.Attachment, err = decodeAttachment(req.Attachment); err != nil {
			return nil, err
		}
		return m, nil

	case ActionUpdate, ActionRestore, ActionUpsert:
		id, err := requireID(req.ID.String())
		if err != nil {
			return nil, err
		}
		c, err := lights.ParseCoord(req.Lat.String(), req.Lng.String())
		if err != nil {
			return nil, err
		}
		m := MoveLight{Kind: MoveKind(action), ID: id, Coord: c, Note: strings.TrimSpace(req.Note)}
		bl, bg := req.BeforeLat.String(), req.BeforeLng.String()
		if bl != "" || bg != "" {
			b, err := lights.ParseCoord(bl, bg)
			if err != nil {
				return nil, err
			}
			m.Before = &b
		}
		if m.Attachment, err = decodeAttachment(req.Attachment); err != nil {
			return nil, err
		}
		return m, nil

	case ActionDeleteLight:
		id, err := requireID(req.ID.String())
		if err != nil {
			return nil, err
		}
		return RemoveLight{ID: id, Note: strings.TrimSpace(req.Note)}, nil

	case ActionDelete:
		id := lights.CleanID(req.ID.String())
		t := strings.TrimSpace(req.Time)
		if id == "" || t == "" {
			return nil, errkind.InvalidRequest.WithMessage("delete requires id and time")
		}
		return DeleteHistory{Key: lights.HistoryKey{LightID: id, Time: t}}, nil

	case ActionBatchDelete:
		if len(req.Items) == 0 {
			return nil, errkind.InvalidRequest.WithMessage("batchDelete requires at least one item")
		}
		keys := make([]lights.HistoryKey, 0, len(req.Items))
		for i, it := range req.Items {
			id := lights.CleanID(it.LightID)
			t := strings.TrimSpace(it.Time)
			if id == "" || t == "" {
				return nil, errkind.InvalidRequest.WithMessagef("item %d requires id and time", i+1)
			}
			keys = append(keys, lights.HistoryKey{LightID: id, Time: t})
		}
		return BatchDeleteHistory{Keys: keys}, nil

	case ActionReportFault:
		id, err := requireID(req.ID.String())
		if err != nil {
			return nil, err
		}
		return ReportFault{ID: id, Fault: strings.TrimSpace(req.Fault), ReportedAt: strings.TrimSpace(req.ReportedAt)}, nil

	case ActionCompleteRepair:
		return decodeCompleteRepair(req)

	case "":
		return nil, errkind.InvalidRequest.WithMessage("action is required")
	}
	return nil, errkind.InvalidRequest.WithMessagef("unknown action %q", action)
}

func decodeCompleteRepair(req Request) (Mutation, error) {
	raw := req.ReportID.String()
	if raw == "" {
		return nil, errkind.InvalidRequest.WithMessage("completeRepair requires reportId")
	}
	rid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || rid <= 0 {
		return nil, errkind.InvalidRequest.WithMessagef("reportId %q must be a positive integer", raw)
	}
	if strings.TrimSpace(req.Date) == "" {
		return nil, errkind.InvalidRequest.WithMessage("completeRepair requires date")
	}
	date, err := lights.RepairDate(req.Date)
	if err != nil {
		return nil, errkind.InvalidRequest.Wrap(err, "date")
	}
	if len(req.Photos) > MaxPhotoPairs {
		return nil, errkind.InvalidRequest.WithMessagef("at most %d photo pairs", MaxPhotoPairs)
	}
	m := CompleteRepair{ReportID: rid, Date: date, Note: strings.TrimSpace(req.Note)}
	for _, pp := range req.Photos {
		var pair PhotoPayloads
		if pair.Before, err = decodeAttachment(pp.Pre); err != nil {
			return nil, err
		}
		if pair.After, err = decodeAttachment(pp.Post); err != nil {
			return nil, err
		}
		if pair.Before != nil || pair.After != nil {
			m.Photos = append(m.Photos, pair)
		}
	}
	return m, nil
}

func requireID(raw string) (string, error) {
	id := lights.CleanID(raw)
	if id == "" {
		return "", errkind.InvalidRequest.WithMessage("id is required")
	}
	if !lights.ValidID(id) {
		return "", errkind.InvalidRequest.WithMessagef("id %q must be %d digits", id, lights.IDLength)
	}
	return id, nil
}

func decodeAttachment(s string) (*attachment.Payload, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	p, err := attachment.Decode(s)
	if err != nil {
		return nil, errkind.InvalidRequest.Wrap(err, "attachment")
	}
	return p, nil
}
