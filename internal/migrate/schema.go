package migrate

import (
	"context"
	"database/sql"

	"streetlight-api/internal/logger"
)

// 背景：首次运行自动创建现况表、历史表与报修表，保障后续导入与对账
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；历史表以 seq 保持追加顺序
var stmts = []string{
	`CREATE TABLE IF NOT EXISTS _lights (
        id TEXT PRIMARY KEY CHECK (id ~ '^[0-9]{5}$'),
        lat DOUBLE PRECISION NOT NULL,
        lng DOUBLE PRECISION NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE TABLE IF NOT EXISTS _light_history (
        seq BIGSERIAL PRIMARY KEY,
        time_label TEXT NOT NULL,
        light_id TEXT NOT NULL,
        before_lat TEXT NOT NULL DEFAULT '',
        before_lng TEXT NOT NULL DEFAULT '',
        after_lat TEXT NOT NULL DEFAULT '',
        after_lng TEXT NOT NULL DEFAULT '',
        action TEXT NOT NULL CHECK (action IN ('new','update','restore','deleteLight')),
        note TEXT NOT NULL DEFAULT '',
        attachment_url TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_light_history_key ON _light_history(light_id, time_label)`,
	`CREATE TABLE IF NOT EXISTS _light_repairs (
        report_id BIGSERIAL PRIMARY KEY,
        light_id TEXT NOT NULL,
        reported_at TEXT NOT NULL,
        status TEXT NOT NULL CHECK (status IN ('未查修','已查修')),
        fault TEXT NOT NULL DEFAULT '',
        repaired_on TEXT NOT NULL DEFAULT '',
        repair_note TEXT NOT NULL DEFAULT '',
        photos JSONB NOT NULL DEFAULT '[]',
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
	`CREATE INDEX IF NOT EXISTS idx_light_repairs_status ON _light_repairs(status, report_id)`,
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
