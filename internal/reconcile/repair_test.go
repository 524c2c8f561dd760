package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetlight-api/internal/errkind"
	"streetlight-api/internal/lights"
	"streetlight-api/internal/reconcile"
	"streetlight-api/internal/store/memstore"
)

const jpeg = "data:image/jpeg;base64,ZmFrZS1qcGVn"

func repairs(t *testing.T, st *memstore.Store, status lights.RepairStatus) []lights.RepairReport {
	t.Helper()
	out, err := st.ListRepairs(context.Background(), status)
	require.NoError(t, err)
	return out
}

func TestReportFault(t *testing.T) {
	f := newFixture(t)
	f.mustDo(t, reconcile.Request{Action: "new", VillageCode: "01", Lat: "24.41", Lng: "120.68"})

	res := f.mustDo(t, reconcile.Request{Action: "reportFault", ID: "'01001", Fault: " 燈不亮 "})
	require.NotNil(t, res.Report)
	assert.Equal(t, "01001", res.ID)
	assert.EqualValues(t, 1, res.Report.ReportID)
	assert.Equal(t, lights.RepairPending, res.Report.Status)
	assert.Equal(t, "燈不亮", res.Report.Fault)
	assert.Equal(t, "115/10/19 9:00:00.001", res.Report.ReportedAt)

	res = f.mustDo(t, reconcile.Request{Action: "reportFault", ID: "01001", Fault: "閃爍", ReportedAt: "115/10/18 20:15:00"})
	assert.EqualValues(t, 2, res.Report.ReportID)
	assert.Equal(t, "115/10/18 20:15:00", res.Report.ReportedAt)

	// 报修不动现况表与坐标历史
	assert.Len(t, f.st.History(), 1)
	assert.Len(t, repairs(t, f.st, lights.RepairPending), 2)

	_, err := f.do(t, reconcile.Request{Action: "reportFault", ID: "01009"})
	assert.ErrorIs(t, err, errkind.NotFound)
	require.Len(t, f.pub.events, 3)
	assert.Equal(t, "reportFault", f.pub.events[2].Action)
	assert.NotNil(t, f.pub.events[2].Report)
}

func TestCompleteRepair(t *testing.T) {
	st := memstore.New()
	att := &fakeAttachments{}
	rec := reconcile.New(reconcile.Deps{Store: st, Attachments: att, Now: frozenClock()})
	apply := func(req reconcile.Request) (reconcile.Result, error) {
		m, err := reconcile.Decode(req)
		if err != nil {
			return reconcile.Result{}, err
		}
		return rec.Apply(context.Background(), m)
	}
	_, err := apply(reconcile.Request{Action: "new", VillageCode: "01", Lat: "24.41", Lng: "120.68"})
	require.NoError(t, err)
	_, err = apply(reconcile.Request{Action: "reportFault", ID: "01001", Fault: "燈不亮"})
	require.NoError(t, err)

	res, err := apply(reconcile.Request{
		Action: "completeRepair", ReportID: "1", Date: "2026-10-19", Note: "自備線故障",
		Photos: []reconcile.PhotoPair{{Pre: jpeg, Post: jpeg}, {Post: jpeg}, {}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Report)
	assert.Equal(t, "01001", res.ID)
	assert.Equal(t, lights.RepairDone, res.Report.Status)
	assert.Equal(t, "2026/10/19", res.Report.RepairedOn)
	assert.Equal(t, "自備線故障", res.Report.RepairNote)
	assert.Equal(t, []lights.RepairPhoto{
		{Before: "https://files.example/lights/1.jpg", After: "https://files.example/lights/2.jpg"},
		{After: "https://files.example/lights/3.jpg"},
	}, res.Report.Photos)

	assert.Empty(t, repairs(t, st, lights.RepairPending))
	done := repairs(t, st, lights.RepairDone)
	require.Len(t, done, 1)
	assert.Equal(t, res.Report.Photos, done[0].Photos)

	_, err = apply(reconcile.Request{Action: "completeRepair", ReportID: "1", Date: "2026/10/20"})
	assert.ErrorIs(t, err, errkind.Conflict)
	_, err = apply(reconcile.Request{Action: "completeRepair", ReportID: "7", Date: "2026/10/20"})
	assert.ErrorIs(t, err, errkind.NotFound)
	assert.Empty(t, att.removed)
}

func TestCompleteRepair_CleansUploadsOnFailure(t *testing.T) {
	st := memstore.New()
	att := &fakeAttachments{}
	rec := reconcile.New(reconcile.Deps{Store: st, Attachments: att, Now: frozenClock()})
	for _, req := range []reconcile.Request{
		{Action: "new", VillageCode: "01", Lat: "24.41", Lng: "120.68"},
		{Action: "reportFault", ID: "01001"},
	} {
		m, err := reconcile.Decode(req)
		require.NoError(t, err)
		_, err = rec.Apply(context.Background(), m)
		require.NoError(t, err)
	}
	m, err := reconcile.Decode(reconcile.Request{
		Action: "completeRepair", ReportID: "1", Date: "2026-10-19",
		Photos: []reconcile.PhotoPair{{Pre: jpeg, Post: jpeg}},
	})
	require.NoError(t, err)

	// 第二张照片上传失败：已上传的第一张被清理，报修单维持未查修
	att.failOn = 2
	_, err = rec.Apply(context.Background(), m)
	assert.ErrorIs(t, err, errkind.StorageUnavailable)
	assert.Equal(t, att.put, att.removed)
	assert.Len(t, repairs(t, st, lights.RepairPending), 1)

	// 存储提交失败：两张照片都被清理
	att.failOn = 0
	att.put, att.removed = nil, nil
	st.FailNext = errors.New("connection reset")
	_, err = rec.Apply(context.Background(), m)
	assert.ErrorIs(t, err, errkind.StorageUnavailable)
	require.Len(t, att.put, 2)
	assert.Equal(t, att.put, att.removed)
	assert.Len(t, repairs(t, st, lights.RepairPending), 1)
}

func TestDecode_RepairActions(t *testing.T) {
	m, err := decodeJSON(t, `{"action":"completeRepair","reportId":12,"date":"2026-1-5","note":" 外線故障，已通知台電處理 ","photos":[{"pre":"`+jpeg+`"},{}]}`)
	require.NoError(t, err)
	cr, ok := m.(reconcile.CompleteRepair)
	require.True(t, ok)
	assert.EqualValues(t, 12, cr.ReportID)
	assert.Equal(t, "2026/01/05", cr.Date)
	assert.Equal(t, "外線故障，已通知台電處理", cr.Note)
	require.Len(t, cr.Photos, 1)
	assert.NotNil(t, cr.Photos[0].Before)
	assert.Nil(t, cr.Photos[0].After)

	cases := map[string]string{
		"no report id":  `{"action":"completeRepair","date":"2026-10-19"}`,
		"bad report id": `{"action":"completeRepair","reportId":"x","date":"2026-10-19"}`,
		"no date":       `{"action":"completeRepair","reportId":1}`,
		"bad date":      `{"action":"completeRepair","reportId":1,"date":"19/10/2026"}`,
		"bad photo":     `{"action":"completeRepair","reportId":1,"date":"2026-10-19","photos":[{"pre":"data:text/plain;base64,aGk="}]}`,
		"no light id":   `{"action":"reportFault","fault":"燈不亮"}`,
	}
	for name, body := range cases {
		_, err := decodeJSON(t, body)
		assert.ErrorIs(t, err, errkind.InvalidRequest, name)
	}

	m, err = decodeJSON(t, `{"action":"reportFault","id":"01001","fault":"燈不亮"}`)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ReportFault{ID: "01001", Fault: "燈不亮"}, m)
}
