package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/hookmeter/internal/model"
)

func records(field string, values ...int64) []model.EventRecord {
	out := make([]model.EventRecord, len(values))
	for i, v := range values {
		r := model.NewRecord(model.KindTestRun, time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC), model.StatusSuccess)
		r.Fields[field] = v
		out[i] = r
	}
	return out
}

func TestLastN(t *testing.T) {
	s := []int{1, 2, 3}

	assert.Equal(t, []int{1, 2, 3}, LastN(s, 10), "shorter sequence is returned whole, in order")
	assert.Equal(t, []int{2, 3}, LastN(s, 2))
	assert.Equal(t, []int{1, 2, 3}, LastN(s, 3))
	assert.Empty(t, LastN(s, 0))
	assert.Empty(t, LastN(s, -4))
	assert.Empty(t, LastN([]int(nil), 3))
}

func TestLastN_DoesNotAlias(t *testing.T) {
	s := []int{1, 2, 3}
	w := LastN(s, 2)
	w[0] = 99
	assert.Equal(t, []int{1, 2, 3}, s)
}

func TestAverage(t *testing.T) {
	const f = model.FieldCoveragePct

	assert.Equal(t, int64(0), Average(nil, f))
	assert.Equal(t, int64(85), Average(records(f, 80, 90), f))
	assert.Equal(t, int64(76), Average(records(f, 70, 70, 90), f), "floor of 76.67")
	assert.Equal(t, int64(-2), Average(records(f, -1, -2), f), "floor rounds toward negative infinity")
}

func TestAverage_MissingFieldCountsAsZero(t *testing.T) {
	rs := records(model.FieldCoveragePct, 80, 90)
	delete(rs[1].Fields, model.FieldCoveragePct)
	assert.Equal(t, int64(40), Average(rs, model.FieldCoveragePct))
}

func TestTrendOf(t *testing.T) {
	const f = "x"
	tests := []struct {
		name   string
		values []int64
		want   Trend
	}{
		{"increasing", []int64{70, 70, 90}, Trend{Direction: Increasing, Delta: 20}},
		{"decreasing", []int64{90, 95, 72}, Trend{Direction: Decreasing, Delta: -18}},
		{"stable ends", []int64{80, 60, 80}, Trend{Direction: Stable, Delta: 0}},
		{"single element", []int64{90}, Trend{Direction: Stable, Delta: 0}},
		{"empty", nil, Trend{Direction: Stable, Delta: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrendOf(records(f, tt.values...), f))
		})
	}
}

func TestSuccessRate(t *testing.T) {
	rs := records("x", 1, 2, 3, 4)
	rs[1].Status = model.StatusFailed
	rs[3].Status = model.StatusNone

	rate := SuccessRate(rs)
	assert.Equal(t, Rate{Total: 3, Succeeded: 2, Percent: 66}, rate)
	assert.Equal(t, Rate{}, SuccessRate(nil))
}

func TestSummarize(t *testing.T) {
	const f = model.FieldCoveragePct
	rs := records(f, 10, 20, 70, 70, 90)

	st := Summarize(rs, f, 3)
	assert.Equal(t, 3, st.Size)
	assert.Equal(t, []int64{70, 70, 90}, st.Values)
	assert.Equal(t, int64(76), st.Average)
	assert.Equal(t, Trend{Direction: Increasing, Delta: 20}, st.Trend)
	assert.Equal(t, 3, st.Rate.Total)
}

func TestDeterminism(t *testing.T) {
	rs := records("x", 5, 9, 2, 7)
	a := Summarize(rs, "x", DefaultSize)
	b := Summarize(rs, "x", DefaultSize)
	assert.Equal(t, a, b)
}
