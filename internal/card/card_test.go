package card

import (
	"encoding/json"
	"testing"
	"time"

	gofsrs "github.com/open-spaced-repetition/go-fsrs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	tests := []struct {
		name   string
		status string
		state  gofsrs.State
		want   Phase
	}{
		{"new", "new", gofsrs.New, PhaseNew},
		{"learning", "learning", gofsrs.Learning, PhaseLearning},
		{"learning status with relearning state", "learning", gofsrs.Relearning, PhaseRelearning},
		{"relearning", "relearning", gofsrs.Review, PhaseRelearning},
		{"review", "review", gofsrs.Review, PhaseReview},
		{"known", "known", gofsrs.Review, PhaseKnown},
		{"suspended", "suspended", gofsrs.Review, PhaseSuspended},
		{"undefined status", "", gofsrs.Review, PhaseUnknown},
		{"garbage", "archived??", gofsrs.Learning, PhaseUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePhase(tt.status, tt.state))
		})
	}
}

func TestPhaseMappings(t *testing.T) {
	assert.Equal(t, gofsrs.New, PhaseNew.State())
	assert.Equal(t, gofsrs.Relearning, PhaseRelearning.State())
	assert.Equal(t, gofsrs.Review, PhaseSuspended.State())

	assert.Equal(t, BucketLearning, PhaseRelearning.Bucket())
	assert.Equal(t, BucketOther, PhaseUnknown.Bucket())
	assert.Equal(t, BucketOther, PhaseKnown.Bucket())
	assert.Equal(t, Status(""), PhaseUnknown.Status())

	assert.True(t, PhaseLearning.IsLearning())
	assert.False(t, PhaseReview.IsLearning())
}

func TestPhaseJSON(t *testing.T) {
	item := Item{ID: "a", Phase: PhaseRelearning}
	data, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"phase":"relearning"`)

	var decoded Item
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, PhaseRelearning, decoded.Phase)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"b","phase":"mystery"}`), &decoded))
	assert.Equal(t, PhaseUnknown, decoded.Phase)
}

func TestItemDefaults(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 1.0, Item{}.EffectiveInterval())
	assert.Equal(t, 1.0, Item{Interval: -3}.EffectiveInterval())
	assert.Equal(t, 0.5, Item{Interval: 0.5}.EffectiveInterval())

	assert.Equal(t, now, Item{}.DueAt(now))
	assert.True(t, Item{Due: Epoch}.Pinned())
	assert.False(t, Item{}.Pinned())

	assert.True(t, Item{Phase: PhaseNew, Due: now.Add(time.Hour)}.IsDue(now))
	assert.False(t, Item{Phase: PhaseReview, Due: now.Add(time.Hour)}.IsDue(now))
	assert.True(t, Item{Phase: PhaseReview}.IsDue(now))
}

func TestClone(t *testing.T) {
	orig := Item{ID: "a", Tags: []string{"x"}}
	c := orig.Clone()
	c.Tags[0] = "y"
	assert.Equal(t, "x", orig.Tags[0])
	assert.True(t, orig.HasTag("x"))
	assert.False(t, orig.HasTag("y"))
}
