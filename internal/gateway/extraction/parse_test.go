package extraction

import (
	"strings"
	"testing"

	"github.com/fyrsmithlabs/voicenote/internal/note"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullPayload = `{
  "mood": {"type": "焦虑", "intensity": 7, "keywords": ["压力", "疲惫", "放松"]},
  "inspirations": [{"core_idea": "晚霞可以缓解压力", "tags": ["自然", "治愈"], "category": "生活"}],
  "todos": [{"task": "整理文档", "time": "明天", "location": null, "status": "pending"}]
}`

func TestParse_FullPayload(t *testing.T) {
	got, dropped, err := Parse(fullPayload)
	require.NoError(t, err)
	assert.Equal(t, Dropped{}, dropped)

	require.NotNil(t, got.Mood)
	assert.Equal(t, "焦虑", *got.Mood.Type)
	assert.Equal(t, 7, *got.Mood.Intensity)
	assert.Equal(t, []string{"压力", "疲惫", "放松"}, got.Mood.Keywords)

	require.Len(t, got.Inspirations, 1)
	assert.Equal(t, "晚霞可以缓解压力", got.Inspirations[0].CoreIdea)
	assert.Equal(t, note.CategoryLife, got.Inspirations[0].Category)

	require.Len(t, got.Todos, 1)
	assert.Equal(t, "整理文档", got.Todos[0].Task)
	assert.Equal(t, "明天", *got.Todos[0].Time)
	assert.Nil(t, got.Todos[0].Location)
	assert.Equal(t, note.StatusPending, got.Todos[0].Status)
}

func TestParse_Fences(t *testing.T) {
	for _, content := range []string{
		"```json\n" + fullPayload + "\n```",
		"```\n" + fullPayload + "\n```",
		"好的，结果如下：\n```json\n" + fullPayload + "\n```\n希望有帮助",
		"结果：" + fullPayload + " 以上。",
	} {
		got, _, err := Parse(content)
		require.NoError(t, err, content)
		assert.NotNil(t, got.Mood)
		assert.Len(t, got.Todos, 1)
	}
}

func TestParse_EmptyDimensions(t *testing.T) {
	for _, content := range []string{
		`{"mood": null, "inspirations": [], "todos": []}`,
		`{}`,
		`{"mood": {}, "inspirations": null, "todos": "none"}`,
	} {
		got, dropped, err := Parse(content)
		require.NoError(t, err, content)
		assert.Nil(t, got.Mood)
		assert.NotNil(t, got.Inspirations)
		assert.Empty(t, got.Inspirations)
		assert.NotNil(t, got.Todos)
		assert.Empty(t, got.Todos)
		assert.False(t, dropped.Mood)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, content := range []string{
		"",
		"抱歉，我无法处理",
		`["not", "an", "object"]`,
		`null`,
		`{"mood": `,
	} {
		_, _, err := Parse(content)
		assert.ErrorIs(t, err, ErrMalformed, "content %q", content)
	}
}

func TestParse_MoodLeniency(t *testing.T) {
	tests := []struct {
		name        string
		mood        string
		wantNil     bool
		wantDropped bool
		intensity   *int
	}{
		{"intensity too high", `{"type": "兴奋", "intensity": 11}`, true, true, nil},
		{"intensity zero", `{"type": "平静", "intensity": 0}`, true, true, nil},
		{"fractional intensity", `{"type": "平静", "intensity": 7.5}`, true, true, nil},
		{"string intensity", `{"type": "平静", "intensity": "6"}`, false, false, note.IntPtr(6)},
		{"integral float", `{"type": "平静", "intensity": 6.0}`, false, false, note.IntPtr(6)},
		{"type only", `{"type": "平静"}`, false, false, nil},
		{"intensity only", `{"intensity": 3}`, false, false, note.IntPtr(3)},
		{"numeric type", `{"type": 5}`, true, true, nil},
		{"bad keywords", `{"type": "平静", "keywords": "calm"}`, true, true, nil},
		{"not an object", `"happy"`, true, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped, err := Parse(`{"mood": ` + tt.mood + `, "todos": [{"task": "x"}]}`)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDropped, dropped.Mood)
			assert.Len(t, got.Todos, 1, "other dimensions survive")
			if tt.wantNil {
				assert.Nil(t, got.Mood)
				return
			}
			require.NotNil(t, got.Mood)
			assert.Equal(t, tt.intensity, got.Mood.Intensity)
			assert.NotNil(t, got.Mood.Keywords)
		})
	}
}

func TestParse_InspirationLeniency(t *testing.T) {
	long := strings.Repeat("长", 21)
	exact := strings.Repeat("好", 20)
	content := `{"inspirations": [
		{"core_idea": "保留这个", "tags": ["a"], "category": "工作"},
		{"core_idea": "` + long + `", "tags": [], "category": "生活"},
		{"core_idea": "` + exact + `", "category": "Study"},
		{"core_idea": "标签太多", "tags": ["1","2","3","4","5","6"], "category": "创意"},
		{"core_idea": "未知分类", "category": "娱乐"},
		{"core_idea": "缺省分类"},
		{"core_idea": "", "category": "工作"},
		{"core_idea": " ` + exact + ` ", "category": "Study"},
		{"tags": ["no idea"]},
		"just a string",
		{"core_idea": "数字标签", "tags": [1, 2], "category": "学习"}
	]}`

	got, dropped, err := Parse(content)
	require.NoError(t, err)
	assert.Equal(t, 7, dropped.Inspirations)

	require.Len(t, got.Inspirations, 4)
	assert.Equal(t, "保留这个", got.Inspirations[0].CoreIdea)
	assert.Equal(t, note.CategoryWork, got.Inspirations[0].Category)
	assert.Equal(t, exact, got.Inspirations[1].CoreIdea)
	assert.Equal(t, note.CategoryStudy, got.Inspirations[1].Category)
	assert.Equal(t, []string{}, got.Inspirations[1].Tags)
	assert.Equal(t, "缺省分类", got.Inspirations[2].CoreIdea)
	assert.Equal(t, note.CategoryLife, got.Inspirations[2].Category, "missing category defaults to Life")
	assert.Equal(t, "", got.Inspirations[3].CoreIdea, "an empty idea is kept")
	assert.Equal(t, note.CategoryWork, got.Inspirations[3].Category)
}

func TestParse_TodoLeniency(t *testing.T) {
	content := `{"todos": [
		{"task": "买菜", "time": "明天下午", "location": "超市"},
		{"task": "  "},
		{"time": "明天"},
		{"task": "开会", "status": "completed"},
		{"task": "写报告", "time": "明天", "location": null, "status": "done"},
		{"task": "数字时间", "time": 5},
		{"task": "空状态", "status": ""},
		{"task": "大写状态", "status": " In_Progress "}
	]}`

	got, dropped, err := Parse(content)
	require.NoError(t, err)
	assert.Equal(t, 3, dropped.Todos)

	require.Len(t, got.Todos, 5)
	assert.Equal(t, "买菜", got.Todos[0].Task)
	assert.Equal(t, "明天下午", *got.Todos[0].Time, "time kept verbatim")
	assert.Equal(t, "超市", *got.Todos[0].Location)
	assert.Equal(t, note.StatusPending, got.Todos[0].Status)
	assert.Equal(t, note.StatusCompleted, got.Todos[1].Status)

	assert.Equal(t, "写报告", got.Todos[2].Task, "an unknown status keeps the task")
	assert.Equal(t, "明天", *got.Todos[2].Time)
	assert.Nil(t, got.Todos[2].Location)
	assert.Equal(t, note.StatusPending, got.Todos[2].Status)

	assert.Equal(t, note.StatusPending, got.Todos[3].Status)
	assert.Equal(t, note.StatusInProgress, got.Todos[4].Status)
}
