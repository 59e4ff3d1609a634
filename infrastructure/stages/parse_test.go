package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rationale/internal/domain"
)

func TestParseQAPairs(t *testing.T) {
	want := domain.QAContent{Question: "What color is the bus?", CorrectAnswer: "Red", ConfusingAnswer: "Blue"}

	tests := []struct {
		name        string
		reply       string
		wantPairs   int
		wantSkipped int
	}{
		{
			name:      "plain array",
			reply:     `[{"question": "What color is the bus?", "correct_answer": "Red", "confusing_answer": "Blue"}]`,
			wantPairs: 1,
		},
		{
			name: "fenced with info string",
			reply: "```json\n" +
				`[{"question": "What color is the bus?", "correct_answer": "Red", "confusing_answer": "Blue"}]` +
				"\n```",
			wantPairs: 1,
		},
		{
			name:      "surrounded by prose",
			reply:     `Here you go: [{"question": "What color is the bus?", "correct_answer": "Red", "confusing_answer": "Blue"}] Hope it helps.`,
			wantPairs: 1,
		},
		{
			name:      "near-miss keys",
			reply:     `[{"Question1": "What color is the bus?", "Correct Answer": "Red", "confusingAnswer": "Blue"}]`,
			wantPairs: 1,
		},
		{
			name:      "aliased confusing key",
			reply:     `[{"question": "What color is the bus?", "correct_answer": "Red", "incorrect_answer": "Blue"}]`,
			wantPairs: 1,
		},
		{
			name: "malformed entries are skipped",
			reply: `[
				{"question": "What color is the bus?", "correct_answer": "Red", "confusing_answer": "Blue"},
				{"question": "Missing answers"},
				"not an object"
			]`,
			wantPairs:   1,
			wantSkipped: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pairs, skipped, err := ParseQAPairs(tt.reply)
			require.NoError(t, err)
			require.Len(t, pairs, tt.wantPairs)
			assert.Equal(t, tt.wantSkipped, skipped)
			assert.Equal(t, want, pairs[0])
		})
	}
}

func TestParseQAPairs_Errors(t *testing.T) {
	_, _, err := ParseQAPairs("   ")
	assert.ErrorIs(t, err, domain.ErrEmptyResponse)

	_, _, err = ParseQAPairs("I cannot see the image.")
	assert.ErrorIs(t, err, ErrNoQAPairs)

	_, _, err = ParseQAPairs(`[{"question": "q",]`)
	assert.ErrorIs(t, err, ErrNoQAPairs)

	_, skipped, err := ParseQAPairs(`[{"question": "q"}, {"correct_answer": "a"}]`)
	assert.ErrorIs(t, err, ErrNoQAPairs)
	assert.Equal(t, 2, skipped)
}

func TestParseQAPairs_BracketsInProse(t *testing.T) {
	reply := "Here are [3] questions:\n" +
		`[{"question": "q", "correct_answer": "a", "confusing_answer": "c"}]` +
		"\nSee [notes]."
	pairs, skipped, err := ParseQAPairs(reply)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, []domain.QAContent{{Question: "q", CorrectAnswer: "a", ConfusingAnswer: "c"}}, pairs)
}

func TestParseQAPairs_PythonLiteralRejected(t *testing.T) {
	_, _, err := ParseQAPairs(`[{'question': 'q', 'correct_answer': 'a', 'confusing_answer': 'c'}]`)
	assert.ErrorIs(t, err, ErrNoQAPairs)
}

func TestJSONArrays(t *testing.T) {
	assert.Equal(t, []string{"[1]", "[[2], 3]"}, jsonArrays("a [1] b [[2], 3] c ]"))
	assert.Empty(t, jsonArrays("no arrays [here"))
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
		ok   bool
	}{
		{"question", "question", true},
		{"Question 2", "question", true},
		{"correct-answer", "correct_answer", true},
		{"CONFUSING_ANSWER", "confusing_answer", true},
		{"wrong answer", "confusing_answer", true},
		{"answer", "correct_answer", true},
		{"explanation", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := normalizeKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQAPairs_FirstValueWins(t *testing.T) {
	pairs, _, err := ParseQAPairs(`[{"question": "first", "Question": "second", "correct_answer": "a", "confusing_answer": "b"}]`)
	require.NoError(t, err)
	assert.Equal(t, "first", pairs[0].Question)
}
