package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ahrav/go-rationale/infrastructure/stages"
	"github.com/ahrav/go-rationale/internal/config"
	"github.com/ahrav/go-rationale/internal/domain"
	"github.com/ahrav/go-rationale/internal/ports"
	"github.com/ahrav/go-rationale/internal/testutils"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

const qaReply = `[
	{"question": "What is on the table?", "correct_answer": "A cup", "confusing_answer": "A bowl"},
	{"question": "How many chairs?", "correct_answer": "Two", "confusing_answer": "Three"}
]`

var imageList = []string{"coco/1.png", "coco/2.png", "ocr_vqa/3.png"}

// workspace is a target folder with an image manifest and a config file.
type workspace struct {
	target string
	images string
	config string
}

func newWorkspace(t *testing.T, extra string) workspace {
	t.Helper()
	ws := workspace{target: t.TempDir(), images: t.TempDir()}

	for _, name := range imageList {
		path := filepath.Join(ws.images, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, pngHeader, 0o644))
	}
	manifest, err := json.Marshal(imageList)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.target, stages.DefaultQAManifest), manifest, 0o644))

	ws.config = filepath.Join(t.TempDir(), "rationale.yaml")
	body := fmt.Sprintf("target_folder: %s\nimage_folder: %s\nharness:\n  num_tasks: 2\n%s", ws.target, ws.images, extra)
	require.NoError(t, os.WriteFile(ws.config, []byte(body), 0o644))
	return ws
}

func newScriptedModel(judgeReply string) *testutils.MockLLMClient {
	return testutils.NewMockLLMClient("scripted").
		AddResponse(testutils.MockResponse{Pattern: "Positive Answer Analysis:", Response: judgeReply}).
		AddResponse(testutils.MockResponse{Pattern: "Incorrect Answer:", Response: "The image shows otherwise."}).
		AddResponse(testutils.MockResponse{Pattern: "question-answer generator", Response: qaReply}).
		AddResponse(testutils.MockResponse{Response: "The object is clearly visible."})
}

// clientRouter hands out model clients by spec and records what was asked.
type clientRouter struct {
	mu       sync.Mutex
	fallback ports.LLMClient
	bySpec   map[string]ports.LLMClient
	specs    []string
}

func (r *clientRouter) get(spec string) (ports.LLMClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	if c, ok := r.bySpec[spec]; ok {
		return c, nil
	}
	return r.fallback, nil
}

func execute(t *testing.T, clients ClientFactory, args ...string) (string, error) {
	t.Helper()
	opts := []Option{WithLogger(zap.NewNop())}
	if clients != nil {
		opts = append(opts, WithClientFactory(clients))
	}
	root := NewRootCommand(opts...)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func readDataset[T any](t *testing.T, dir, name string) []T {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	var rows []T
	require.NoError(t, json.Unmarshal(data, &rows))
	return rows
}

func TestRunAll(t *testing.T) {
	ws := newWorkspace(t, "")
	model := newScriptedModel("No")
	router := &clientRouter{fallback: model}

	out, err := execute(t, router.get, "run", "all", "--config", ws.config)
	require.NoError(t, err, out)

	assert.Contains(t, out, "qa: 3/3 complete after 1 passes (done)")
	assert.Contains(t, out, "judge: 6/6 complete after 1 passes (done)")
	assert.Equal(t, []string{"google/gemini-pro-vision", "google/gemini-pro-vision", "google/gemini-pro"}, router.specs)

	pairs := readDataset[domain.QAPair](t, ws.target, stages.DefaultQADataset)
	require.Len(t, pairs, 6)
	assert.Equal(t, filepath.Join(ws.images, "coco/1.png"), pairs[0].Image)
	assert.Equal(t, "What is on the table?", pairs[0].Question)

	rationales := readDataset[domain.RationaleRecord](t, ws.target, stages.DefaultRationaleDataset)
	require.Len(t, rationales, 6)
	assert.Equal(t, "The object is clearly visible.", rationales[0].CorrectRationale)
	assert.Equal(t, "The image shows otherwise.", rationales[0].IncorrectRationale)

	judged := readDataset[map[string]any](t, ws.target, stages.DefaultJudgeDataset)
	require.Len(t, judged, 4, "ocr_vqa images are excluded from the judge dataset")
	for _, row := range judged {
		assert.Equal(t, "no", row["gemini_pro_judge"])
		assert.NotContains(t, row, "chatgpt_judge")
		assert.NotContains(t, row["image"], "ocr_vqa")
	}

	record, err := os.ReadFile(filepath.Join(ws.target, stages.DefaultJudgeOutput, "0.json"))
	require.NoError(t, err)
	assert.Contains(t, string(record), "\n    \"image\"")

	// Every item has a record now, so a second run makes no model calls.
	model.Reset()
	out, err = execute(t, router.get, "run", "all", "--config", ws.config)
	require.NoError(t, err, out)
	assert.Zero(t, model.CallCount())
	assert.Contains(t, out, "rationale: 6/6 complete after 0 passes (done)")
}

func TestRunResumesFailedItems(t *testing.T) {
	ws := newWorkspace(t, "")
	model := newScriptedModel("Yes").FailNext("question-answer generator", 1, nil)

	out, err := execute(t, func(string) (ports.LLMClient, error) { return model, nil }, "run", "qa", "--config", ws.config)
	require.NoError(t, err, out)

	assert.Contains(t, out, "qa: 3/3 complete after 2 passes (done)")
	assert.Equal(t, 4, model.CallsMatching("question-answer generator"))
	assert.Len(t, readDataset[domain.QAPair](t, ws.target, stages.DefaultQADataset), 6)
}

func TestRunWithSecondaryJudge(t *testing.T) {
	ws := newWorkspace(t, "stages:\n  judge:\n    secondary_model: openai/gpt-3.5-turbo-1106\n    exclude:\n      substrings: []\n")
	secondary := testutils.NewMockLLMClient("gpt-3.5-turbo-1106").
		AddResponse(testutils.MockResponse{Response: "Yes"})
	router := &clientRouter{
		fallback: newScriptedModel("No"),
		bySpec:   map[string]ports.LLMClient{"openai/gpt-3.5-turbo-1106": secondary},
	}

	out, err := execute(t, router.get, "run", "all", "--config", ws.config)
	require.NoError(t, err, out)

	judged := readDataset[map[string]any](t, ws.target, stages.DefaultJudgeDataset)
	require.Len(t, judged, 6)
	for _, row := range judged {
		assert.Equal(t, "no", row["gemini_pro_judge"])
		assert.Equal(t, "yes", row["chatgpt_judge"])
	}
	assert.Equal(t, 6, secondary.CallCount())
}

func TestRunStopsAtIncompleteStage(t *testing.T) {
	ws := newWorkspace(t, "  max_stalled_passes: 0\n")
	model := newScriptedModel("No")
	model.Respond = func(prompt string, images []ports.Image) (string, error) {
		if len(images) == 1 && strings.Contains(images[0].Path, "ocr_vqa") {
			return "", testutils.ErrScriptedFailure
		}
		return qaReply, nil
	}

	out, err := execute(t, func(string) (ports.LLMClient, error) { return model, nil }, "run", "all", "--config", ws.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage incomplete")
	assert.Contains(t, out, "qa: 2/3 complete")
	assert.Contains(t, out, "wrote reasoning_instruct_data.json with 4 rows")
	assert.NotContains(t, out, "rationale:")
}

func TestStatus(t *testing.T) {
	ws := newWorkspace(t, "")

	out, err := execute(t, nil, "status", "qa", "--list", "--config", ws.config)
	require.NoError(t, err, out)
	assert.Equal(t, "qa: 3 total, 0 completed, 3 incomplete\n0\n1\n2\n", out)

	model := newScriptedModel("No")
	_, err = execute(t, func(string) (ports.LLMClient, error) { return model, nil }, "run", "qa", "--config", ws.config)
	require.NoError(t, err)

	out, err = execute(t, nil, "status", "qa", "--config", ws.config)
	require.NoError(t, err, out)
	assert.Equal(t, "qa: 3 total, 3 completed, 0 incomplete\n", out)

	_, err = execute(t, nil, "status", "judge", "--config", ws.config)
	assert.Error(t, err, "the judge manifest does not exist yet")
}

func TestAggregate(t *testing.T) {
	ws := newWorkspace(t, "")
	model := newScriptedModel("No")
	_, err := execute(t, func(string) (ports.LLMClient, error) { return model, nil }, "run", "qa", "--config", ws.config)
	require.NoError(t, err)

	dataset := filepath.Join(ws.target, stages.DefaultQADataset)
	require.NoError(t, os.Remove(dataset))
	require.NoError(t, os.WriteFile(filepath.Join(ws.target, stages.DefaultQAOutput, "7.json"), []byte(`{"image": ""}`), 0o644))

	model.Reset()
	out, err := execute(t, nil, "aggregate", "qa", "--config", ws.config)
	require.NoError(t, err, out)
	assert.Equal(t, "qa: wrote reasoning_instruct_data.json with 6 rows (4 files, 1 skipped, 0 excluded)\n", out)
	assert.FileExists(t, dataset)
	assert.Zero(t, model.CallCount())
}

func TestConfigShow(t *testing.T) {
	ws := newWorkspace(t, "")

	out, err := execute(t, nil, "config", "show", "--config", ws.config, "--openai-api-key", "sk-secret", "--num-tasks", "9")
	require.NoError(t, err, out)
	assert.Contains(t, out, "target_folder: "+ws.target)
	assert.Contains(t, out, "num_tasks: 9")
	assert.Contains(t, out, "openai: '********'")
	assert.NotContains(t, out, "sk-secret")
}

func TestRunRejectsUnknownStage(t *testing.T) {
	ws := newWorkspace(t, "")
	_, err := execute(t, nil, "run", "caption", "--config", ws.config)
	assert.ErrorContains(t, err, "unknown stage")
}

func TestSetupRejectsMissingConfigFile(t *testing.T) {
	_, err := execute(t, nil, "status", "qa", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestSelectStages(t *testing.T) {
	names, err := selectStages("all")
	require.NoError(t, err)
	assert.Equal(t, []string{"qa", "rationale", "judge"}, names)

	names, err = selectStages("judge")
	require.NoError(t, err)
	assert.Equal(t, []string{"judge"}, names)
}

func TestOfflineClientRefusesCalls(t *testing.T) {
	c, err := offlineClients("google/gemini-pro")
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-pro", c.GetModel())
	_, err = c.Complete(context.Background(), "p", nil)
	assert.ErrorIs(t, err, errOffline)
}

func TestRunChecksModelsBeforeStarting(t *testing.T) {
	ws := newWorkspace(t, "stages:\n  judge:\n    secondary_model: cohere/command\n")
	t.Setenv("GOOGLE_API_KEY", "")

	_, err := execute(t, nil, "run", "judge", "--config", ws.config)
	require.Error(t, err)
	assert.ErrorContains(t, err, "model configuration")
	assert.ErrorContains(t, err, "unknown provider")
	assert.ErrorContains(t, err, "GOOGLE_API_KEY")
	assert.NoDirExists(t, filepath.Join(ws.target, stages.DefaultJudgeOutput))
}

func TestModelSpecs(t *testing.T) {
	a := &app{cfg: &config.Config{Stages: config.StagesConfig{
		QA:        config.QAStageConfig{Model: "google/gemini-pro-vision"},
		Rationale: config.RationaleStageConfig{Model: "google"},
		Judge:     config.JudgeStageConfig{PrimaryModel: "google/gemini-pro"},
	}}}
	assert.Equal(t, []string{"google/gemini-pro-vision", "google", "google/gemini-pro", ""},
		a.modelSpecs([]string{"qa", "rationale", "judge"}))
}
