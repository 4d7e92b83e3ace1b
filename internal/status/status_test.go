package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/ghillie/internal/catalogue"
	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/evidence"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

func TestNewSelectsBackend(t *testing.T) {
	model, err := New(Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "heuristic-v1", model.Name(), "empty backend defaults to the heuristic")

	model, err = New(Options{Backend: "mock"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "heuristic-v1", model.Name())

	model, err = New(Options{
		Backend:     "openai",
		APIKey:      "sk-test",
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		MaxTokens:   2048,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", model.Name())

	_, err = New(Options{Backend: "oracle"}, nil)
	require.Error(t, err)
	assert.True(t, gerrors.IsCategory(err, gerrors.CategoryValidation))
}

func TestNewOpenAIModelOptionBoundaries(t *testing.T) {
	base := Options{APIKey: "sk-test", Model: "gpt-4o-mini"}

	accepted := base
	accepted.Temperature = 2.0
	accepted.MaxTokens = 1
	_, err := NewOpenAIModel(accepted, nil)
	assert.NoError(t, err, "the inclusive boundaries are valid")

	hot := base
	hot.Temperature = 2.01
	hot.MaxTokens = 1
	_, err = NewOpenAIModel(hot, nil)
	assert.Error(t, err)

	cold := base
	cold.Temperature = -0.01
	cold.MaxTokens = 1
	_, err = NewOpenAIModel(cold, nil)
	assert.Error(t, err)

	starved := base
	starved.Temperature = 0.3
	starved.MaxTokens = 0
	_, err = NewOpenAIModel(starved, nil)
	assert.Error(t, err)

	keyless := base
	keyless.APIKey = ""
	keyless.Temperature = 0.3
	keyless.MaxTokens = 2048
	_, err = NewOpenAIModel(keyless, nil)
	require.Error(t, err)
	assert.True(t, gerrors.IsCategory(err, gerrors.CategoryConfig))
}

func repoBundle() *evidence.RepositoryEvidenceBundle {
	closedAt := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	return &evidence.RepositoryEvidenceBundle{
		Repository:  silver.Repository{GithubOwner: "acme", GithubName: "widgets"},
		WindowStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
		Commits: []evidence.ClassifiedCommit{
			{Commit: silver.Commit{SHA: "c1", Message: "feat: add batching"}, WorkType: evidence.WorkTypeFeature},
			{Commit: silver.Commit{SHA: "c2", Message: "fix: nil deref"}, WorkType: evidence.WorkTypeBug},
		},
		PullRequests: []evidence.ClassifiedPullRequest{
			{PullRequest: silver.PullRequest{Number: 7, Title: "Add batching", State: "merged", ClosedAt: &closedAt}, WorkType: evidence.WorkTypeFeature},
			{PullRequest: silver.PullRequest{Number: 8, Title: "Refactor parser", State: "open"}, WorkType: evidence.WorkTypeChore},
		},
		Issues: []evidence.ClassifiedIssue{
			{Issue: silver.Issue{Number: 41, Title: "Crash on empty payload", State: "open", Labels: []string{"bug"}}, WorkType: evidence.WorkTypeBug},
		},
		WorkTypeCounts:  map[evidence.WorkType]int{evidence.WorkTypeFeature: 2, evidence.WorkTypeBug: 2, evidence.WorkTypeChore: 1},
		EventFactIDs:    []string{"f1", "f2", "f3", "f4", "f5"},
		TotalEventCount: 5,
	}
}

func TestHeuristicRepositoryEmptyBundle(t *testing.T) {
	model := NewHeuristicModel()
	result, err := model.SummarizeRepository(context.Background(), &evidence.RepositoryEvidenceBundle{
		Repository: silver.Repository{GithubOwner: "acme", GithubName: "widgets"},
	})
	require.NoError(t, err)

	assert.Equal(t, CodeUnknown, result.Status)
	assert.Contains(t, result.Summary, "acme/widgets")
	assert.Empty(t, result.Highlights)
	assert.Equal(t, []string{"investigate activity"}, result.NextSteps)
}

func TestHeuristicRepositoryActiveWindow(t *testing.T) {
	model := NewHeuristicModel()
	result, err := model.SummarizeRepository(context.Background(), repoBundle())
	require.NoError(t, err)

	assert.Equal(t, CodeOnTrack, result.Status)
	assert.Contains(t, result.Summary, "acme/widgets saw 5 events")
	assert.Contains(t, result.Summary, "2 commits")
	assert.Contains(t, result.NextSteps, "review open PRs")
	assert.Contains(t, result.NextSteps, "triage open issues")
	require.NotEmpty(t, result.Highlights)
	assert.Contains(t, result.Highlights[0], "pull request #7")
}

func TestHeuristicRepositoryCarriedRisks(t *testing.T) {
	bundle := repoBundle()
	bundle.PreviousReport = &evidence.PreviousReportContext{
		Status: "at_risk",
		Risks:  []string{"flaky integration suite"},
	}

	result, err := NewHeuristicModel().SummarizeRepository(context.Background(), bundle)
	require.NoError(t, err)

	assert.Equal(t, CodeAtRisk, result.Status)
	assert.Contains(t, result.Risks, "flaky integration suite")
	assert.Equal(t, "address risks", result.NextSteps[0])
}

func TestHeuristicRepositoryBugHeavy(t *testing.T) {
	bundle := repoBundle()
	bundle.WorkTypeCounts = map[evidence.WorkType]int{
		evidence.WorkTypeBug:     4,
		evidence.WorkTypeFeature: 1,
	}

	result, err := NewHeuristicModel().SummarizeRepository(context.Background(), bundle)
	require.NoError(t, err)

	assert.Equal(t, CodeAtRisk, result.Status)
	require.NotEmpty(t, result.Risks)
	assert.Contains(t, result.Risks[0], "bug-type work (4)")
}

func TestHeuristicIsDeterministic(t *testing.T) {
	model := NewHeuristicModel()
	ctx := context.Background()

	first, err := model.SummarizeRepository(ctx, repoBundle())
	require.NoError(t, err)
	second, err := model.SummarizeRepository(ctx, repoBundle())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestHeuristicProjectWorstComponentWins(t *testing.T) {
	model := NewHeuristicModel()
	ctx := context.Background()

	bundle := &evidence.ProjectEvidenceBundle{
		Project: catalogue.Project{Key: "atlantis"},
		Components: []evidence.ComponentEvidence{
			{Component: catalogue.Component{Key: "api"}, Summary: &evidence.ComponentRepositorySummary{Status: "on_track"}},
			{Component: catalogue.Component{Key: "worker"}, Summary: &evidence.ComponentRepositorySummary{Status: "blocked", Risks: []string{"queue wedged"}}},
			{Component: catalogue.Component{Key: "docs"}},
		},
	}
	result, err := model.SummarizeProject(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, CodeBlocked, result.Status)
	assert.Contains(t, result.Risks, "queue wedged")
	assert.Contains(t, result.Summary, "2 of 3 components")

	quiet := &evidence.ProjectEvidenceBundle{
		Project: catalogue.Project{Key: "atlantis"},
		Components: []evidence.ComponentEvidence{
			{Component: catalogue.Component{Key: "api"}, Summary: &evidence.ComponentRepositorySummary{Status: "on_track"}},
			{Component: catalogue.Component{Key: "docs"}},
		},
	}
	result, err = model.SummarizeProject(ctx, quiet)
	require.NoError(t, err)
	assert.Equal(t, CodeOnTrack, result.Status, "unreported components do not drag the verdict")

	empty := &evidence.ProjectEvidenceBundle{Project: catalogue.Project{Key: "atlantis"}}
	result, err = model.SummarizeProject(ctx, empty)
	require.NoError(t, err)
	assert.Equal(t, CodeUnknown, result.Status)
}

func TestParseModelResponse(t *testing.T) {
	raw := `{"summary":"A calm week.","status":"on_track","highlights":["merged #7"],"risks":[],"next_steps":["cut release"]}`
	result, err := parseModelResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "A calm week.", result.Summary)
	assert.Equal(t, CodeOnTrack, result.Status)
	assert.Equal(t, []string{"merged #7"}, result.Highlights)
	assert.Equal(t, []string{"cut release"}, result.NextSteps)
	assert.Equal(t, raw, result.Raw)
}

func TestParseModelResponseFenced(t *testing.T) {
	result, err := parseModelResponse("```json\n{\"summary\":\"Fine.\",\"status\":\"on_track\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Fine.", result.Summary)
	assert.Equal(t, CodeOnTrack, result.Status)
}

func TestParseModelResponseUnknownStatus(t *testing.T) {
	result, err := parseModelResponse(`{"summary":"Fine.","status":"thriving"}`)
	require.NoError(t, err)
	assert.Equal(t, CodeUnknown, result.Status)
}

func TestParseModelResponseShapeFailures(t *testing.T) {
	cases := map[string]string{
		"empty":           "   ",
		"not json":        "the sprint went great",
		"missing summary": `{"status":"on_track"}`,
		"missing status":  `{"summary":"Fine."}`,
		"blank summary":   `{"summary":"  ","status":"on_track"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseModelResponse(raw)
			require.Error(t, err)
			assert.True(t, gerrors.IsCategory(err, gerrors.CategoryResponseShape))
		})
	}
}

func TestParseCode(t *testing.T) {
	assert.Equal(t, CodeOnTrack, ParseCode("on_track"))
	assert.Equal(t, CodeBlocked, ParseCode("blocked"))
	assert.Equal(t, CodeUnknown, ParseCode("THRIVING"))
	assert.Equal(t, CodeUnknown, ParseCode(""))
}
