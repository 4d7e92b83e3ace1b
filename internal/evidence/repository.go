package evidence

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/github"
	"git.home.luguber.info/inful/ghillie/internal/gold"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/silver"
)

// Service builds evidence bundles from the Silver and Gold stores.
type Service struct {
	entities *silver.Store
	reports  *gold.Store
	logger   *slog.Logger
}

func NewService(entities *silver.Store, reports *gold.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		entities: entities,
		reports:  reports,
		logger:   logger.With(logfields.Component("evidence")),
	}
}

// BuildRepositoryBundle assembles the repository bundle for
// [windowStart, windowEnd): window facts minus repository-scoped coverage,
// entities fetched by identifier, classified, with previous-report context.
func (s *Service) BuildRepositoryBundle(ctx context.Context, repositoryID string, windowStart, windowEnd time.Time) (*RepositoryEvidenceBundle, error) {
	repo, err := s.entities.GetRepositoryByID(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, gerrors.RepositoryNotFound(repositoryID)
	}

	facts, err := s.entities.FactsInWindow(ctx, repositoryID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	factIDs := make([]string, len(facts))
	for i, fact := range facts {
		factIDs[i] = fact.ID
	}
	covered, err := s.reports.CoveredFactIDs(ctx, gold.ScopeRepository, factIDs)
	if err != nil {
		return nil, err
	}

	// FactsInWindow is ordered by (occurred_at, id); dropping covered facts
	// preserves that order for EventFactIDs.
	uncovered := facts[:0]
	for _, fact := range facts {
		if _, ok := covered[fact.ID]; ok {
			continue
		}
		uncovered = append(uncovered, fact)
	}

	ids := s.extractIdentifiers(uncovered)

	commits, err := s.entities.CommitsBySHAs(ctx, repositoryID, ids.commitSHAs)
	if err != nil {
		return nil, err
	}
	prs, err := s.entities.PullRequestsByNumbers(ctx, repositoryID, ids.prNumbers)
	if err != nil {
		return nil, err
	}
	issues, err := s.entities.IssuesByNumbers(ctx, repositoryID, ids.issueNumbers)
	if err != nil {
		return nil, err
	}
	docChanges, err := s.entities.DocChangesByKeys(ctx, repositoryID, ids.docKeys)
	if err != nil {
		return nil, err
	}

	docSHAs := make(map[string]bool, len(docChanges))
	for _, dc := range docChanges {
		docSHAs[dc.CommitSHA] = true
	}

	bundle := &RepositoryEvidenceBundle{
		Repository:      *repo,
		WindowStart:     windowStart,
		WindowEnd:       windowEnd,
		DocChanges:      docChanges,
		WorkTypeCounts:  make(map[WorkType]int),
		TotalEventCount: len(uncovered),
	}

	for _, c := range commits {
		wt := Classify(nil, c.Message, docSHAs[c.SHA])
		bundle.Commits = append(bundle.Commits, ClassifiedCommit{Commit: c, WorkType: wt})
		bundle.WorkTypeCounts[wt]++
	}
	for _, pr := range prs {
		wt := Classify(pr.Labels, pr.Title, false)
		bundle.PullRequests = append(bundle.PullRequests, ClassifiedPullRequest{PullRequest: pr, WorkType: wt})
		bundle.WorkTypeCounts[wt]++
	}
	for _, issue := range issues {
		wt := Classify(issue.Labels, issue.Title, false)
		bundle.Issues = append(bundle.Issues, ClassifiedIssue{Issue: issue, WorkType: wt})
		bundle.WorkTypeCounts[wt]++
	}

	for _, fact := range uncovered {
		bundle.EventFactIDs = append(bundle.EventFactIDs, fact.ID)
	}

	previous, err := s.reports.LatestRepositoryReport(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		bundle.PreviousReport = &PreviousReportContext{
			ReportID:   previous.ID,
			Status:     previous.MachineSummary.Status,
			Highlights: previous.MachineSummary.Highlights,
			Risks:      previous.MachineSummary.Risks,
			WindowEnd:  previous.WindowEnd,
		}
	}

	return bundle, nil
}

// identifierSets collects the natural keys named by a window's facts,
// deduplicated, in first-seen order.
type identifierSets struct {
	commitSHAs   []string
	prNumbers    []int
	issueNumbers []int
	docKeys      []silver.DocChangeKey
}

func (s *Service) extractIdentifiers(facts []silver.EventFact) identifierSets {
	var ids identifierSets
	seenSHA := make(map[string]bool)
	seenPR := make(map[int]bool)
	seenIssue := make(map[int]bool)
	seenDoc := make(map[silver.DocChangeKey]bool)

	addSHA := func(sha string) {
		if sha != "" && !seenSHA[sha] {
			seenSHA[sha] = true
			ids.commitSHAs = append(ids.commitSHAs, sha)
		}
	}
	addIssue := func(n int) {
		if n > 0 && !seenIssue[n] {
			seenIssue[n] = true
			ids.issueNumbers = append(ids.issueNumbers, n)
		}
	}

	for _, fact := range facts {
		switch fact.EventType {
		case github.EventPush:
			var payload github.PushPayload
			if err := json.Unmarshal(fact.Payload, &payload); err != nil {
				s.warnPayload(fact, err)
				continue
			}
			for _, c := range payload.Commits {
				addSHA(c.SHA)
				for _, path := range append(append([]string{}, c.Added...), c.Modified...) {
					key := silver.DocChangeKey{CommitSHA: c.SHA, Path: path}
					if !seenDoc[key] {
						seenDoc[key] = true
						ids.docKeys = append(ids.docKeys, key)
					}
				}
			}
		case github.EventPullRequest:
			var payload github.PullRequestPayload
			if err := json.Unmarshal(fact.Payload, &payload); err != nil {
				s.warnPayload(fact, err)
				continue
			}
			if payload.Number > 0 && !seenPR[payload.Number] {
				seenPR[payload.Number] = true
				ids.prNumbers = append(ids.prNumbers, payload.Number)
			}
		case github.EventIssues:
			var payload github.IssuePayload
			if err := json.Unmarshal(fact.Payload, &payload); err != nil {
				s.warnPayload(fact, err)
				continue
			}
			addIssue(payload.Number)
		case github.EventIssueComment:
			var payload github.IssueCommentPayload
			if err := json.Unmarshal(fact.Payload, &payload); err != nil {
				s.warnPayload(fact, err)
				continue
			}
			addIssue(payload.IssueNumber)
		case github.EventCommitComment:
			var payload github.CommitCommentPayload
			if err := json.Unmarshal(fact.Payload, &payload); err != nil {
				s.warnPayload(fact, err)
				continue
			}
			addSHA(payload.CommitSHA)
		}
		// Unknown kinds stay in the fact list without contributing entities.
	}
	return ids
}

func (s *Service) warnPayload(fact silver.EventFact, err error) {
	s.logger.Warn("skipping undecodable fact payload",
		logfields.EventFactID(fact.ID),
		logfields.EventType(fact.EventType),
		logfields.Error(err),
	)
}
