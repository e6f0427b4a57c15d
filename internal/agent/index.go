package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/grants"
	"github.com/grantmesh/grantmesh/internal/metrics"
	"github.com/grantmesh/grantmesh/internal/protocol"
	"github.com/grantmesh/grantmesh/internal/vectorstore"
)

// IndexOne indexes a single grant.
func (a *Base) IndexOne(ctx context.Context, g grants.Grant) error {
	_, err := a.IndexBatch(ctx, []grants.Grant{g})
	return err
}

// IndexBatch validates, stamps, encodes and upserts a batch of grants in one
// embedding round trip and one upsert. Invalid grants are skipped and
// collected; the rest of the batch still lands. Returns the number indexed.
func (a *Base) IndexBatch(ctx context.Context, batch []grants.Grant) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	var failures []string
	docs := make([]string, 0, len(batch))
	valid := make([]grants.Grant, 0, len(batch))

	now := time.Now()
	for i := range batch {
		g := batch[i]
		if problems := validateGrant(g); len(problems) > 0 {
			failures = append(failures, fmt.Sprintf("%s: %s", displayID(g, i), strings.Join(problems, "; ")))
			metrics.IndexingErrors.WithLabelValues(a.cfg.ID).Inc()
			continue
		}
		g.Stamp(a.cfg.ID, a.cfg.Silo, a.cfg.Domain, now)
		valid = append(valid, g)
		docs = append(docs, a.buildDoc(g))
	}

	if len(valid) == 0 {
		if len(failures) > 0 {
			return 0, fmt.Errorf("no indexable grants: %s", strings.Join(failures, "; "))
		}
		return 0, nil
	}

	vecs, err := a.emb.EncodeBatch(ctx, docs)
	if err != nil {
		return 0, &CodedError{Code: protocol.CodeUpstreamUnavailable, Message: "encode batch: " + err.Error()}
	}

	points := make([]vectorstore.Point, len(valid))
	for i, g := range valid {
		points[i] = vectorstore.Point{
			ID:      g.GrantID,
			Vector:  vecs[i],
			Payload: g.ToMetadata(),
		}
	}
	if err := a.col.Upsert(ctx, points); err != nil {
		return 0, &CodedError{Code: protocol.CodeUpstreamUnavailable, Message: "upsert: " + err.Error()}
	}

	a.docsIndexed.Add(int64(len(valid)))
	metrics.DocumentsIndexed.WithLabelValues(a.cfg.ID).Add(float64(len(valid)))
	a.logger.Info("Indexed grants",
		zap.Int("indexed", len(valid)),
		zap.Int("skipped", len(failures)))

	if len(failures) > 0 {
		return len(valid), fmt.Errorf("skipped %d of %d grants: %s", len(failures), len(batch), strings.Join(failures, "; "))
	}
	return len(valid), nil
}

// validateGrant returns the problems that make a grant unindexable.
func validateGrant(g grants.Grant) []string {
	var problems []string
	if g.GrantID == "" {
		problems = append(problems, "missing grant_id")
	}
	if g.Title == "" {
		problems = append(problems, "missing title")
	}
	if g.Description == "" {
		problems = append(problems, "missing description")
	}
	if g.AmountMin < 0 || g.AmountMax < 0 {
		problems = append(problems, "negative amount")
	}
	if g.AmountMax > 0 && g.AmountMin > g.AmountMax {
		problems = append(problems, "amount_min exceeds amount_max")
	}
	if g.Deadline != "" {
		if _, err := time.Parse("2006-01-02", g.Deadline); err != nil {
			problems = append(problems, "deadline not an ISO date")
		}
	}
	return problems
}

func displayID(g grants.Grant, i int) string {
	if g.GrantID != "" {
		return g.GrantID
	}
	return fmt.Sprintf("batch[%d]", i)
}
