package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aqasim81/dbrunner/internal/script"
)

// ErrUnsafeScript is returned by a blocking Gate when a pending script has
// a High or Critical finding.
var ErrUnsafeScript = errors.New("unsafe statements in pending scripts")

// Gate runs the analyzer over pending migrations before the runner applies
// them. In warn mode findings are only logged; in block mode a High or
// Critical finding aborts the run before anything executes.
type Gate struct {
	analyzer *Analyzer
	block    bool
	log      *zap.Logger
}

// NewGate returns a Gate. Scripts that fail to parse are logged and skipped;
// the database reports the syntax error when the script runs.
func NewGate(a *Analyzer, block bool, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}

	return &Gate{analyzer: a, block: block, log: log}
}

// Check analyzes scripts and logs every finding.
func (g *Gate) Check(_ context.Context, scripts []script.Script) error {
	var unsafe []string

	for i := range scripts {
		s := &scripts[i]

		res, err := g.analyzer.Analyze(s)
		if err != nil {
			g.log.Warn("Preflight could not parse script", zap.String("script", s.ID), zap.Error(err))

			continue
		}

		for _, f := range res.Findings {
			g.log.Warn("Preflight finding",
				zap.String("script", s.ID),
				zap.String("rule", f.Rule),
				zap.Stringer("severity", f.Severity),
				zap.String("table", f.Table),
				zap.String("lock", f.LockType),
				zap.String("message", f.Message),
			)
		}

		if res.HasHighOrCritical() {
			unsafe = append(unsafe, s.ID)
		}
	}

	if g.block && len(unsafe) > 0 {
		return fmt.Errorf("%w: %s", ErrUnsafeScript, strings.Join(unsafe, ", "))
	}

	return nil
}
