package database

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	srvErrors "github.com/voxelforge/hostdb/pkg/errors"
)

// ValidatorConfig controls the query screening pipeline.
type ValidatorConfig struct {
	// Enabled turns query-text screening on. When false, ValidateQuery
	// accepts everything.
	Enabled bool

	// BlockDangerous rejects structurally dangerous statements
	// (DELETE/UPDATE without WHERE, DROP/TRUNCATE/ALTER TABLE).
	// When false, such statements are logged and allowed through.
	BlockDangerous bool

	// ScreenParameters additionally scans string-typed bound parameters
	// for injection substrings. A bound parameter is data, not code;
	// this is defense-in-depth for paths that might interpolate it
	// later, and is off by default.
	ScreenParameters bool

	MaxQueryLength     int
	MaxParameterLength int
}

// Validation reason codes. Each maps to a counter in the validator.
const (
	ReasonMultipleStatements = "multiple_statements"
	ReasonCommentInjection   = "comment_injection"
	ReasonUnionSelect        = "union_select"
	ReasonTimeBased          = "time_based"
	ReasonTautology          = "tautology"
	ReasonSchemaProbe        = "schema_probe"
	ReasonOversizedQuery     = "oversized_query"
	ReasonOversizedParameter = "oversized_parameter"
	ReasonParameterInjection = "parameter_injection"
	ReasonDeleteWithoutWhere = "delete_without_where"
	ReasonUpdateWithoutWhere = "update_without_where"
	ReasonDropTable          = "drop_table"
	ReasonTruncateTable      = "truncate_table"
	ReasonAlterTable         = "alter_table"
)

type rule struct {
	reason string
	re     *regexp.Regexp
}

// injectionRules match query-text patterns that never belong in a
// parametrized statement. These always block when validation is on.
var injectionRules = []rule{
	{ReasonMultipleStatements, regexp.MustCompile(`;\s*\S`)},
	{ReasonCommentInjection, regexp.MustCompile(`--|/\*`)},
	{ReasonUnionSelect, regexp.MustCompile(`(?i)\bunion\b[\s(]+(all\s+)?select\b`)},
	{ReasonTimeBased, regexp.MustCompile(`(?i)\bbenchmark\s*\(|\bsleep\s*\(|\bwaitfor\s+delay\b`)},
	{ReasonTautology, regexp.MustCompile(`(?i)\bor\s+(?:(\d+)\s*=\s*(\d+)|'([^']*)'\s*=\s*'([^']*)')`)},
	{ReasonSchemaProbe, regexp.MustCompile(`(?i)\binformation_schema\s*\.`)},
}

// structuralRules flag dangerous but sometimes legitimate statements.
// Blocking is configurable; warnings are always logged.
var structuralRules = []rule{
	{ReasonDropTable, regexp.MustCompile(`(?i)\bdrop\s+table\b`)},
	{ReasonTruncateTable, regexp.MustCompile(`(?i)\btruncate\s+table\b`)},
	{ReasonAlterTable, regexp.MustCompile(`(?i)\balter\s+table\b`)},
}

var whereClause = regexp.MustCompile(`(?i)\bwhere\b`)

// structuralFindings reports dangerous statement shapes the regex rules
// cannot express without lookahead: full-table DELETE and UPDATE.
func structuralFindings(normalized string) []string {
	lower := strings.ToLower(strings.TrimSpace(normalized))
	var findings []string
	if strings.HasPrefix(lower, "delete") && !whereClause.MatchString(lower) {
		findings = append(findings, ReasonDeleteWithoutWhere)
	}
	if strings.HasPrefix(lower, "update") && !whereClause.MatchString(lower) {
		findings = append(findings, ReasonUpdateWithoutWhere)
	}
	return findings
}

// parameterRules screen string parameter content when ScreenParameters
// is enabled.
var parameterRules = []rule{
	{ReasonParameterInjection, regexp.MustCompile(`(?i)\bunion\b[\s(]+(all\s+)?select\b|--|/\*|;\s*(drop|delete|update|insert)\b`)},
	{ReasonTimeBased, regexp.MustCompile(`(?i)\bbenchmark\s*\(|\bsleep\s*\(|\bwaitfor\s+delay\b`)},
}

// Validator screens SQL text and bound parameters with pattern rules.
// It is a deliberately cheap regex layer, not a SQL parser; parameter
// binding discipline remains the primary defense.
type Validator struct {
	cfg ValidatorConfig
	log *zap.Logger

	total   atomic.Int64
	blocked atomic.Int64
	reasons map[string]*atomic.Int64
}

func NewValidator(cfg ValidatorConfig, log *zap.Logger) *Validator {
	reasons := make(map[string]*atomic.Int64)
	for _, r := range injectionRules {
		reasons[r.reason] = &atomic.Int64{}
	}
	for _, r := range structuralRules {
		reasons[r.reason] = &atomic.Int64{}
	}
	for _, reason := range []string{
		ReasonOversizedQuery, ReasonOversizedParameter, ReasonParameterInjection,
		ReasonTimeBased, ReasonDeleteWithoutWhere, ReasonUpdateWithoutWhere,
	} {
		if _, ok := reasons[reason]; !ok {
			reasons[reason] = &atomic.Int64{}
		}
	}
	return &Validator{
		cfg:     cfg,
		log:     log,
		reasons: reasons,
	}
}

// ValidateQuery screens the query text and, when configured, its bound
// parameters. A non-nil return is always a *errors.QuerySecurityError.
func (v *Validator) ValidateQuery(query string, params []any) error {
	if !v.cfg.Enabled {
		return nil
	}
	v.total.Add(1)

	if v.cfg.MaxQueryLength > 0 && len(query) > v.cfg.MaxQueryLength {
		return v.reject(ReasonOversizedQuery, query)
	}

	normalized := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))

	for _, r := range injectionRules {
		if r.re.MatchString(normalized) {
			return v.reject(r.reason, query)
		}
	}

	var findings []string
	for _, r := range structuralRules {
		if r.re.MatchString(normalized) {
			findings = append(findings, r.reason)
		}
	}
	findings = append(findings, structuralFindings(normalized)...)
	for _, reason := range findings {
		v.count(reason)
		if v.cfg.BlockDangerous {
			v.blocked.Add(1)
			v.log.Warn("dangerous statement blocked",
				zap.String("reason", reason),
				zap.String("query", truncate(query, 120)))
			return srvErrors.NewQuerySecurityError(reason, query)
		}
		v.log.Warn("dangerous statement allowed by configuration",
			zap.String("reason", reason),
			zap.String("query", truncate(query, 120)))
	}

	if v.cfg.ScreenParameters {
		if err := v.screenParameters(query, params); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) screenParameters(query string, params []any) error {
	for i, p := range params {
		s, ok := p.(string)
		if !ok {
			continue
		}
		if v.cfg.MaxParameterLength > 0 && len(s) > v.cfg.MaxParameterLength {
			v.log.Warn("oversized parameter rejected", zap.Int("index", i))
			return v.reject(ReasonOversizedParameter, query)
		}
		for _, r := range parameterRules {
			if r.re.MatchString(s) {
				v.log.Warn("suspicious parameter rejected",
					zap.Int("index", i),
					zap.String("reason", r.reason))
				return v.reject(ReasonParameterInjection, query)
			}
		}
	}
	return nil
}

func (v *Validator) reject(reason, query string) error {
	v.count(reason)
	v.blocked.Add(1)
	v.log.Warn("query rejected",
		zap.String("reason", reason),
		zap.String("query", truncate(query, 120)))
	return srvErrors.NewQuerySecurityError(reason, query)
}

func (v *Validator) count(reason string) {
	if c, ok := v.reasons[reason]; ok {
		c.Add(1)
	}
}

// ValidatorStats is a snapshot of the validation counters.
type ValidatorStats struct {
	Total   int64            `json:"total"`
	Blocked int64            `json:"blocked"`
	Reasons map[string]int64 `json:"reasons"`
}

// Stats returns a point-in-time snapshot of validation counters.
func (v *Validator) Stats() ValidatorStats {
	reasons := make(map[string]int64, len(v.reasons))
	for reason, c := range v.reasons {
		if n := c.Load(); n > 0 {
			reasons[reason] = n
		}
	}
	return ValidatorStats{
		Total:   v.total.Load(),
		Blocked: v.blocked.Load(),
		Reasons: reasons,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
