package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/colorbot/telemetry"
	"github.com/yairfalse/colorbot/types"
)

// Query is the rego document every protection module is evaluated against.
// Modules declare `package colorbot` and a boolean `protected` rule, plus an
// optional `reason` string.
const Query = "data.colorbot"

// Engine decides which color roles must survive a bulk deletion.
// An engine with no policies loaded protects nothing.
type Engine struct {
	logger *telemetry.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	queries map[string]rego.PreparedEvalQuery
}

// RoleInput is the document exposed to policies as `input`
type RoleInput struct {
	Kind  string    `json:"kind"`
	Guild GuildInfo `json:"guild"`
	Role  RoleInfo  `json:"role"`
}

// GuildInfo is the guild part of RoleInput
type GuildInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// RoleInfo is the role part of RoleInput
type RoleInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Hex         string `json:"hex"`
	Color       int    `json:"color"`
	Position    int    `json:"position"`
	MemberCount int    `json:"member_count"`
}

// Decision is the evaluated verdict for one role
type Decision struct {
	Protected bool     `json:"protected"`
	Reason    string   `json:"reason,omitempty"`
	Policies  []string `json:"policies,omitempty"`
}

// Exclusion records a role kept back from deletion
type Exclusion struct {
	Role   types.Role
	Reason string
}

// NewEngine creates an empty engine
func NewEngine(logger *telemetry.Logger) *Engine {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Engine{
		logger:  logger.Component("policy"),
		tracer:  otel.Tracer("colorbot.policy"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// LoadPolicy compiles a rego module and adds it under name
func (e *Engine) LoadPolicy(ctx context.Context, name string, regoCode string) error {
	ctx, span := e.tracer.Start(ctx, "policy.load",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	query := rego.New(
		rego.Query(Query),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	e.mu.Lock()
	e.queries[name] = prepared
	e.mu.Unlock()

	e.logger.WithContext(ctx).Info().
		Str("policy_name", name).
		Msg("policy loaded")

	return nil
}

// Policies returns loaded policy names, sorted
func (e *Engine) Policies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.queries))
	for name := range e.queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate runs every loaded policy. The role is protected if any policy says so.
func (e *Engine) Evaluate(ctx context.Context, input RoleInput) (Decision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var decision Decision
	for _, name := range e.sortedNames() {
		results, err := e.queries[name].Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return Decision{}, fmt.Errorf("policy %s evaluation failed: %w", name, err)
		}

		protected, reason := parseEvalResults(results)
		if !protected {
			continue
		}

		decision.Protected = true
		decision.Policies = append(decision.Policies, name)
		if decision.Reason == "" {
			decision.Reason = reason
		}
	}

	if decision.Protected && decision.Reason == "" {
		decision.Reason = "protected by policy"
	}
	return decision, nil
}

// Filter splits roles into deletable ones and exclusions. Evaluation errors
// abort the whole filter; nothing is deleted on an undecidable policy.
func (e *Engine) Filter(ctx context.Context, kind string, guild types.Guild, roles []types.Role) ([]types.Role, []Exclusion, error) {
	if e == nil || len(e.Policies()) == 0 {
		return roles, nil, nil
	}

	ctx, span := e.tracer.Start(ctx, "policy.filter",
		trace.WithAttributes(
			attribute.String("guild.id", guild.ID),
			attribute.String("run.kind", kind),
			attribute.Int("roles.count", len(roles)),
		))
	defer span.End()

	keep := make([]types.Role, 0, len(roles))
	var excluded []Exclusion

	for _, role := range roles {
		decision, err := e.Evaluate(ctx, inputFor(kind, guild, role))
		if err != nil {
			span.RecordError(err)
			return nil, nil, err
		}
		if decision.Protected {
			excluded = append(excluded, Exclusion{Role: role, Reason: decision.Reason})
			continue
		}
		keep = append(keep, role)
	}

	if len(excluded) > 0 {
		e.logger.WithContext(ctx).Info().
			Str("guild_id", guild.ID).
			Str("kind", kind).
			Int("protected", len(excluded)).
			Int("remaining", len(keep)).
			Msg("roles protected by policy")
	}

	return keep, excluded, nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.queries))
	for name := range e.queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func inputFor(kind string, guild types.Guild, role types.Role) RoleInput {
	return RoleInput{
		Kind: kind,
		Guild: GuildInfo{
			ID:      guild.ID,
			Name:    guild.Name,
			OwnerID: guild.OwnerID,
		},
		Role: RoleInfo{
			ID:          role.ID,
			Name:        role.Name,
			Hex:         role.HexColor(),
			Color:       role.Color,
			Position:    role.Position,
			MemberCount: role.MemberCount,
		},
	}
}

// parseEvalResults reads `protected` and `reason` out of the package document.
// OPA returns the document as map[string]interface{}.
func parseEvalResults(results rego.ResultSet) (bool, string) {
	var protected bool
	var reason string

	for _, res := range results {
		if len(res.Expressions) == 0 {
			continue
		}
		doc, ok := res.Expressions[0].Value.(map[string]interface{})
		if !ok {
			continue
		}
		if v, ok := doc["protected"].(bool); ok && v {
			protected = true
		}
		if v, ok := doc["reason"].(string); ok && reason == "" {
			reason = v
		}
	}
	return protected, reason
}
