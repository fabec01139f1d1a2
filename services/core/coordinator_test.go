package core

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
)

// --- test node types -------------------------------------------------

type numInvokable struct{}

func (numInvokable) Meta() NodeTypeMeta { return NodeTypeMeta{} }
func (numInvokable) Execute(ic *InvocationContext) (InvocationResult, error) {
	return InvocationResult{Status: "completed", Outputs: map[string]any{"value": ic.Inputs["value"]}}, nil
}

type arithInvokable struct{ op string }

func (arithInvokable) Meta() NodeTypeMeta { return NodeTypeMeta{} }
func (a arithInvokable) Execute(ic *InvocationContext) (InvocationResult, error) {
	av, aok := ic.Inputs["a"]
	if !aok {
		return InvocationResult{Status: "error", Error: "required input 'a' missing"}, nil
	}
	bv, bok := ic.Inputs["b"]
	if !bok {
		return InvocationResult{Status: "error", Error: "required input 'b' missing"}, nil
	}
	af, bf := av.(float64), bv.(float64)
	switch a.op {
	case "add":
		return InvocationResult{Status: "completed", Outputs: map[string]any{"result": af + bf}}, nil
	case "sub":
		return InvocationResult{Status: "completed", Outputs: map[string]any{"result": af - bf}}, nil
	case "mul":
		return InvocationResult{Status: "completed", Outputs: map[string]any{"result": af * bf}}, nil
	case "div":
		if bf == 0 {
			return InvocationResult{Status: "error", Error: "division by zero"}, nil
		}
		return InvocationResult{Status: "completed", Outputs: map[string]any{"result": af / bf}}, nil
	default:
		return InvocationResult{Status: "error", Error: fmt.Sprintf("unknown op %q", a.op)}, nil
	}
}

type condInvokable struct{}

func (condInvokable) Meta() NodeTypeMeta { return NodeTypeMeta{} }
func (condInvokable) Execute(ic *InvocationContext) (InvocationResult, error) {
	if b, _ := ic.Inputs["input"].(bool); b {
		return InvocationResult{Status: "completed", Outputs: map[string]any{"true": true}}, nil
	}
	return InvocationResult{Status: "completed", Outputs: map[string]any{"false": false}}, nil
}

type echoInvokable struct{ in, out string }

func (echoInvokable) Meta() NodeTypeMeta { return NodeTypeMeta{} }
func (e echoInvokable) Execute(ic *InvocationContext) (InvocationResult, error) {
	return InvocationResult{Status: "completed", Outputs: map[string]any{e.out: ic.Inputs[e.in]}}, nil
}

func testRegistry() *MapRegistry {
	r := NewMapRegistry()
	r.Register("num", NodeTypeMeta{}, func(Node) Invokable { return numInvokable{} })
	r.Register("add", NodeTypeMeta{}, func(Node) Invokable { return arithInvokable{op: "add"} })
	r.Register("sub", NodeTypeMeta{}, func(Node) Invokable { return arithInvokable{op: "sub"} })
	r.Register("mul", NodeTypeMeta{}, func(Node) Invokable { return arithInvokable{op: "mul"} })
	r.Register("div", NodeTypeMeta{}, func(Node) Invokable { return arithInvokable{op: "div"} })
	r.Register("cond", NodeTypeMeta{}, func(Node) Invokable { return condInvokable{} })
	r.Register("echoB", NodeTypeMeta{}, func(Node) Invokable { return echoInvokable{in: "input", out: "out"} })
	r.Register("echoD", NodeTypeMeta{}, func(Node) Invokable { return echoInvokable{in: "a", out: "out"} })
	r.Register("collect", NodeTypeMeta{}, func(Node) Invokable { return echoInvokable{in: "items", out: "items"} })
	return r
}

// --- fake collaborators -----------------------------------------------

type fakeResources struct{}

func (fakeResources) Initialize(context.Context, string) error { return nil }
func (fakeResources) CreateNodeContext(ctx context.Context, nodeID, workflowID, orgID string, inputs map[string]any, trigger TriggerPayload, deploymentID string) (*InvocationContext, error) {
	getSecret := func(string) (string, error) { return "", fmt.Errorf("not found") }
	getIntegration := func(string) (any, error) { return nil, fmt.Errorf("not found") }
	return NewInvocationContext(ctx, nodeID, workflowID, orgID, "", inputs, trigger, getSecret, getIntegration, nil), nil
}

type fakeStore struct {
	mu    sync.Mutex
	saves []ExecutionRecord
}

func (s *fakeStore) Save(_ context.Context, record ExecutionRecord) (ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, record)
	return record, nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

type fakeMonitor struct{}

func (fakeMonitor) SendUpdate(context.Context, LevelSnapshot) {}

type fakeCredits struct {
	enough bool
}

func (c fakeCredits) HasEnoughCredits(context.Context, string, int, string) (bool, error) {
	return c.enough, nil
}
func (fakeCredits) RecordUsage(context.Context, string, int) error { return nil }

// fakeSteps memoizes in-memory, matching the real DurableStep contract
// closely enough to exercise exactly-once semantics within one process.
type fakeSteps struct {
	mu    sync.Mutex
	calls map[string]int
	cache map[string]any
}

func newFakeSteps() *fakeSteps {
	return &fakeSteps{calls: make(map[string]int), cache: make(map[string]any)}
}

func (s *fakeSteps) Step(ctx context.Context, executionID, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	key := executionID + "\x00" + name
	s.mu.Lock()
	if v, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[key] = v
	s.calls[key]++
	s.mu.Unlock()
	return v, nil
}

func newTestCoordinator(registry *MapRegistry, store *fakeStore, credits fakeCredits) *Coordinator {
	return &Coordinator{
		Registry:            registry,
		Resources:           fakeResources{},
		Objects:             nil,
		Store:               store,
		Monitor:             fakeMonitor{},
		Credits:             credits,
		Steps:               newFakeSteps(),
		IsAllowed:           AllowAll,
		MaxInFlightPerLevel: 8,
	}
}

func numNode(id string, value float64) Node {
	return Node{ID: id, Type: "num", Inputs: []InputPort{{Name: "value", Type: "number", Default: value}}, Outputs: []OutputPort{{Name: "value", Type: "number"}}}
}

// --- S1: linear chain, success -----------------------------------------

func TestCoordinator_S1_LinearChainSuccess(t *testing.T) {
	wf := Workflow{
		Nodes: []Node{
			numNode("n1", 5),
			numNode("n2", 3),
			{ID: "add", Type: "add", Inputs: []InputPort{{Name: "a", Required: true}, {Name: "b", Required: true}}, Outputs: []OutputPort{{Name: "result"}}},
			{ID: "mul", Type: "mul", Inputs: []InputPort{{Name: "a", Required: true}, {Name: "b", Default: 2.0}}, Outputs: []OutputPort{{Name: "result"}}},
		},
		Edges: []Edge{
			{Source: "n1", SourceOutput: "value", Target: "add", TargetInput: "a"},
			{Source: "n2", SourceOutput: "value", Target: "add", TargetInput: "b"},
			{Source: "add", SourceOutput: "result", Target: "mul", TargetInput: "a"},
		},
	}

	plan, err := Plan(wf)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(plan.Levels))
	}

	store := &fakeStore{}
	coord := newTestCoordinator(testRegistry(), store, fakeCredits{enough: true})
	record, err := coord.Run(context.Background(), ExecutionContext{
		Workflow: wf, OrganizationID: "org", WorkflowID: "wf", ExecutionID: "exec-s1",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (error=%q)", record.Status, record.Error)
	}

	byID := recordsByID(record)
	if byID["add"].Outputs["result"] != 8.0 {
		t.Errorf("expected add.result=8, got %v", byID["add"].Outputs["result"])
	}
	if byID["mul"].Outputs["result"] != 16.0 {
		t.Errorf("expected mul.result=16, got %v", byID["mul"].Outputs["result"])
	}
	if store.saveCount() != 1 {
		t.Errorf("expected exactly one persisted save (P6), got %d", store.saveCount())
	}
}

// --- S2: division by zero -----------------------------------------------

func TestCoordinator_S2_DivisionByZero(t *testing.T) {
	wf := Workflow{
		Nodes: []Node{
			numNode("n", 10),
			numNode("z", 0),
			{ID: "div", Type: "div", Inputs: []InputPort{{Name: "a", Required: true}, {Name: "b", Required: true}}, Outputs: []OutputPort{{Name: "result"}}},
		},
		Edges: []Edge{
			{Source: "n", SourceOutput: "value", Target: "div", TargetInput: "a"},
			{Source: "z", SourceOutput: "value", Target: "div", TargetInput: "b"},
		},
	}

	coord := newTestCoordinator(testRegistry(), &fakeStore{}, fakeCredits{enough: true})
	record, err := coord.Run(context.Background(), ExecutionContext{
		Workflow: wf, OrganizationID: "org", WorkflowID: "wf", ExecutionID: "exec-s2",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.Status != StatusError {
		t.Fatalf("expected error, got %q", record.Status)
	}

	byID := recordsByID(record)
	if byID["n"].Status != "completed" || byID["z"].Status != "completed" {
		t.Errorf("expected n and z completed, got n=%q z=%q", byID["n"].Status, byID["z"].Status)
	}
	if byID["div"].Status != "error" {
		t.Fatalf("expected div errored, got %q", byID["div"].Status)
	}
	if matched, _ := regexp.MatchString(`(?i)division by zero`, byID["div"].Error); !matched {
		t.Errorf("expected division-by-zero message, got %q", byID["div"].Error)
	}
}

// --- S3: cascading skip through conditional branch ----------------------

func TestCoordinator_S3_ConditionalBranchSkip(t *testing.T) {
	wf := Workflow{
		Nodes: []Node{
			{ID: "cond", Type: "cond", Inputs: []InputPort{{Name: "input", Default: true}}, Outputs: []OutputPort{{Name: "true"}, {Name: "false"}}},
			{ID: "B", Type: "echoB", Inputs: []InputPort{{Name: "input"}}, Outputs: []OutputPort{{Name: "out"}}},
			{ID: "C", Type: "echoB", Inputs: []InputPort{{Name: "input"}}, Outputs: []OutputPort{{Name: "out"}}},
			{ID: "D", Type: "echoD", Inputs: []InputPort{{Name: "a"}}, Outputs: []OutputPort{{Name: "out"}}},
		},
		Edges: []Edge{
			{Source: "cond", SourceOutput: "true", Target: "B", TargetInput: "input"},
			{Source: "cond", SourceOutput: "false", Target: "C", TargetInput: "input"},
			{Source: "B", SourceOutput: "out", Target: "D", TargetInput: "a"},
		},
	}

	coord := newTestCoordinator(testRegistry(), &fakeStore{}, fakeCredits{enough: true})
	record, err := coord.Run(context.Background(), ExecutionContext{
		Workflow: wf, OrganizationID: "org", WorkflowID: "wf", ExecutionID: "exec-s3",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	byID := recordsByID(record)
	if byID["B"].Status != "completed" {
		t.Errorf("expected B completed, got %q", byID["B"].Status)
	}
	if byID["C"].Status != "skipped" || byID["C"].SkipReason != SkipConditionalBranch {
		t.Errorf("expected C skipped conditional_branch, got status=%q reason=%q", byID["C"].Status, byID["C"].SkipReason)
	}
	if len(byID["C"].BlockedBy) != 1 || byID["C"].BlockedBy[0] != "cond" {
		t.Errorf("expected C blockedBy=[cond], got %v", byID["C"].BlockedBy)
	}
	if byID["D"].Status != "completed" {
		t.Errorf("expected D completed (depends only on B), got %q", byID["D"].Status)
	}
}

// --- S4: missing required upstream cascades to skip ---------------------

func TestCoordinator_S4_MissingRequiredInputCascades(t *testing.T) {
	wf := Workflow{
		Nodes: []Node{
			{ID: "addition", Type: "add", Inputs: []InputPort{{Name: "a", Default: 1.0}, {Name: "b", Default: 2.0}}, Outputs: []OutputPort{{Name: "result"}}},
			{ID: "subtraction", Type: "sub", Inputs: []InputPort{{Name: "a"}, {Name: "b", Required: true}}, Outputs: []OutputPort{{Name: "result"}}},
			{ID: "multiplication", Type: "mul", Inputs: []InputPort{{Name: "a"}, {Name: "b", Default: 1.0}}, Outputs: []OutputPort{{Name: "result"}}},
		},
		Edges: []Edge{
			{Source: "addition", SourceOutput: "result", Target: "subtraction", TargetInput: "a"},
			{Source: "subtraction", SourceOutput: "result", Target: "multiplication", TargetInput: "a"},
		},
	}

	coord := newTestCoordinator(testRegistry(), &fakeStore{}, fakeCredits{enough: true})
	record, err := coord.Run(context.Background(), ExecutionContext{
		Workflow: wf, OrganizationID: "org", WorkflowID: "wf", ExecutionID: "exec-s4",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.Status != StatusError {
		t.Fatalf("expected error, got %q", record.Status)
	}

	byID := recordsByID(record)
	if byID["addition"].Status != "completed" {
		t.Errorf("expected addition completed, got %q", byID["addition"].Status)
	}
	if byID["subtraction"].Status != "error" || byID["subtraction"].Error != "required input 'b' missing" {
		t.Errorf("expected subtraction error, got status=%q error=%q", byID["subtraction"].Status, byID["subtraction"].Error)
	}
	if byID["multiplication"].Status != "skipped" || byID["multiplication"].SkipReason != SkipUpstreamFailure {
		t.Errorf("expected multiplication skipped upstream_failure, got status=%q reason=%q", byID["multiplication"].Status, byID["multiplication"].SkipReason)
	}
	if len(byID["multiplication"].BlockedBy) != 1 || byID["multiplication"].BlockedBy[0] != "subtraction" {
		t.Errorf("expected blockedBy=[subtraction], got %v", byID["multiplication"].BlockedBy)
	}
}

// --- S5: fan-in with repeated input --------------------------------------

func TestCoordinator_S5_RepeatedFanIn(t *testing.T) {
	strNode := func(id, value string) Node {
		return Node{ID: id, Type: "num", Inputs: []InputPort{{Name: "value", Default: value}}, Outputs: []OutputPort{{Name: "value"}}}
	}
	wf := Workflow{
		Nodes: []Node{
			strNode("p1", "x"),
			strNode("p2", "y"),
			{ID: "target", Type: "collect", Inputs: []InputPort{{Name: "items", Repeated: true}}, Outputs: []OutputPort{{Name: "items", Repeated: true}}},
		},
		Edges: []Edge{
			{Source: "p1", SourceOutput: "value", Target: "target", TargetInput: "items"},
			{Source: "p2", SourceOutput: "value", Target: "target", TargetInput: "items"},
		},
	}

	coord := newTestCoordinator(testRegistry(), &fakeStore{}, fakeCredits{enough: true})
	record, err := coord.Run(context.Background(), ExecutionContext{
		Workflow: wf, OrganizationID: "org", WorkflowID: "wf", ExecutionID: "exec-s5",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", record.Status)
	}

	byID := recordsByID(record)
	items, ok := byID["target"].Outputs["items"].([]any)
	if !ok || len(items) != 2 || items[0] != "x" || items[1] != "y" {
		t.Fatalf("expected wired list [x y], got %#v", byID["target"].Outputs["items"])
	}
}

// --- S6: credit exhaustion -------------------------------------------------

func TestCoordinator_S6_CreditExhaustion(t *testing.T) {
	wf := Workflow{Nodes: []Node{numNode("n1", 5)}}

	store := &fakeStore{}
	coord := newTestCoordinator(testRegistry(), store, fakeCredits{enough: false})
	record, err := coord.Run(context.Background(), ExecutionContext{
		Workflow: wf, OrganizationID: "org", WorkflowID: "wf", ExecutionID: "exec-s6",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.Status != StatusExhausted {
		t.Fatalf("expected exhausted, got %q", record.Status)
	}
	if record.Error != "Insufficient compute credits" {
		t.Errorf("unexpected error message: %q", record.Error)
	}
	for _, ne := range record.NodeExecutions {
		if ne.Status != "idle" {
			t.Errorf("expected node %q idle, got %q", ne.NodeID, ne.Status)
		}
	}
	if record.EndedAt.IsZero() {
		t.Error("expected endedAt to be set")
	}
	if store.saveCount() != 1 {
		t.Errorf("expected ExecutionStore.Save called exactly once, got %d", store.saveCount())
	}
}

// --- misc coordinator behaviors -----------------------------------------

func TestCoordinator_ValidationFailureIsTerminalNoNodesRun(t *testing.T) {
	wf := Workflow{
		Nodes: []Node{numNode("a", 1)},
		Edges: []Edge{{Source: "a", SourceOutput: "value", Target: "a", TargetInput: "value"}},
	}
	store := &fakeStore{}
	coord := newTestCoordinator(testRegistry(), store, fakeCredits{enough: true})
	record, err := coord.Run(context.Background(), ExecutionContext{
		Workflow: wf, OrganizationID: "org", WorkflowID: "wf", ExecutionID: "exec-bad",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.Status != StatusError {
		t.Fatalf("expected error status on cycle, got %q", record.Status)
	}
	if len(record.NodeExecutions) != 0 {
		t.Errorf("expected no node executions for a fatal validation failure, got %d", len(record.NodeExecutions))
	}
}

func TestCoordinator_DevModeBypassesCreditGate(t *testing.T) {
	wf := Workflow{Nodes: []Node{numNode("a", 1)}}
	coord := newTestCoordinator(testRegistry(), &fakeStore{}, fakeCredits{enough: false})
	coord.DevMode = true

	record, err := coord.Run(context.Background(), ExecutionContext{
		Workflow: wf, OrganizationID: "org", WorkflowID: "wf", ExecutionID: "exec-dev",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("expected dev mode to bypass exhaustion, got %q", record.Status)
	}
}

func TestCoordinator_EmptyWorkflowCompletes(t *testing.T) {
	coord := newTestCoordinator(testRegistry(), &fakeStore{}, fakeCredits{enough: true})
	record, err := coord.Run(context.Background(), ExecutionContext{
		Workflow: Workflow{}, OrganizationID: "org", WorkflowID: "wf", ExecutionID: "exec-empty",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("expected completed for empty workflow, got %q", record.Status)
	}
}

func recordsByID(record ExecutionRecord) map[string]NodeExecutionRecord {
	m := make(map[string]NodeExecutionRecord, len(record.NodeExecutions))
	for _, ne := range record.NodeExecutions {
		m[ne.NodeID] = ne
	}
	return m
}
