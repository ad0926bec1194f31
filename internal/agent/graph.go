package agent

import (
	"context"
	"fmt"
)

// Node is a step of the pipeline graph.
type Node int

const (
	NodeListTables Node = iota
	NodeGetTableSchema
	NodeGenerateSQL
	NodePreInspect
	NodeExecute
	NodeEnd
)

func (n Node) String() string {
	switch n {
	case NodeListTables:
		return "listTables"
	case NodeGetTableSchema:
		return "getTableSchema"
	case NodeGenerateSQL:
		return "generateSQL"
	case NodePreInspect:
		return "preInspect"
	case NodeExecute:
		return "execute"
	case NodeEnd:
		return "end"
	default:
		return fmt.Sprintf("node(%d)", int(n))
	}
}

type stepFunc func(ctx context.Context, s *State) error

func (a *Agent) stepFor(n Node) stepFunc {
	switch n {
	case NodeListTables:
		return a.listTables
	case NodeGetTableSchema:
		return a.getTableSchema
	case NodeGenerateSQL:
		return a.generateSQL
	case NodePreInspect:
		return a.preInspect
	case NodeExecute:
		return a.execute
	default:
		panic(fmt.Sprintf("agent: no step for %s", n))
	}
}

// next returns the node that follows n given the state it produced.
func next(n Node, s *State) Node {
	switch n {
	case NodeListTables:
		return NodeGetTableSchema
	case NodeGetTableSchema:
		return decideAfterSchema(s)
	case NodeGenerateSQL:
		return NodePreInspect
	case NodePreInspect:
		return decideAfterInspection(s)
	case NodeExecute:
		return decideAfterExecution(s)
	default:
		panic(fmt.Sprintf("agent: no edge from %s", n))
	}
}

func decideAfterSchema(s *State) Node {
	if len(s.Tables) == 0 {
		return NodeEnd
	}
	return NodeGenerateSQL
}

// decideAfterInspection sends passing SQL to execution and every other
// verdict back to generation, where the verdict becomes feedback.
func decideAfterInspection(s *State) Node {
	switch s.Inspection.Verdict {
	case VerdictPass:
		return NodeExecute
	case VerdictOversize, VerdictExecutionError, VerdictNoStatements:
		return NodeGenerateSQL
	default:
		panic(fmt.Sprintf("agent: unhandled inspection verdict %s", s.Inspection.Verdict))
	}
}

// decideAfterExecution ends the run only on a successful execution. A
// failed execution is retried rather than returned as the answer.
func decideAfterExecution(s *State) Node {
	switch s.Execution.Outcome {
	case ExecutionSucceeded:
		return NodeEnd
	case ExecutionFailed, ExecutionEmpty:
		return NodeGenerateSQL
	default:
		panic(fmt.Sprintf("agent: unhandled execution outcome %s", s.Execution.Outcome))
	}
}
