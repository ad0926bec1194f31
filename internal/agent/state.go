package agent

import (
	"errors"
	"fmt"
	"strings"

	"sqlagent-backend/internal/sqltext"
)

var (
	// ErrMissingState is returned when a step runs before the step that
	// produces its input.
	ErrMissingState = errors.New("missing pipeline state")
	// ErrEmptyQuestion is returned by Run for a blank question.
	ErrEmptyQuestion = errors.New("question is required")
)

// PassSentinel is the rendered inspection value that lets a run proceed to
// execution.
const PassSentinel = "continue"

const (
	oversizeFormat          = "SQL执行结果数据量过大：%d"
	executionErrorPrefix    = "SQL执行失败，报错信息："
	noStatementsMessage     = "未能从输出中解析出以英文分号结尾的SQL语句，请直接输出完整的SQL语句，每条语句以英文分号结尾。"
	noRelevantTablesMessage = "未能找到与问题相关的数据表。"
	exhaustedFormat         = "经过%d次尝试仍未生成可成功执行的SQL语句。最后一次反馈：%s"
)

// Verdict classifies a pre-inspection pass over generated SQL.
type Verdict int

const (
	VerdictPass Verdict = iota
	VerdictOversize
	VerdictExecutionError
	VerdictNoStatements
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictOversize:
		return "oversize"
	case VerdictExecutionError:
		return "execution_error"
	case VerdictNoStatements:
		return "no_statements"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Inspection is the result of running every generated statement once before
// the final execution.
type Inspection struct {
	Verdict Verdict
	// Oversized maps each statement whose serialized result exceeded the
	// size cap to a message carrying the actual size.
	Oversized map[string]string
	// Message describes an execution error or missing statements.
	Message string
}

// Render returns the inspection as the text fed back to the model: the pass
// sentinel, the JSON oversize map, or the error message.
func (i *Inspection) Render() string {
	switch i.Verdict {
	case VerdictPass:
		return PassSentinel
	case VerdictOversize:
		out, err := sqltext.Marshal(i.Oversized)
		if err != nil {
			return fmt.Sprint(i.Oversized)
		}
		return out
	default:
		return i.Message
	}
}

// ExecutionOutcome classifies the final execution of generated SQL.
type ExecutionOutcome int

const (
	ExecutionSucceeded ExecutionOutcome = iota
	ExecutionFailed
	ExecutionEmpty
)

func (o ExecutionOutcome) String() string {
	switch o {
	case ExecutionSucceeded:
		return "succeeded"
	case ExecutionFailed:
		return "failed"
	case ExecutionEmpty:
		return "empty"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Execution holds the final query result, or the failure that prevents one.
// A failed execution never carries a Response.
type Execution struct {
	Outcome  ExecutionOutcome
	Response string
	Message  string
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeSucceeded         Outcome = "succeeded"
	OutcomeNoRelevantTables  Outcome = "no_relevant_tables"
	OutcomeAttemptsExhausted Outcome = "attempts_exhausted"
)

// State is owned by a single run. Fields are filled in pipeline order.
type State struct {
	Question string

	// Catalog is the JSON table catalog and TableNames its first column.
	Catalog    string
	TableNames []string

	// Tables are the catalog tables chosen for the question and Schema the
	// JSON descriptors built for them.
	Tables []string
	Schema string

	SQL        string
	Attempts   int
	Inspection *Inspection
	Execution  *Execution

	Outcome  Outcome
	Response string
}

// IsPreInspectionPass reports whether the latest inspection renders as the
// pass sentinel.
func IsPreInspectionPass(s *State) bool {
	return s.Inspection != nil && s.Inspection.Render() == PassSentinel
}

// IsDataPresent reports whether the latest execution produced a non-blank
// response. Execution failures leave the response empty, so unlike a plain
// string check on an error message they never count as data.
func IsDataPresent(s *State) bool {
	return s.Execution != nil && strings.TrimSpace(s.Execution.Response) != ""
}

// retryFeedback describes why the previous attempt was rejected, or returns
// "" on the first attempt.
func retryFeedback(s *State) string {
	if s.Execution != nil {
		switch s.Execution.Outcome {
		case ExecutionFailed:
			return s.Execution.Message
		case ExecutionEmpty:
			return noStatementsMessage
		}
	}
	if s.Inspection != nil && s.Inspection.Verdict != VerdictPass {
		return s.Inspection.Render()
	}
	return ""
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s", ErrMissingState, name)
	}
	return nil
}
