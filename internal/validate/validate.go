// Package validate screens SQL statements before they reach the database.
//
// Classification is done on PostgreSQL's actual parse tree via pg_query, so
// keyword games (comments, casing, whitespace) cannot smuggle a statement past
// the checker. Statement categories form a closed enum; adding a category is a
// compile-time change, not a runtime string match.
package validate

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Mode selects how strict statement screening is.
type Mode int

const (
	// ModeReadOnly permits only read statements (SELECT, EXPLAIN, SHOW).
	ModeReadOnly Mode = iota
	// ModeStandard permits reads and guarded DML plus session-scoped state
	// (temp tables, SET). DDL, administrative, and destructive statements
	// are blocked.
	ModeStandard
	// ModeUnrestricted permits everything a single statement can express.
	// Injection heuristics still run and annotate warnings.
	ModeUnrestricted
)

// ParseMode parses a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read_only", "readonly", "read-only":
		return ModeReadOnly, nil
	case "standard", "":
		return ModeStandard, nil
	case "unrestricted":
		return ModeUnrestricted, nil
	}
	return ModeStandard, fmt.Errorf("validate: unknown mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModeReadOnly:
		return "read_only"
	case ModeStandard:
		return "standard"
	case ModeUnrestricted:
		return "unrestricted"
	}
	return "unknown"
}

// Class is the statement category derived from the parse tree.
type Class int

const (
	ClassSelect Class = iota
	ClassDML
	ClassDDL
	ClassAdmin
	ClassTxControl
	ClassUtility
)

func (c Class) String() string {
	switch c {
	case ClassSelect:
		return "select"
	case ClassDML:
		return "dml"
	case ClassDDL:
		return "ddl"
	case ClassAdmin:
		return "admin"
	case ClassTxControl:
		return "tx_control"
	case ClassUtility:
		return "utility"
	}
	return "unknown"
}

// Action is the screening outcome for a statement.
type Action int

const (
	ActionAllow Action = iota
	ActionWarn
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionWarn:
		return "warn"
	case ActionBlock:
		return "block"
	}
	return "unknown"
}

// Verdict is the result of classifying one statement.
type Verdict struct {
	Action   Action
	Class    Class
	ReadOnly bool
	// Reasons explains a Warn or Block outcome. Empty for plain Allow.
	Reasons []string
}

// Config configures a Checker.
type Config struct {
	Mode Mode
	// InjectionAction is applied when a heuristic injection pattern matches:
	// ActionWarn (default) annotates, ActionBlock rejects.
	InjectionAction Action
}

// Checker classifies and screens statements. Safe for concurrent use.
type Checker struct {
	cfg Config
}

// NewChecker creates a Checker with the given config.
func NewChecker(cfg Config) *Checker {
	if cfg.InjectionAction == ActionAllow {
		cfg.InjectionAction = ActionWarn
	}
	return &Checker{cfg: cfg}
}

// Mode returns the configured validation mode.
func (c *Checker) Mode() Mode { return c.cfg.Mode }

// Classify screens a statement. Blocked statements must never be sent to the
// database; Warn statements may be sent with their reasons surfaced to the
// caller.
func (c *Checker) Classify(sql string) Verdict {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return blocked(ClassUtility, fmt.Sprintf("SQL parse error: %v", err))
	}
	if len(result.Stmts) == 0 {
		return blocked(ClassUtility, "empty statement")
	}
	if len(result.Stmts) > 1 {
		// Stacked statements are the classic injection vehicle; this rule
		// holds in every mode.
		return blocked(ClassUtility, fmt.Sprintf("multi-statement input is not allowed: found %d statements", len(result.Stmts)))
	}

	node := result.Stmts[0].Stmt
	v := c.classifyNode(node)

	if v.Action != ActionBlock {
		if reasons := scanInjectionHeuristics(sql); len(reasons) > 0 {
			if c.cfg.InjectionAction == ActionBlock {
				v.Action = ActionBlock
			} else if v.Action == ActionAllow {
				v.Action = ActionWarn
			}
			v.Reasons = append(v.Reasons, reasons...)
		}
	}
	return v
}

// Cacheable reports whether results for this statement may be served from the
// result cache: a single read statement with no session or transaction
// dependence.
func (c *Checker) Cacheable(sql string) bool {
	result, err := pg_query.Parse(sql)
	if err != nil || len(result.Stmts) != 1 {
		return false
	}
	switch result.Stmts[0].Stmt.Node.(type) {
	case *pg_query.Node_SelectStmt, *pg_query.Node_ExplainStmt:
		return true
	}
	return false
}

func blocked(class Class, reason string) Verdict {
	return Verdict{Action: ActionBlock, Class: class, Reasons: []string{reason}}
}

func (c *Checker) classifyNode(node *pg_query.Node) Verdict {
	class, readOnly := classOf(node)
	v := Verdict{Action: ActionAllow, Class: class, ReadOnly: readOnly}

	switch c.cfg.Mode {
	case ModeReadOnly:
		if class != ClassSelect {
			return blocked(class, fmt.Sprintf("%s statements are not allowed in read_only mode", strings.ToUpper(class.String())))
		}
		return v

	case ModeStandard:
		return c.classifyStandard(node, v)

	case ModeUnrestricted:
		// Everything single-statement goes through. Transaction control is
		// still refused because the gateway owns transaction lifecycles.
		if class == ClassTxControl {
			return blocked(class, "transaction control statements are not allowed: use begin_transaction / commit_transaction tools")
		}
		return v
	}
	return v
}

func (c *Checker) classifyStandard(node *pg_query.Node, v Verdict) Verdict {
	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt, *pg_query.Node_ExplainStmt, *pg_query.Node_VariableShowStmt:
		return v

	case *pg_query.Node_InsertStmt:
		return v
	case *pg_query.Node_UpdateStmt:
		if n.UpdateStmt.WhereClause == nil {
			return blocked(ClassDML, "UPDATE without WHERE clause is not allowed")
		}
		return v
	case *pg_query.Node_DeleteStmt:
		if n.DeleteStmt.WhereClause == nil {
			return blocked(ClassDML, "DELETE without WHERE clause is not allowed")
		}
		return v
	case *pg_query.Node_MergeStmt:
		v.Action = ActionWarn
		v.Reasons = append(v.Reasons, "MERGE bypasses the WHERE-clause guards applied to UPDATE and DELETE")
		return v
	case *pg_query.Node_CopyStmt:
		if n.CopyStmt.IsFrom {
			return blocked(ClassDML, "COPY FROM is not allowed: bulk loads must go through the bulk load tool")
		}
		return blocked(ClassDML, "COPY TO is not allowed: can exfiltrate table contents")

	case *pg_query.Node_CreateStmt:
		if isTempRelation(n.CreateStmt.GetRelation()) {
			// Temporary tables are session-scoped state, the reason pinned
			// sessions exist.
			return v
		}
		return blocked(ClassDDL, "CREATE TABLE is not allowed: DDL is blocked in standard mode (temporary tables are permitted)")
	case *pg_query.Node_VariableSetStmt:
		return v

	case *pg_query.Node_DropStmt:
		return blocked(ClassDDL, "DROP statements are not allowed in standard mode")
	case *pg_query.Node_DropdbStmt:
		return blocked(ClassAdmin, "DROP DATABASE is not allowed")
	case *pg_query.Node_TruncateStmt:
		return blocked(ClassDDL, "TRUNCATE is not allowed in standard mode")
	case *pg_query.Node_AlterSystemStmt:
		return blocked(ClassAdmin, "ALTER SYSTEM is not allowed: modifies server-level configuration")
	case *pg_query.Node_GrantStmt, *pg_query.Node_GrantRoleStmt:
		return blocked(ClassAdmin, "GRANT/REVOKE is not allowed: modifies database permissions")
	case *pg_query.Node_CreateRoleStmt, *pg_query.Node_AlterRoleStmt, *pg_query.Node_DropRoleStmt, *pg_query.Node_AlterRoleSetStmt:
		return blocked(ClassAdmin, "role management is not allowed")
	case *pg_query.Node_DoStmt:
		return blocked(ClassUtility, "DO blocks are not allowed: can execute arbitrary SQL bypassing screening")
	case *pg_query.Node_PrepareStmt, *pg_query.Node_ExecuteStmt, *pg_query.Node_DeallocateStmt:
		return blocked(ClassUtility, "PREPARE/EXECUTE is not allowed: prepared statements bypass screening at execution time")
	case *pg_query.Node_LockStmt:
		return blocked(ClassUtility, "LOCK TABLE is not allowed: can hold exclusive locks indefinitely")
	case *pg_query.Node_DiscardStmt:
		return blocked(ClassUtility, "DISCARD is not allowed: resets session state owned by the gateway")
	case *pg_query.Node_TransactionStmt:
		return blocked(ClassTxControl, "transaction control statements are not allowed: use begin_transaction / commit_transaction tools")
	}

	class, _ := classOf(node)
	switch class {
	case ClassDDL:
		return blocked(ClassDDL, "DDL statements are not allowed in standard mode")
	case ClassAdmin:
		return blocked(ClassAdmin, "administrative statements are not allowed in standard mode")
	case ClassUtility:
		return blocked(ClassUtility, "utility statements are not allowed in standard mode")
	}
	return v
}

// classOf maps a parse node onto the closed statement-class enum.
func classOf(node *pg_query.Node) (Class, bool) {
	switch node.Node.(type) {
	case *pg_query.Node_SelectStmt, *pg_query.Node_ExplainStmt, *pg_query.Node_VariableShowStmt:
		return ClassSelect, true

	case *pg_query.Node_InsertStmt, *pg_query.Node_UpdateStmt, *pg_query.Node_DeleteStmt,
		*pg_query.Node_MergeStmt, *pg_query.Node_CopyStmt:
		return ClassDML, false

	case *pg_query.Node_CreateStmt, *pg_query.Node_AlterTableStmt, *pg_query.Node_IndexStmt,
		*pg_query.Node_DropStmt, *pg_query.Node_TruncateStmt, *pg_query.Node_ViewStmt,
		*pg_query.Node_CreateSchemaStmt, *pg_query.Node_CreateSeqStmt, *pg_query.Node_AlterSeqStmt,
		*pg_query.Node_CreateTableAsStmt, *pg_query.Node_RenameStmt, *pg_query.Node_CreateFunctionStmt,
		*pg_query.Node_CreateTrigStmt, *pg_query.Node_RuleStmt, *pg_query.Node_CommentStmt:
		return ClassDDL, false

	case *pg_query.Node_AlterSystemStmt, *pg_query.Node_GrantStmt, *pg_query.Node_GrantRoleStmt,
		*pg_query.Node_CreateRoleStmt, *pg_query.Node_AlterRoleStmt, *pg_query.Node_DropRoleStmt,
		*pg_query.Node_AlterRoleSetStmt, *pg_query.Node_CreateExtensionStmt, *pg_query.Node_AlterExtensionStmt,
		*pg_query.Node_VacuumStmt, *pg_query.Node_ClusterStmt, *pg_query.Node_ReindexStmt,
		*pg_query.Node_DropdbStmt, *pg_query.Node_CreatedbStmt, *pg_query.Node_RefreshMatViewStmt:
		return ClassAdmin, false

	case *pg_query.Node_TransactionStmt:
		return ClassTxControl, false
	}
	return ClassUtility, false
}

func isTempRelation(rel *pg_query.RangeVar) bool {
	return rel != nil && rel.Relpersistence == "t"
}
