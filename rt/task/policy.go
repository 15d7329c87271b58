package task

import (
	"fmt"
	"strings"
)

// Blocking is the scope in which a task type refuses concurrent execution.
type Blocking int

const (
	// BlockNone never blocks by itself.
	BlockNone Blocking = iota
	// BlockApplication blocks against every active task.
	BlockApplication
	// BlockCategory blocks against tasks that declare the same category.
	BlockCategory
	// BlockClass blocks against tasks of the same type.
	BlockClass
)

func (b Blocking) String() string {
	switch b {
	case BlockNone:
		return "none"
	case BlockApplication:
		return "application"
	case BlockCategory:
		return "category"
	case BlockClass:
		return "class"
	default:
		return fmt.Sprintf("Blocking(%d)", int(b))
	}
}

// ParseBlocking parses the String form of a Blocking (case-insensitive). Empty means none.
func ParseBlocking(s string) (Blocking, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return BlockNone, nil
	case "application", "app":
		return BlockApplication, nil
	case "category":
		return BlockCategory, nil
	case "class", "type":
		return BlockClass, nil
	default:
		return BlockNone, fmt.Errorf("task: unknown blocking %q", s)
	}
}

// Policy is the blocking declaration of a task type.
//
// Category is independent of Blocking: a non-blocking type may still declare a category and
// is then blocked by category-blocking types sharing it.
type Policy struct {
	Blocking Blocking
	Category string
}

// ApplicationBlocking returns a policy that blocks against all active tasks.
func ApplicationBlocking() Policy { return Policy{Blocking: BlockApplication} }

// CategoryBlocking returns a policy that blocks against tasks declaring category.
func CategoryBlocking(category string) Policy {
	return Policy{Blocking: BlockCategory, Category: category}
}

// ClassBlocking returns a policy that blocks against other tasks of the same type.
func ClassBlocking() Policy { return Policy{Blocking: BlockClass} }

func (p Policy) String() string {
	if p.Category == "" {
		return p.Blocking.String()
	}
	return p.Blocking.String() + "(" + p.Category + ")"
}
